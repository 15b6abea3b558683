package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/ghostlog/telemetry"
)

// TwitchOptions configures the Twitch IRC transport. Without a username and token the
// client logs in anonymously (read-only justinfan login).
type TwitchOptions struct {
	Username   string
	OAuthToken string
	// Address overrides the IRC server (host:port). TLS stays enabled.
	Address string
	Logger  *slog.Logger
}

// TwitchTransport adapts a go-twitch-irc client to the recorder: every line the client
// dispatches to a callback is re-decoded from its raw form into an Event and handed to Events
// one at a time. Connection, TLS, capability negotiation, PING handling and reconnects stay
// inside the client.
type TwitchTransport struct {
	client    *twitch.Client
	logger    *slog.Logger
	events    chan Event
	connected atomic.Bool
	// pingSent is the unix nano time of the unanswered keepalive PING, 0 when none is pending.
	pingSent atomic.Int64
	now      func() time.Time

	mu     sync.RWMutex
	done   <-chan struct{}
	closed bool
}

// NewTwitchTransport builds the transport. Nothing connects until Run.
func NewTwitchTransport(opts TwitchOptions) *TwitchTransport {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var client *twitch.Client
	if opts.Username == "" || opts.OAuthToken == "" {
		client = twitch.NewAnonymousClient()
	} else {
		client = twitch.NewClient(opts.Username, opts.OAuthToken)
	}
	if opts.Address != "" {
		client.IrcAddress = opts.Address
	}
	client.Capabilities = []string{twitch.TagsCapability, twitch.CommandsCapability}

	t := &TwitchTransport{
		client: client,
		logger: logger.With(slog.String("component", "twitch")),
		events: make(chan Event),
		now:    time.Now,
	}

	client.OnConnect(t.onConnect)
	client.OnPingSent(t.onPingSent)
	client.OnReconnectMessage(func(m twitch.ReconnectMessage) {
		t.onReconnect()
		t.forward(m.Raw)
	})
	client.OnPongMessage(func(m twitch.PongMessage) {
		t.onPong()
		t.forward(m.Raw)
	})
	client.OnPrivateMessage(func(m twitch.PrivateMessage) { t.forward(m.Raw) })
	client.OnClearChatMessage(func(m twitch.ClearChatMessage) { t.forward(m.Raw) })
	client.OnClearMessage(func(m twitch.ClearMessage) { t.forward(m.Raw) })
	client.OnRoomStateMessage(func(m twitch.RoomStateMessage) { t.forward(m.Raw) })
	client.OnUserNoticeMessage(func(m twitch.UserNoticeMessage) { t.forward(m.Raw) })
	client.OnNoticeMessage(func(m twitch.NoticeMessage) { t.forward(m.Raw) })
	client.OnUserStateMessage(func(m twitch.UserStateMessage) { t.forward(m.Raw) })
	client.OnGlobalUserStateMessage(func(m twitch.GlobalUserStateMessage) { t.forward(m.Raw) })
	client.OnWhisperMessage(func(m twitch.WhisperMessage) { t.forward(m.Raw) })
	client.OnUserJoinMessage(func(m twitch.UserJoinMessage) { t.forward(m.Raw) })
	client.OnUserPartMessage(func(m twitch.UserPartMessage) { t.forward(m.Raw) })
	client.OnSelfJoinMessage(func(m twitch.UserJoinMessage) { t.forward(m.Raw) })
	client.OnSelfPartMessage(func(m twitch.UserPartMessage) { t.forward(m.Raw) })
	client.OnNamesMessage(func(m twitch.NamesMessage) { t.forward(m.Raw) })
	client.OnPingMessage(func(m twitch.PingMessage) { t.forward(m.Raw) })
	client.OnUnsetMessage(func(m twitch.RawMessage) { t.forward(m.Raw) })

	return t
}

func (t *TwitchTransport) onConnect() {
	t.pingSent.Store(0)
	t.setConnected(true)
	t.logger.Info("twitch chat connected")
}

func (t *TwitchTransport) onReconnect() {
	t.setConnected(false)
	t.logger.Info("twitch requested reconnect")
}

func (t *TwitchTransport) onPingSent() {
	t.pingSent.CompareAndSwap(0, t.now().UnixNano())
}

func (t *TwitchTransport) onPong() {
	t.pingSent.Store(0)
}

func (t *TwitchTransport) setConnected(v bool) {
	t.connected.Store(v)
	telemetry.SetConnected(v)
}

// Events yields decoded events. It is closed when Run returns.
func (t *TwitchTransport) Events() <-chan Event { return t.events }

// Connected reports whether the client is logged in. It turns false when Twitch asks for a
// reconnect or a keepalive PING stays unanswered past the client's PongTimeout, and true again
// after the next successful login. A connection dropped without either is reported as
// connected until the client's redial finishes or fails.
func (t *TwitchTransport) Connected() bool {
	if !t.connected.Load() {
		return false
	}
	sent := t.pingSent.Load()
	return sent == 0 || t.now().Sub(time.Unix(0, sent)) <= t.client.PongTimeout
}

// Run joins the initial channels and blocks on the connection until ctx is canceled or the
// client gives up. Cancellation is a clean shutdown and returns nil.
func (t *TwitchTransport) Run(ctx context.Context, channels []string) error {
	t.mu.Lock()
	t.done = ctx.Done()
	t.mu.Unlock()

	if len(channels) > 0 {
		t.client.Join(bareNames(channels)...)
	}
	stop := context.AfterFunc(ctx, func() {
		if err := t.client.Disconnect(); err != nil {
			t.logger.Debug("twitch disconnect", slog.Any("err", err))
		}
	})
	defer stop()

	err := t.client.Connect()
	t.setConnected(false)
	t.closeEvents()

	if err == nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

// Join joins channels ("#name"). The client batches them into comma-joined JOIN lines and
// rejoins them after a reconnect.
func (t *TwitchTransport) Join(channels ...string) error {
	t.client.Join(bareNames(channels)...)
	return nil
}

// Part leaves channels ("#name") and stops rejoining them after a reconnect. The client only
// departs one channel per call, so each channel goes out as its own PART line.
func (t *TwitchTransport) Part(channels ...string) error {
	for _, ch := range bareNames(channels) {
		t.client.Depart(ch)
	}
	return nil
}

func (t *TwitchTransport) forward(raw string) {
	ev, err := ParseLine(raw)
	if err != nil {
		t.logger.Warn("dropping undecodable line", slog.String("raw", raw), slog.Any("err", err))
		return
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *TwitchTransport) closeEvents() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
}

// bareNames strips the leading "#" the client adds itself.
func bareNames(channels []string) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = strings.TrimPrefix(ch, "#")
	}
	return out
}
