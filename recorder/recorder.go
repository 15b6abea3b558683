// Package recorder runs the single event loop that turns transport events into log lines and
// applies configuration reloads between events.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/ghostlog/chat"
	"github.com/onnwee/ghostlog/config"
	"github.com/onnwee/ghostlog/logfile"
	"github.com/onnwee/ghostlog/record"
	"github.com/onnwee/ghostlog/telemetry"
)

// Transport accepts channel membership directives. Channels are normalized ("#name").
type Transport interface {
	Join(channels ...string) error
	Part(channels ...string) error
}

// Loader produces a channel set and the log files for it.
type Loader interface {
	Load(ctx context.Context) (config.ChannelSet, *logfile.Manager, error)
}

// Sink receives every record after it was appended to its log file.
type Sink interface {
	Store(ctx context.Context, channel string, rec record.Record) error
}

// State is the reload controller state.
type State string

const (
	StateIdle      State = "idle"
	StateReloading State = "reloading"
)

// Status is an immutable snapshot of the recorder, safe to read from any goroutine.
type Status struct {
	Channels       []string   `json:"channels"`
	State          State      `json:"state"`
	LastReload     *time.Time `json:"last_reload,omitempty"`
	Reloads        int        `json:"reloads"`
	ReloadFailures int        `json:"reload_failures"`
	LastError      string     `json:"last_error,omitempty"`
	Connected      bool       `json:"connected"`
}

// Options are the optional collaborators of a Recorder.
type Options struct {
	Logger *slog.Logger
	// Archive, when set, mirrors every written record.
	Archive Sink
	// Connected reports transport state for Status.
	Connected func() bool
	Now       func() time.Time
}

// Recorder owns the live channel set and log files. Everything except Status and Channels
// must be called from the goroutine running Run.
type Recorder struct {
	loader    Loader
	transport Transport
	archive   Sink
	logger    *slog.Logger
	connected func() bool
	now       func() time.Time

	channels config.ChannelSet
	files    *logfile.Manager

	reloads    int
	failures   int
	lastReload time.Time
	lastErr    string
	status     atomic.Pointer[Status]
}

// New builds a recorder around the configuration produced by the startup load.
func New(loader Loader, transport Transport, channels config.ChannelSet, files *logfile.Manager, opts Options) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := &Recorder{
		loader:    loader,
		transport: transport,
		archive:   opts.Archive,
		logger:    logger.With(slog.String("component", "recorder")),
		connected: opts.Connected,
		now:       now,
		channels:  channels,
		files:     files,
	}
	telemetry.SetChannels(len(channels))
	r.publish(StateIdle)
	return r
}

// Run handles events and reload triggers one at a time until events is closed or ctx is
// canceled. Per-event and per-reload errors are reported and never stop the loop.
func (r *Recorder) Run(ctx context.Context, events <-chan chat.Event, reloads <-chan struct{}) error {
	r.logger.Info("recorder started", slog.Any("channels", []string(r.channels)))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("recorder stopping", slog.Any("reason", context.Cause(ctx)))
			return nil
		case ev, ok := <-events:
			if !ok {
				r.logger.Info("transport stream ended")
				return nil
			}
			_ = r.HandleEvent(ctx, ev)
		case <-reloads:
			_ = r.Reload(ctx)
		}
	}
}

// HandleEvent classifies ev and appends the resulting record to its channel's log file, or
// prints it when it is not a persisted command. The returned error has already been logged.
func (r *Recorder) HandleEvent(ctx context.Context, ev chat.Event) error {
	telemetry.CountEvent(ev.Command)

	c, err := chat.Classify(ev)
	if err != nil {
		telemetry.CountError(KindMalformed.String())
		r.logger.Warn("malformed event", slog.String("command", ev.Command), slog.Any("params", ev.Params), slog.Any("err", err))
		r.print(ctx, ev)
		return err
	}
	if c.Action == chat.ActionPrint {
		r.print(ctx, ev)
		return nil
	}

	text := record.Encode(c.Record)
	if err := r.files.Write(c.Channel, text); err != nil {
		kind := ClassifyError(err)
		telemetry.CountError(kind.String())
		var missing *logfile.MissingHandleError
		if errors.As(err, &missing) {
			telemetry.CountDropped()
			r.logger.Warn("no log file for channel", slog.String("channel", missing.Channel), slog.String("line", missing.Line))
			return err
		}
		r.logger.Error("write record", slog.String("channel", c.Channel), slog.String("kind", kind.String()), slog.Any("err", err))
		return err
	}
	telemetry.CountWritten(c.Record.Command())

	if r.archive == nil {
		return nil
	}
	if err := r.archive.Store(ctx, c.Channel, c.Record); err != nil {
		err = fmt.Errorf("%w: %w", ErrArchive, err)
		telemetry.CountError(KindArchive.String())
		r.logger.Error("archive record", slog.String("channel", c.Channel), slog.Any("err", err))
		return err
	}
	telemetry.CountArchived()
	return nil
}

func (r *Recorder) print(ctx context.Context, ev chat.Event) {
	attrs := []slog.Attr{slog.String("command", ev.Command)}
	if ev.Prefix != nil {
		attrs = append(attrs, slog.String("from", ev.Prefix.String()))
	}
	if len(ev.Params) > 0 {
		attrs = append(attrs, slog.Any("params", ev.Params))
	}
	attrs = append(attrs, slog.String("tags", ev.TagMap().String()))
	r.logger.LogAttrs(ctx, slog.LevelInfo, "event", attrs...)
}

// Reload re-reads the configuration and moves the transport and log files to it:
// PART removed channels, install the new files and close the old ones, JOIN added channels.
// On a load failure the previous configuration stays live and the error is returned.
func (r *Recorder) Reload(ctx context.Context) error {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "recorder", "recorder.reload")
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx, r.logger)

	r.publish(StateReloading)
	var err error
	telemetry.TimeFunc(telemetry.ReloadDuration, func() { err = r.reload(ctx, logger) })

	if err != nil {
		r.failures++
		r.lastErr = err.Error()
		kind := ClassifyError(err)
		telemetry.CountReload("failed")
		telemetry.CountError(kind.String())
		telemetry.RecordError(span, err)
		logger.Error("reload failed, keeping previous configuration", slog.String("kind", kind.String()), slog.Any("err", err))
	} else {
		r.reloads++
		r.lastReload = r.now()
		r.lastErr = ""
		telemetry.CountReload("ok")
		telemetry.SetSpanSuccess(span)
	}
	r.publish(StateIdle)
	return err
}

func (r *Recorder) reload(ctx context.Context, logger *slog.Logger) error {
	channels, files, err := r.loader.Load(ctx)
	if err != nil {
		return err
	}
	removed := r.channels.Diff(channels)
	added := channels.Diff(r.channels)

	if len(removed) > 0 {
		if err := r.transport.Part(removed...); err != nil {
			logger.Warn("part channels", slog.Any("channels", []string(removed)), slog.Any("err", err))
		}
	}

	old := r.files
	r.files = files
	if old != nil {
		if err := old.Close(); err != nil {
			telemetry.CountError(KindIO.String())
			logger.Warn("close previous log files", slog.Any("err", err))
		}
	}

	if len(added) > 0 {
		if err := r.transport.Join(added...); err != nil {
			logger.Warn("join channels", slog.Any("channels", []string(added)), slog.Any("err", err))
		}
	}

	r.channels = channels
	telemetry.SetChannels(len(channels))
	logger.Info("reloaded config",
		slog.Any("channels", []string(channels)),
		slog.Any("joined", []string(added)),
		slog.Any("parted", []string(removed)),
	)
	return nil
}

// Status returns the latest snapshot.
func (r *Recorder) Status() Status {
	s := *r.status.Load()
	if r.connected != nil {
		s.Connected = r.connected()
	}
	return s
}

// Channels returns the monitored channels as of the latest snapshot.
func (r *Recorder) Channels() config.ChannelSet {
	return append(config.ChannelSet(nil), r.status.Load().Channels...)
}

// Close closes the live log files. Call it after Run has returned.
func (r *Recorder) Close() error {
	if r.files == nil {
		return nil
	}
	return r.files.Close()
}

func (r *Recorder) publish(state State) {
	s := &Status{
		Channels:       append([]string{}, r.channels...),
		State:          state,
		Reloads:        r.reloads,
		ReloadFailures: r.failures,
		LastError:      r.lastErr,
	}
	if !r.lastReload.IsZero() {
		t := r.lastReload
		s.LastReload = &t
	}
	r.status.Store(s)
}
