package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/ghostlog/chat"
	"github.com/onnwee/ghostlog/config"
	"github.com/onnwee/ghostlog/logfile"
	"github.com/onnwee/ghostlog/record"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeTransport struct {
	joins []string
	parts []string
	err   error
}

func (f *fakeTransport) Join(channels ...string) error {
	f.joins = append(f.joins, strings.Join(channels, ","))
	return f.err
}

func (f *fakeTransport) Part(channels ...string) error {
	f.parts = append(f.parts, strings.Join(channels, ","))
	return f.err
}

type fakeSink struct {
	stored []string
	err    error
}

func (f *fakeSink) Store(_ context.Context, channel string, rec record.Record) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, channel+" "+rec.Encode())
	return nil
}

type fixture struct {
	dir       string
	cfgPath   string
	logDir    string
	loader    *config.Loader
	transport *fakeTransport
	rec       *Recorder
}

func writeConfig(t *testing.T, path, logDir string, channels ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("channels:\n")
	for _, ch := range channels {
		fmt.Fprintf(&b, "  - %s\n", ch)
	}
	fmt.Fprintf(&b, "log_path: %s\n", logDir)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func newFixture(t *testing.T, opts Options, channels ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:       dir,
		cfgPath:   filepath.Join(dir, "config.yaml"),
		logDir:    filepath.Join(dir, "logs"),
		transport: &fakeTransport{},
	}
	writeConfig(t, f.cfgPath, f.logDir, channels...)
	f.loader = &config.Loader{
		Path:     f.cfgPath,
		FileOpts: []logfile.Option{logfile.WithClock(func() time.Time { return fixedTime })},
	}
	chs, files, err := f.loader.Load(context.Background())
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts.Now = func() time.Time { return fixedTime }
	f.rec = New(f.loader, f.transport, chs, files, opts)
	t.Cleanup(func() { _ = f.rec.Close() })
	return f
}

func (f *fixture) lines(t *testing.T, channel string) []string {
	t.Helper()
	data, err := os.ReadFile(logfile.Path(f.logDir, channel))
	if err != nil {
		t.Fatalf("read %s: %v", channel, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func privmsg(channel, text string) chat.Event {
	return chat.Event{
		Command: "PRIVMSG",
		Params:  []string{channel, text},
		Tags:    []record.Tag{{Key: "id", Value: "1"}},
		Prefix:  &chat.Prefix{Raw: "alice!alice@alice.tmi.twitch.tv", Nick: "alice"},
	}
}

func TestHandleEventWritesOnlyToChannel(t *testing.T) {
	f := newFixture(t, Options{}, "foo", "bar")
	ctx := context.Background()

	if err := f.rec.HandleEvent(ctx, privmsg("#foo", "hello")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	cc := chat.Event{Command: "CLEARCHAT", Params: []string{"#foo", "bob"}}
	if err := f.rec.HandleEvent(ctx, cc); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	foo := f.lines(t, "#foo")
	if len(foo) != 3 {
		t.Fatalf("#foo has %d lines, want marker + 2: %q", len(foo), foo)
	}
	if !strings.HasPrefix(foo[0], record.SessionMarkerPrefix) {
		t.Fatalf("first line %q is not a session marker", foo[0])
	}
	ts := fixedTime.Local().Format(record.TimeLayout)
	want := []string{
		`PRIVMSG(sender:"alice",message:"hello",tags:{"id":"1"}) // ` + ts,
		`CLEARCHAT(user:"bob",tags:{}) // ` + ts,
	}
	if !reflect.DeepEqual(foo[1:], want) {
		t.Fatalf("#foo = %q, want %q", foo[1:], want)
	}
	if bar := f.lines(t, "#bar"); len(bar) != 1 {
		t.Fatalf("#bar got writes: %q", bar)
	}
}

func TestHandleEventMissingChannel(t *testing.T) {
	f := newFixture(t, Options{}, "foo")

	err := f.rec.HandleEvent(context.Background(), privmsg("#baz", "lost"))
	if !errors.Is(err, logfile.ErrNoHandle) {
		t.Fatalf("err = %v, want ErrNoHandle", err)
	}
	var missing *logfile.MissingHandleError
	if !errors.As(err, &missing) || missing.Channel != "#baz" || !strings.Contains(missing.Line, "lost") {
		t.Fatalf("missing handle error = %#v", err)
	}
	if _, err := os.Stat(logfile.Path(f.logDir, "#baz")); !os.IsNotExist(err) {
		t.Fatalf("file for unknown channel exists: %v", err)
	}
}

func TestHandleEventMalformedIsPrinted(t *testing.T) {
	f := newFixture(t, Options{}, "foo")

	for _, ev := range []chat.Event{
		{Command: "CLEARCHAT"},
		{Command: "CLEARCHAT", Params: []string{"#foo", "a", "b"}},
	} {
		err := f.rec.HandleEvent(context.Background(), ev)
		if !errors.Is(err, chat.ErrMalformedEvent) {
			t.Fatalf("err = %v, want ErrMalformedEvent", err)
		}
	}
	if foo := f.lines(t, "#foo"); len(foo) != 1 {
		t.Fatalf("malformed events were written: %q", foo)
	}
}

func TestHandleEventPrintOnly(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	f := newFixture(t, Options{Logger: logger}, "foo")

	ev := chat.Event{
		Command: "NOTICE",
		Params:  []string{"#foo", "slow mode"},
		Tags:    []record.Tag{{Key: "msg-id", Value: "slow_on"}},
		Prefix:  &chat.Prefix{Raw: "tmi.twitch.tv", Host: "tmi.twitch.tv"},
	}
	if err := f.rec.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"command=NOTICE", "from=tmi.twitch.tv", `msg-id`} {
		if !strings.Contains(out, want) {
			t.Errorf("diagnostic output %q missing %q", out, want)
		}
	}
	if foo := f.lines(t, "#foo"); len(foo) != 1 {
		t.Fatalf("print-only event was written: %q", foo)
	}
}

func TestReloadMovesChannels(t *testing.T) {
	f := newFixture(t, Options{}, "a", "b")
	ctx := context.Background()
	oldFiles := f.rec.files

	writeConfig(t, f.cfgPath, f.logDir, "b", "c")
	if err := f.rec.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if !reflect.DeepEqual(f.transport.parts, []string{"#a"}) {
		t.Fatalf("parts = %q, want [#a]", f.transport.parts)
	}
	if !reflect.DeepEqual(f.transport.joins, []string{"#c"}) {
		t.Fatalf("joins = %q, want [#c]", f.transport.joins)
	}
	if got := f.rec.Channels(); !reflect.DeepEqual(got, config.ChannelSet{"#b", "#c"}) {
		t.Fatalf("channels = %v, want [#b #c]", got)
	}
	if err := oldFiles.Write("#b", "late"); !errors.Is(err, logfile.ErrClosed) {
		t.Fatalf("old manager still writable: %v", err)
	}

	if err := f.rec.HandleEvent(ctx, privmsg("#c", "new")); err != nil {
		t.Fatalf("write to added channel: %v", err)
	}
	if err := f.rec.HandleEvent(ctx, privmsg("#a", "gone")); !errors.Is(err, logfile.ErrNoHandle) {
		t.Fatalf("write to removed channel: %v", err)
	}
	if a := f.lines(t, "#a"); len(a) != 1 {
		t.Fatalf("#a written after reload: %q", a)
	}
	// #b was reopened, so it carries a second session marker.
	if b := f.lines(t, "#b"); len(b) != 2 || !strings.HasPrefix(b[1], record.SessionMarkerPrefix) {
		t.Fatalf("#b = %q", b)
	}

	st := f.rec.Status()
	if st.Reloads != 1 || st.State != StateIdle || st.LastReload == nil || !st.LastReload.Equal(fixedTime) {
		t.Fatalf("status = %+v", st)
	}
}

func TestReloadUnchangedSendsNoDirectives(t *testing.T) {
	f := newFixture(t, Options{}, "a", "b")
	if err := f.rec.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(f.transport.parts) != 0 || len(f.transport.joins) != 0 {
		t.Fatalf("directives sent: parts=%q joins=%q", f.transport.parts, f.transport.joins)
	}
}

func TestReloadFailureKeepsConfiguration(t *testing.T) {
	f := newFixture(t, Options{}, "a")
	ctx := context.Background()

	writeConfig(t, f.cfgPath, f.logDir, "a", "not-valid")
	err := f.rec.Reload(ctx)
	if !IsConfigError(err) {
		t.Fatalf("Reload err = %v, want config error", err)
	}
	if len(f.transport.parts) != 0 || len(f.transport.joins) != 0 {
		t.Fatalf("directives sent on failed reload")
	}
	if got := f.rec.Channels(); !reflect.DeepEqual(got, config.ChannelSet{"#a"}) {
		t.Fatalf("channels = %v", got)
	}
	if err := f.rec.HandleEvent(ctx, privmsg("#a", "still here")); err != nil {
		t.Fatalf("write after failed reload: %v", err)
	}
	st := f.rec.Status()
	if st.ReloadFailures != 1 || st.Reloads != 0 || st.LastError == "" {
		t.Fatalf("status = %+v", st)
	}
}

func TestReloadDirectiveFailureContinues(t *testing.T) {
	f := newFixture(t, Options{}, "a")
	f.transport.err = errors.New("not connected")

	writeConfig(t, f.cfgPath, f.logDir, "b")
	if err := f.rec.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := f.rec.Channels(); !reflect.DeepEqual(got, config.ChannelSet{"#b"}) {
		t.Fatalf("channels = %v", got)
	}
}

func TestArchive(t *testing.T) {
	sink := &fakeSink{}
	f := newFixture(t, Options{Archive: sink}, "foo")
	ctx := context.Background()

	if err := f.rec.HandleEvent(ctx, privmsg("#foo", "hi")); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	want := []string{`#foo PRIVMSG(sender:"alice",message:"hi",tags:{"id":"1"})`}
	if !reflect.DeepEqual(sink.stored, want) {
		t.Fatalf("stored = %q, want %q", sink.stored, want)
	}

	sink.err = errors.New("db down")
	err := f.rec.HandleEvent(ctx, privmsg("#foo", "again"))
	if ClassifyError(err) != KindArchive {
		t.Fatalf("err = %v, want archive kind", err)
	}
	if foo := f.lines(t, "#foo"); len(foo) != 3 {
		t.Fatalf("file write skipped on archive failure: %q", foo)
	}
}

func TestRunStopsWhenEventsClose(t *testing.T) {
	f := newFixture(t, Options{Connected: func() bool { return true }}, "foo")
	events := make(chan chat.Event)
	reloads := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- f.rec.Run(context.Background(), events, reloads) }()

	events <- privmsg("#foo", "one")
	reloads <- struct{}{}
	events <- privmsg("#foo", "two")
	close(events)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the event stream closed")
	}

	st := f.rec.Status()
	if st.Reloads != 1 || !st.Connected {
		t.Fatalf("status = %+v", st)
	}
	// marker, one, reopen marker, two
	if foo := f.lines(t, "#foo"); len(foo) != 4 {
		t.Fatalf("#foo = %q", foo)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Options{}, "foo")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.rec.Run(ctx, make(chan chat.Event), nil) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindUnknown},
		{errors.New("boom"), KindUnknown},
		{&config.Error{Op: "read", Path: "x", Err: os.ErrNotExist}, KindConfig},
		{fmt.Errorf("load: %w", &config.Error{Op: "validate", Err: config.ErrInvalidChannel}), KindConfig},
		{&logfile.MissingHandleError{Channel: "#x"}, KindMissingHandle},
		{fmt.Errorf("%w: append", logfile.ErrIO), KindIO},
		{logfile.ErrClosed, KindIO},
		{fmt.Errorf("%w: params", chat.ErrMalformedEvent), KindMalformed},
		{fmt.Errorf("%w: insert", ErrArchive), KindArchive},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
