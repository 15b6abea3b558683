// Package logfile owns the append-only log file of every monitored channel.
//
// A Manager is built for one channel set and is never mutated afterwards: a reload
// opens a fresh Manager and closes the previous one once the new one is live.
// Managers are not safe for concurrent use; the recorder loop is their only writer.
package logfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/ghostlog/record"
	"github.com/onnwee/ghostlog/telemetry"
)

var (
	// ErrNoHandle is returned by Write when the channel has no open log file.
	ErrNoHandle = errors.New("no log file open for channel")
	// ErrIO wraps failures to open, append to or close a log file.
	ErrIO = errors.New("log file i/o")
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("log file manager closed")
)

// MissingHandleError carries the line that could not be written.
type MissingHandleError struct {
	Channel string
	Line    string
}

func (e *MissingHandleError) Error() string {
	return fmt.Sprintf("no log file open for %s", e.Channel)
}

func (e *MissingHandleError) Is(target error) bool { return target == ErrNoHandle }

// Option configures a Manager.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for the session marker and line timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Manager maps channels to their open log files.
type Manager struct {
	dir    string
	files  map[string]*os.File
	now    func() time.Time
	closed bool
}

// Path returns the log file path of channel inside dir.
func Path(dir, channel string) string {
	return filepath.Join(dir, channel+".txt")
}

// Open opens (creating when absent) one append-only file per channel in dir and writes a
// session marker to each. Files are opened concurrently; Open returns only once every open
// has finished. On failure the files already opened are closed again.
func Open(ctx context.Context, dir string, channels []string, opts ...Option) (*Manager, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	_, span := telemetry.StartSpan(ctx, "logfile", "logfile.open")
	defer span.End()

	marker := record.SessionMarkerPrefix + o.now().Local().Format(record.TimeLayout) + "\n"

	var mu sync.Mutex
	files := make(map[string]*os.File, len(channels))
	g, gctx := errgroup.WithContext(ctx)
	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := openOne(Path(dir, ch), marker)
			if err != nil {
				return err
			}
			mu.Lock()
			files[ch] = f
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, f := range files {
			_ = f.Close()
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	return &Manager{dir: dir, files: files, now: o.now}, nil
}

func openOne(path, marker string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}
	if _, err := f.WriteString(marker); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: write session marker %s: %w", ErrIO, path, err)
	}
	return f, nil
}

// Write appends text followed by " // <local RFC3339 timestamp>" as one line to the
// channel's file. A channel without a file yields a *MissingHandleError and nothing is written.
func (m *Manager) Write(channel, text string) error {
	if m.closed {
		return ErrClosed
	}
	f, ok := m.files[channel]
	if !ok {
		return &MissingHandleError{Channel: channel, Line: text}
	}
	line := text + record.TimestampSeparator + m.now().Local().Format(record.TimeLayout) + "\n"
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("%w: append %s: %w", ErrIO, channel, err)
	}
	return nil
}

// Has reports whether channel has an open file.
func (m *Manager) Has(channel string) bool {
	_, ok := m.files[channel]
	return ok
}

// Channels lists the channels with an open file, sorted.
func (m *Manager) Channels() []string {
	out := make([]string, 0, len(m.files))
	for ch := range m.files {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Dir returns the directory the files live in.
func (m *Manager) Dir() string { return m.dir }

// Close syncs and closes every file. It is safe to call more than once.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for ch, f := range m.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("%w: sync %s: %w", ErrIO, ch, err))
		}
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: close %s: %w", ErrIO, ch, err))
		}
	}
	return errors.Join(errs...)
}
