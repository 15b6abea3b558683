package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/onnwee/ghostlog/logfile"
	"github.com/onnwee/ghostlog/telemetry"
)

// DefaultLogPath is the log directory used when the channel file leaves log_path empty.
const DefaultLogPath = "logs"

// ErrInvalidChannel is returned for channel names outside [A-Za-z0-9_]+.
var ErrInvalidChannel = errors.New("invalid channel name")

// Error is a configuration failure: unreadable or unparseable channel file, an invalid
// channel name, or a log directory that cannot be created.
type Error struct {
	Op   string // "read", "parse", "validate", "mkdir"
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// File is the channel file.
//
//	channels:
//	  - some_streamer
//	  - AnotherOne
//	log_path: logs
type File struct {
	Channels []string `yaml:"channels"`
	LogPath  string   `yaml:"log_path"`
}

// ReadFile reads and decodes the channel file at path. Unknown keys are rejected.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Op: "read", Path: path, Err: err}
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, &Error{Op: "parse", Path: path, Err: err}
	}
	if f.LogPath == "" {
		f.LogPath = DefaultLogPath
	}
	return &f, nil
}

// NormalizeChannel validates raw against [A-Za-z0-9_]+ and returns "#" + lowercase(raw).
func NormalizeChannel(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidChannel)
	}
	for _, c := range raw {
		ok := c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidChannel, raw)
		}
	}
	return "#" + strings.ToLower(raw), nil
}

// NormalizeChannels normalizes every name, dropping duplicates and keeping first-seen order.
func NormalizeChannels(raw []string) (ChannelSet, error) {
	set := make(ChannelSet, 0, len(raw))
	for _, r := range raw {
		ch, err := NormalizeChannel(r)
		if err != nil {
			return nil, err
		}
		if !set.Contains(ch) {
			set = append(set, ch)
		}
	}
	return set, nil
}

// ChannelSet is an ordered set of normalized channels.
type ChannelSet []string

// Contains reports whether ch is in the set.
func (s ChannelSet) Contains(ch string) bool {
	for _, c := range s {
		if c == ch {
			return true
		}
	}
	return false
}

// Diff returns the members of s missing from other, in s's order.
func (s ChannelSet) Diff(other ChannelSet) ChannelSet {
	var out ChannelSet
	for _, c := range s {
		if !other.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

// Loader builds the channel set and its log files from the channel file.
type Loader struct {
	Path     string
	FileOpts []logfile.Option
}

// Load reads the channel file, normalizes channels, ensures the log directory exists and
// opens one log file per channel. Nothing is opened unless the whole file validates.
func (l *Loader) Load(ctx context.Context) (ChannelSet, *logfile.Manager, error) {
	ctx, span := telemetry.StartSpan(ctx, "config", "config.load")
	defer span.End()

	f, err := ReadFile(l.Path)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	channels, err := NormalizeChannels(f.Channels)
	if err != nil {
		err = &Error{Op: "validate", Path: l.Path, Err: err}
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	if err := os.MkdirAll(f.LogPath, 0o755); err != nil {
		err = &Error{Op: "mkdir", Path: f.LogPath, Err: err}
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	files, err := logfile.Open(ctx, f.LogPath, channels, l.FileOpts...)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, nil, err
	}
	span.SetAttributes(telemetry.ChannelsAttr(channels))
	return channels, files, nil
}
