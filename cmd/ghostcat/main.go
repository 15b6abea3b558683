// Command ghostcat reads channel log files written by ghostlog and prints one JSON object per
// line, for piping into jq or a log shipper.
//
// Usage:
//
//	ghostcat [flags] [file ...]
//
// With no files it reads standard input. The channel is taken from the file name
// (logs/#foo.txt -> #foo); lines that do not parse are reported on stderr and skipped unless
// --strict is set.
//
// With --dsn the arguments are channel names and records come from the Postgres archive
// instead, oldest first, up to --limit per channel:
//
//	ghostcat --dsn "$DB_DSN" --limit 50 foo '#bar'

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/onnwee/ghostlog/config"
	"github.com/onnwee/ghostlog/db"
	"github.com/onnwee/ghostlog/record"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// entry is the JSON form of one log line.
type entry struct {
	Channel string            `json:"channel,omitempty"`
	Time    time.Time         `json:"time"`
	Marker  bool              `json:"marker,omitempty"`
	Command string            `json:"command,omitempty"`
	Sender  string            `json:"sender,omitempty"`
	Message string            `json:"message,omitempty"`
	User    string            `json:"user,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

type options struct {
	strict   bool
	markers  bool
	since    time.Time
	commands map[string]bool
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var (
		opts     options
		since    string
		commands []string
		dsn      string
		limit    int
	)
	flags := pflag.NewFlagSet("ghostcat", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.BoolVar(&opts.strict, "strict", false, "fail on the first line that does not parse")
	flags.BoolVar(&opts.markers, "markers", false, "also emit session markers")
	flags.StringVar(&since, "since", "", "only emit lines at or after this RFC3339 time")
	flags.StringSliceVar(&commands, "command", nil, "only emit these commands (repeatable, comma separated)")
	flags.StringVar(&dsn, "dsn", "", "read the named channels from the Postgres archive")
	flags.IntVar(&limit, "limit", 100, "with --dsn, newest records per channel")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		opts.since = t
	}
	if len(commands) > 0 {
		opts.commands = make(map[string]bool, len(commands))
		for _, c := range commands {
			opts.commands[strings.ToUpper(c)] = true
		}
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	out := bufio.NewWriter(stdout)
	defer out.Flush()
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	if dsn != "" {
		if flags.NArg() == 0 {
			return errors.New("--dsn needs at least one channel")
		}
		ctx := context.Background()
		database, err := db.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer database.Close()
		return dumpArchive(ctx, db.NewArchive(database), flags.Args(), limit, opts, enc, logger)
	}
	if flags.NArg() == 0 {
		return convert(stdin, "", "<stdin>", opts, enc, logger)
	}
	for _, path := range flags.Args() {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		err = convert(f, channelFromPath(path), path, opts, enc, logger)
		_ = f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// channelFromPath maps logs/#foo.txt to #foo.
func channelFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".txt")
}

func convert(r io.Reader, channel, name string, opts options, enc *json.Encoder, logger *slog.Logger) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		text := sc.Text()
		if text == "" {
			continue
		}
		line, err := record.ParseLine(text)
		if err != nil {
			if opts.strict {
				return fmt.Errorf("%s:%d: %w", name, n, err)
			}
			logger.Warn("skipping line", slog.String("file", name), slog.Int("line", n), slog.Any("err", err))
			continue
		}
		e, ok := toEntry(line, channel, opts)
		if !ok {
			continue
		}
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return sc.Err()
}

type recentReader interface {
	Recent(ctx context.Context, channel string, limit int) ([]db.Row, error)
}

func dumpArchive(ctx context.Context, archive recentReader, channels []string, limit int, opts options, enc *json.Encoder, logger *slog.Logger) error {
	for _, raw := range channels {
		channel, err := config.NormalizeChannel(strings.TrimPrefix(raw, "#"))
		if err != nil {
			return err
		}
		rows, err := archive.Recent(ctx, channel, limit)
		if err != nil {
			return err
		}
		// newest first from the archive
		for i := len(rows) - 1; i >= 0; i-- {
			row := rows[i]
			rec, err := record.Parse(row.Body)
			if err != nil {
				if opts.strict {
					return fmt.Errorf("%s row %d: %w", channel, row.ID, err)
				}
				logger.Warn("skipping row", slog.String("channel", channel), slog.Int64("id", row.ID), slog.Any("err", err))
				continue
			}
			e, ok := toEntry(record.Line{Time: row.RecordedAt, Record: rec}, channel, opts)
			if !ok {
				continue
			}
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func toEntry(line record.Line, channel string, opts options) (entry, bool) {
	if !opts.since.IsZero() && line.Time.Before(opts.since) {
		return entry{}, false
	}
	e := entry{Channel: channel, Time: line.Time}
	if line.Marker {
		if !opts.markers {
			return entry{}, false
		}
		e.Marker = true
		return e, true
	}
	e.Command = line.Record.Command()
	if opts.commands != nil && !opts.commands[e.Command] {
		return entry{}, false
	}
	e.Tags = line.Record.RecordTags()
	switch rec := line.Record.(type) {
	case record.PrivateMessage:
		e.Sender, e.Message = rec.Sender, rec.Message
	case record.ClearChat:
		e.User = rec.User
	case record.ClearMessage:
		e.Message = rec.MessageID
	}
	return e, true
}
