//go:build linux

package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/onnwee/ghostlog/chat"
	"github.com/onnwee/ghostlog/logfile"
)

// failWrites points the open descriptor of path at /dev/full so every append fails with ENOSPC.
func failWrites(t *testing.T, path string) {
	t.Helper()
	want, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatal(err)
	}
	full, err := os.OpenFile("/dev/full", os.O_WRONLY, 0)
	if err != nil {
		t.Skipf("no /dev/full: %v", err)
	}
	defer full.Close()

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("no /proc/self/fd: %v", err)
	}
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join("/proc/self/fd", e.Name()))
		if err != nil || target != want {
			continue
		}
		fd, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if err := syscall.Dup3(int(full.Fd()), fd, 0); err != nil {
			t.Fatalf("dup3: %v", err)
		}
		return
	}
	t.Fatalf("no open descriptor for %s", path)
}

func TestWriteFailureIsolatedToChannel(t *testing.T) {
	f := newFixture(t, Options{}, "foo", "bar")
	failWrites(t, logfile.Path(f.logDir, "#foo"))
	ctx := context.Background()

	err := f.rec.HandleEvent(ctx, privmsg("#foo", "lost"))
	if !errors.Is(err, logfile.ErrIO) || ClassifyError(err) != KindIO {
		t.Fatalf("HandleEvent err = %v (kind %s), want io", err, ClassifyError(err))
	}
	if err := f.rec.HandleEvent(ctx, privmsg("#bar", "kept")); err != nil {
		t.Fatalf("HandleEvent #bar: %v", err)
	}

	// the loop keeps going after a failed append
	events := make(chan chat.Event)
	done := make(chan error, 1)
	go func() { done <- f.rec.Run(ctx, events, nil) }()
	events <- privmsg("#foo", "lost again")
	events <- privmsg("#bar", "kept again")
	close(events)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	bar := f.lines(t, "#bar")
	if len(bar) != 3 {
		t.Fatalf("#bar = %q, want marker + 2", bar)
	}
	if foo := f.lines(t, "#foo"); len(foo) != 1 {
		t.Fatalf("#foo = %q, want only the marker", foo)
	}
}
