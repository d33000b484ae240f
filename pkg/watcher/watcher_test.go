package watcher_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/stylebuild/pkg/config"
	"github.com/ngld/stylebuild/pkg/watcher"
)

const (
	debounceDelay = 50 * time.Millisecond
	quietPeriod   = 400 * time.Millisecond
	fireTimeout   = 5 * time.Second
)

type recorder struct {
	calls chan []string
	fail  int
}

func newRecorder() *recorder {
	return &recorder{calls: make(chan []string, 16)}
}

func (r *recorder) onChange(ctx context.Context, changed []string) error {
	r.calls <- changed
	if r.fail > 0 {
		r.fail--
		return errors.New("compile failed")
	}
	return nil
}

func (r *recorder) next(t *testing.T) []string {
	t.Helper()
	select {
	case changed := <-r.calls:
		return changed
	case <-time.After(fireTimeout):
		t.Fatal("callback wasn't called")
	}
	return nil
}

func (r *recorder) quiet(t *testing.T) {
	t.Helper()
	select {
	case changed := <-r.calls:
		t.Fatalf("unexpected callback for %v", changed)
	case <-time.After(quietPeriod):
	}
}

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func setup(t *testing.T, events ...string) (string, *recorder, *watcher.Handle) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	touch(t, filepath.Join(dir, "src", "app.less"), ".a { top: 0; }")

	spec := config.WatchSpec{
		Name:  "styles",
		Files: []string{filepath.Join(dir, "src", "**", "*.less")},
		Tasks: []string{"less"},
		Options: config.WatchOptions{
			Debounce: debounceDelay,
			Events:   events,
		},
	}

	rec := newRecorder()
	handle, err := watcher.New().Watch(context.Background(), spec, rec.onChange)
	require.NoError(t, err)
	t.Cleanup(handle.Cancel)

	return dir, rec, handle
}

func TestWatch(t *testing.T) {
	t.Run("Should fire once per burst of changes", func(t *testing.T) {
		dir, rec, _ := setup(t)
		path := filepath.Join(dir, "src", "app.less")

		for idx := 0; idx < 3; idx++ {
			touch(t, path, ".a { top: 1px; }")
		}

		assert.Equal(t, []string{path}, rec.next(t))
		rec.quiet(t)
	})

	t.Run("Should keep watching after a failed callback", func(t *testing.T) {
		dir, rec, _ := setup(t)
		rec.fail = 1
		path := filepath.Join(dir, "src", "app.less")

		touch(t, path, ".a { width: 1px + 1em; }")
		assert.Equal(t, []string{path}, rec.next(t))

		touch(t, path, ".a { width: 1px; }")
		assert.Equal(t, []string{path}, rec.next(t))
	})

	t.Run("Should ignore files that don't match", func(t *testing.T) {
		dir, rec, _ := setup(t)
		touch(t, filepath.Join(dir, "src", "notes.txt"), "hello")
		rec.quiet(t)
	})

	t.Run("Should watch new directories", func(t *testing.T) {
		dir, rec, _ := setup(t)
		sub := filepath.Join(dir, "src", "components")
		require.NoError(t, os.Mkdir(sub, 0o755))
		time.Sleep(quietPeriod)

		path := filepath.Join(sub, "button.less")
		touch(t, path, ".button { top: 0; }")
		assert.Equal(t, []string{path}, rec.next(t))
	})

	t.Run("Should filter events", func(t *testing.T) {
		dir, rec, _ := setup(t, config.EventAdded)
		touch(t, filepath.Join(dir, "src", "app.less"), ".a { top: 2px; }")
		rec.quiet(t)

		path := filepath.Join(dir, "src", "new.less")
		touch(t, path, ".b { top: 0; }")
		assert.Equal(t, []string{path}, rec.next(t))
	})

	t.Run("Should stop after Cancel", func(t *testing.T) {
		dir, rec, handle := setup(t)
		handle.Cancel()

		select {
		case <-handle.Done():
		default:
			t.Fatal("handle isn't done after Cancel returned")
		}

		touch(t, filepath.Join(dir, "src", "app.less"), ".a { top: 3px; }")
		rec.quiet(t)
	})
}

func TestWatch_InvalidBase(t *testing.T) {
	spec := config.WatchSpec{
		Name:  "missing",
		Files: []string{filepath.Join(t.TempDir(), "missing", "*.less")},
	}

	_, err := watcher.New().Watch(context.Background(), spec, func(ctx context.Context, changed []string) error {
		return nil
	})
	assert.Error(t, err)
}
