package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type change struct {
	path   string
	exists bool
}

func newTestWatcher() (*Watcher, chan change) {
	ch := make(chan change, 16)
	w := New(func(path string, exists bool) {
		ch <- change{path, exists}
	})
	w.debounce = 20 * time.Millisecond
	return w, ch
}

func waitChange(t *testing.T, ch chan change) change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
		return change{}
	}
}

func TestWatch_CreatesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	w, _ := newTestWatcher()
	defer w.Shutdown()

	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Errorf("expected parent directory to exist, got %v", err)
	}
}

func TestWatch_ReportsCreateAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	w, ch := newTestWatcher()
	defer w.Shutdown()

	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	os.WriteFile(path, []byte(`{"access_token":"a"}`), 0o600)
	c := waitChange(t, ch)
	if !c.exists {
		t.Errorf("expected exists=true after write")
	}
	if filepath.Base(c.path) != "token.json" {
		t.Errorf("unexpected path %q", c.path)
	}

	os.Remove(path)
	c = waitChange(t, ch)
	if c.exists {
		t.Errorf("expected exists=false after remove")
	}
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	w, ch := newTestWatcher()
	defer w.Shutdown()

	if err := w.Watch(filepath.Join(dir, "token.json")); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o600)

	select {
	case c := <-ch:
		t.Errorf("unexpected change for %q", c.path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatch_DebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	w, ch := newTestWatcher()
	w.debounce = 100 * time.Millisecond
	defer w.Shutdown()

	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	for i := 0; i < 5; i++ {
		os.WriteFile(path, []byte{byte('0' + i)}, 0o600)
	}

	waitChange(t, ch)
	select {
	case <-ch:
		t.Errorf("expected a single notification for a burst")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestUnwatch_StopsNotifications(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	w, ch := newTestWatcher()

	if err := w.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	w.Unwatch(path)
	os.WriteFile(path, []byte("{}"), 0o600)

	select {
	case c := <-ch:
		t.Errorf("unexpected change after unwatch: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
}
