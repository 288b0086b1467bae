// Package maintenance reports whether the host application is deliberately
// taken offline. The scheduler reads the flag on every guard evaluation.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"shortsched/internal/eventbus"
	logx "shortsched/pkg/logx"
)

// Flag is the application maintenance-mode flag.
type Flag interface {
	IsDown() bool
}

// Static is an in-memory Flag, settable at runtime.
type Static struct{ down atomic.Bool }

func (s *Static) IsDown() bool      { return s.down.Load() }
func (s *Static) SetDown(down bool) { s.down.Store(down) }

// Marker is the content of the "down" file.
type Marker struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message,omitempty"`
}

// FileFlag reports maintenance mode while a marker file exists.
// Every IsDown call stats the file, so other processes can flip the state
// (`shortsched down` / `shortsched up`) without signaling the scheduler.
type FileFlag struct {
	path string
	log  logx.Logger
	bus  eventbus.Bus
}

func NewFileFlag(path string, log logx.Logger, bus eventbus.Bus) *FileFlag {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &FileFlag{path: path, log: log, bus: bus}
}

func (f *FileFlag) Path() string { return f.path }

func (f *FileFlag) IsDown() bool {
	if strings.TrimSpace(f.path) == "" {
		return false
	}
	_, err := os.Stat(f.path)
	return err == nil
}

// Down writes the marker file.
func (f *FileFlag) Down(message string) error {
	if strings.TrimSpace(f.path) == "" {
		return errors.New("maintenance file not configured")
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(Marker{Time: time.Now().UTC(), Message: message})
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Up removes the marker file. It is not an error if the application is already up.
func (f *FileFlag) Up() error {
	if strings.TrimSpace(f.path) == "" {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Read returns the current marker, if any.
func (f *FileFlag) Read() (Marker, bool, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, err
	}
	var m Marker
	if err := json.Unmarshal(b, &m); err != nil {
		// A hand-written (e.g. touch'ed) marker still means down.
		return Marker{}, true, nil
	}
	return m, true, nil
}

// Watch logs and publishes maintenance transitions until ctx is done.
// It is observability only: IsDown never depends on the watcher.
func (f *FileFlag) Watch(ctx context.Context) error {
	if strings.TrimSpace(f.path) == "" {
		<-ctx.Done()
		return nil
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	last := f.IsDown()
	base := filepath.Base(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("maintenance watcher closed")
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			down := f.IsDown()
			if down == last {
				continue
			}
			last = down
			if down {
				m, _, _ := f.Read()
				f.log.Warn("application is now in maintenance mode", logx.String("path", f.path), logx.String("message", m.Message))
			} else {
				f.log.Info("application is now live", logx.String("path", f.path))
			}
			f.bus.Publish(eventbus.Event{Type: eventbus.TypeMaintenanceChanged, Data: down})
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("maintenance watcher closed")
			}
			f.log.Warn("maintenance watch error", logx.Err(err), logx.String("dir", dir))
		}
	}
}
