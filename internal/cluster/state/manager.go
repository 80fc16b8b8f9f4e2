package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/10yihang/clusterrouter/internal/cluster"
)

const (
	saveDebounceDuration = 100 * time.Millisecond
	saveRetryDelay       = 500 * time.Millisecond
)

// Source returns the snapshot to persist; nil means nothing to save.
type Source func() *cluster.Snapshot

// Manager keeps the last known topology in a JSON file so a restarted client
// has more seeds than its configuration lists.
type Manager struct {
	path   string
	source Source
	log    *slog.Logger

	dirty atomic.Bool
	mu    sync.Mutex

	saveCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewManager(path string, source Source, log *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	m := &Manager{
		path:   path,
		source: source,
		log:    log,
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}

	m.wg.Add(1)
	go m.saveLoop()

	return m, nil
}

func (m *Manager) saveLoop() {
	defer m.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-m.saveCh:
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(saveDebounceDuration)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			timer = nil
			if m.dirty.Load() {
				if err := m.save(); err != nil {
					m.log.Warn("topology state save failed, retrying", "path", m.path, "error", err)
					timer = time.NewTimer(saveRetryDelay)
					timerC = timer.C
				}
			}

		case <-m.doneCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// MarkDirty schedules a debounced save.
func (m *Manager) MarkDirty() {
	if m.dirty.CompareAndSwap(false, true) {
		select {
		case m.saveCh <- struct{}{}:
		default:
		}
	}
}

// Load reads the saved view. ok is false when no file exists yet.
func (m *Manager) Load() (View, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ReadFile(m.path)
}

// ReadFile reads a view written by a Manager.
func ReadFile(path string) (View, bool, error) {
	var v View
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("unmarshal state: %w", err)
	}
	if v.Schema != CurrentStateVersion {
		return v, false, fmt.Errorf("unsupported state schema: %d", v.Schema)
	}
	return v, true, nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.write(); err != nil {
		m.dirty.Store(true)
		return err
	}
	return nil
}

func (m *Manager) write() error {
	snap := m.source()
	if snap == nil {
		return nil
	}
	// Cleared before reading so a publish racing the write marks it again.
	m.dirty.Store(false)

	data, err := json.MarshalIndent(FromSnapshot(snap), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tempPath := m.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	f, err := os.OpenFile(tempPath, os.O_RDONLY, 0)
	if err == nil {
		_ = f.Sync()
		_ = f.Close()
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Save writes the current snapshot immediately.
func (m *Manager) Save() error {
	return m.save()
}

// Close stops the save loop and flushes a pending save.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.doneCh)
		m.wg.Wait()

		if m.dirty.Load() {
			err = m.save()
		}
	})
	return err
}

func (m *Manager) FilePath() string {
	return m.path
}
