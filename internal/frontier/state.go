package frontier

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/deepmedical/crawl-engine/internal/engine"
)

// snapshot is the persisted frontier state.
type snapshot struct {
	Tasks          []engine.CrawlTask `json:"queue"`
	SeenURLs       []string           `json:"seen_urls"`
	TotalEnqueued  int                `json:"total_enqueued"`
	TotalProcessed int                `json:"total_processed"`
}

// SaveState writes the pending-task set, seen-URL set, and counters to path.
func (f *Frontier) SaveState(path string) error {
	f.mu.Lock()
	snap := snapshot{
		Tasks:          make([]engine.CrawlTask, 0, f.tasks.Len()),
		SeenURLs:       make([]string, 0, len(f.seen)),
		TotalEnqueued:  f.totalEnqueued,
		TotalProcessed: f.totalProcessed,
	}
	for _, e := range f.tasks {
		snap.Tasks = append(snap.Tasks, e.task)
	}
	for u := range f.seen {
		snap.SeenURLs = append(snap.SeenURLs, u)
	}
	f.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal frontier state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write frontier state: %w", err)
	}
	f.logger.Info("frontier state saved", zap.String("path", path), zap.Int("pending", len(snap.Tasks)))
	return nil
}

// LoadState restores frontier state from path. A missing or corrupt file
// reinitializes the frontier empty instead of failing.
func (f *Frontier) LoadState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			f.logger.Info("no frontier state file, starting empty", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("read frontier state: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		f.logger.Warn("corrupt frontier state, starting empty",
			zap.String("path", path), zap.Error(err))
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = nil
	f.seen = make(map[string]struct{}, len(snap.SeenURLs))
	for _, u := range snap.SeenURLs {
		f.seen[u] = struct{}{}
	}
	for _, task := range snap.Tasks {
		f.seq++
		heap.Push(&f.tasks, entry{task: task, seq: f.seq})
	}
	f.totalEnqueued = snap.TotalEnqueued
	f.totalProcessed = snap.TotalProcessed

	f.logger.Info("frontier state loaded",
		zap.String("path", path), zap.Int("pending", f.tasks.Len()))
	return nil
}
