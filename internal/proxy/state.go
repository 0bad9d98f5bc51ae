package proxy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

type snapshotFile struct {
	Proxies  []*Record         `json:"proxies"`
	Affinity map[string]string `json:"domain_affinity,omitempty"`
}

// SaveState writes the pool's records and domain-affinity map to path.
func (p *Pool) SaveState(path string) error {
	snap := snapshotFile{Proxies: p.snapshot(), Affinity: p.affinitySnapshot()}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal proxy state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write proxy state: %w", err)
	}
	p.logger.Info("proxy state saved", zap.String("path", path), zap.Int("proxies", len(snap.Proxies)))
	return nil
}

// LoadState restores pool records from path. Missing or corrupt files leave
// the pool empty.
func (p *Pool) LoadState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			p.logger.Info("no proxy state file, starting empty", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("read proxy state: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		p.logger.Warn("corrupt proxy state, starting empty",
			zap.String("path", path), zap.Error(err))
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = make(map[string]*Record, len(snap.Proxies))
	for _, r := range snap.Proxies {
		if r == nil || r.URL == "" {
			continue
		}
		if r.Domains == nil {
			r.Domains = make(map[string]DomainOutcome)
		}
		p.proxies[r.URL] = r
	}
	p.lastFor = make(map[string]string, len(snap.Affinity))
	for domain, u := range snap.Affinity {
		// Affinities to proxies that no longer exist are dropped.
		if _, ok := p.proxies[u]; ok {
			p.lastFor[domain] = u
		}
	}
	p.publishSizeLocked()
	p.logger.Info("proxy state loaded", zap.String("path", path), zap.Int("proxies", len(p.proxies)))
	return nil
}
