package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/clock"
	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

// AuditStore is an in-process append-only audit log.
type AuditStore struct {
	mu      sync.RWMutex
	clk     clock.Clock
	entries []domain.AuditEntry
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates an empty audit log stamped by clk.
func NewAuditStore(clk clock.Clock) *AuditStore {
	return &AuditStore{clk: clk}
}

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: a.clk.Now(),
	})
	return nil
}

// List returns entries newest first within the optional Since/Until window.
func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if !inWindow(e.CreatedAt, opts) || !aboutListing(e, opts.Listing) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func aboutListing(e domain.AuditEntry, id *common.Hash) bool {
	if id == nil {
		return true
	}
	hex, _ := e.Detail["listing"].(string)
	return hex == id.Hex()
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && !t.Before(*opts.Until) {
		return false
	}
	return true
}
