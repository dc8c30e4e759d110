// Package discovery tracks capability advertisements received over the
// message bus and answers "who can do X" queries for the coordinator.
// Advertisements carry a TTL; entries that are not refreshed go stale and
// are pruned by a background sweep.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"angela/internal/hsp"
	"angela/internal/logging"
)

const (
	// DefaultStalenessThreshold is used when an advertisement does not
	// declare its own TTL.
	DefaultStalenessThreshold = 5 * time.Minute

	// DefaultCleanupInterval is how often the background sweep runs.
	DefaultCleanupInterval = 60 * time.Second

	// awaitPollInterval is how often AwaitCapability re-checks the registry.
	awaitPollInterval = 100 * time.Millisecond
)

// Filter narrows capability lookups. Zero-value fields are ignored;
// populated fields must all match.
type Filter struct {
	CapabilityID string   // exact match
	Name         string   // case-insensitive substring
	Tags         []string // every tag must be present
}

// Entry is a known capability plus bookkeeping for staleness.
type Entry struct {
	Advertisement hsp.CapabilityAdvertisement
	LastSeen      time.Time
}

// Registry is a thread-safe store of live capability advertisements.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]Entry // keyed by capability ID
	staleness time.Duration

	cleanupOnce sync.Once
	stopCleanup chan struct{}
}

// NewRegistry creates an empty registry. staleness bounds how long an
// advertisement without a TTL stays valid; pass 0 for the default.
func NewRegistry(staleness time.Duration) *Registry {
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}
	return &Registry{
		entries:     make(map[string]Entry),
		staleness:   staleness,
		stopCleanup: make(chan struct{}),
	}
}

// ProcessAdvertisement records or refreshes a capability. It is shaped to
// plug straight into hsp.Connector.RegisterOnCapability.
func (r *Registry) ProcessAdvertisement(payload hsp.CapabilityAdvertisement, senderAIID string, _ hsp.Envelope) {
	if payload.CapabilityID == "" {
		logging.Discovery("dropping advertisement without capability_id from %s", senderAIID)
		return
	}
	if payload.AIID == "" {
		payload.AIID = senderAIID
	}

	r.mu.Lock()
	_, known := r.entries[payload.CapabilityID]
	r.entries[payload.CapabilityID] = Entry{
		Advertisement: payload,
		LastSeen:      time.Now(),
	}
	r.mu.Unlock()

	if !known {
		logging.Discovery("registered capability %s from %s", payload.CapabilityID, payload.AIID)
	} else {
		logging.DiscoveryDebug("refreshed capability %s from %s", payload.CapabilityID, payload.AIID)
	}
}

// Find returns all fresh capabilities matching the filter, in no particular
// order.
func (r *Registry) Find(filter Filter) []hsp.CapabilityAdvertisement {
	now := time.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []hsp.CapabilityAdvertisement
	for _, entry := range r.entries {
		if r.isStale(entry, now) {
			continue
		}
		if matches(entry.Advertisement, filter) {
			out = append(out, entry.Advertisement)
		}
	}
	return out
}

// All returns every fresh capability currently known.
func (r *Registry) All() []hsp.CapabilityAdvertisement {
	return r.Find(Filter{})
}

// Get looks up a single capability by exact ID. Stale entries are treated
// as absent.
func (r *Registry) Get(capabilityID string) (hsp.CapabilityAdvertisement, bool) {
	r.mu.RLock()
	entry, ok := r.entries[capabilityID]
	r.mu.RUnlock()
	if !ok || r.isStale(entry, time.Now()) {
		return hsp.CapabilityAdvertisement{}, false
	}
	return entry.Advertisement, true
}

// AwaitCapability polls until at least one capability matches the filter or
// the context is done. Used after launching an agent to wait for its first
// advertisement.
func (r *Registry) AwaitCapability(ctx context.Context, filter Filter) ([]hsp.CapabilityAdvertisement, error) {
	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()

	for {
		if found := r.Find(filter); len(found) > 0 {
			return found, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for capability %+v: %w", filter, ctx.Err())
		case <-ticker.C:
		}
	}
}

// StartCleanup launches the background sweep that removes stale entries.
// It runs until Stop is called. Safe to call once; later calls are no-ops.
func (r *Registry) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	r.cleanupOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-r.stopCleanup:
					return
				case <-ticker.C:
					r.removeStale()
				}
			}
		}()
	})
}

// Stop terminates the cleanup sweep if it is running.
func (r *Registry) Stop() {
	select {
	case <-r.stopCleanup:
	default:
		close(r.stopCleanup)
	}
}

func (r *Registry) removeStale() {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, entry := range r.entries {
		if r.isStale(entry, now) {
			delete(r.entries, id)
			logging.Discovery("pruned stale capability %s (last seen %s ago)",
				id, now.Sub(entry.LastSeen).Round(time.Second))
		}
	}
}

// isStale checks the entry's own TTL first and falls back to the registry
// default.
func (r *Registry) isStale(entry Entry, now time.Time) bool {
	threshold := r.staleness
	if entry.Advertisement.TTLSeconds > 0 {
		threshold = time.Duration(entry.Advertisement.TTLSeconds) * time.Second
	}
	return now.Sub(entry.LastSeen) > threshold
}

func matches(adv hsp.CapabilityAdvertisement, filter Filter) bool {
	if filter.CapabilityID != "" && adv.CapabilityID != filter.CapabilityID {
		return false
	}
	if filter.Name != "" && !strings.Contains(strings.ToLower(adv.Name), strings.ToLower(filter.Name)) {
		return false
	}
	for _, want := range filter.Tags {
		if !hasTag(adv.Tags, want) {
			return false
		}
	}
	return true
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
