// Package sync implements the reactive change-notification core: one
// polling watcher per subscribed channel, content-fingerprint change
// detection, a per-channel emission-rate floor, and delta fan-out to
// whatever transport registers the broadcast callback.
package sync

import (
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Alansi775/yshop-sync/internal/config"
)

// Manager is the subscription registry and watcher scheduler. It owns
// every piece of per-channel state: the subscriber sets, the watcher
// handles, the last-emitted fingerprints, and the backpressure gates.
// All of it lives and dies with the channel's subscriptions.
type Manager struct {
	fetcher         Fetcher
	logger          *zap.Logger
	pollInterval    time.Duration
	backpressureMin time.Duration

	mu           gosync.RWMutex
	subscribers  map[string]map[string]struct{} // channel -> connection ids
	watchers     map[string]*watcher
	fingerprints map[string]uint64 // last *emitted* snapshot digest
	gates        map[string]*rate.Limiter
	broadcast    BroadcastFunc
}

func NewManager(cfg *config.SyncConfig, fetcher Fetcher, logger *zap.Logger) *Manager {
	return &Manager{
		fetcher:         fetcher,
		logger:          logger,
		pollInterval:    cfg.PollInterval,
		backpressureMin: cfg.BackpressureMin,
		subscribers:     make(map[string]map[string]struct{}),
		watchers:        make(map[string]*watcher),
		fingerprints:    make(map[string]uint64),
		gates:           make(map[string]*rate.Limiter),
	}
}

// RegisterBroadcast installs the delivery callback. The transport layer
// calls this once at startup; emissions before that are dropped.
func (m *Manager) RegisterBroadcast(fn BroadcastFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = fn
}

// Subscribe adds a connection to a channel's subscriber set. The first
// subscriber starts the channel's watcher. Idempotent.
func (m *Manager) Subscribe(channel, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.subscribers[channel]
	if !ok {
		set = make(map[string]struct{})
		m.subscribers[channel] = set
		m.startWatcherLocked(channel)
		m.logger.Info("channel opened",
			zap.String("channel", channel),
			zap.String("connID", connID),
		)
	}
	set[connID] = struct{}{}

	m.logger.Debug("subscribed",
		zap.String("channel", channel),
		zap.String("connID", connID),
		zap.Int("subscribers", len(set)),
	)
}

// Unsubscribe removes a connection from a channel. When the last
// subscriber leaves, the watcher stops and all per-channel state is
// discarded. Unknown channels and connections are no-ops.
func (m *Manager) Unsubscribe(channel, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribeLocked(channel, connID)
}

func (m *Manager) unsubscribeLocked(channel, connID string) {
	set, ok := m.subscribers[channel]
	if !ok {
		return
	}

	delete(set, connID)
	m.logger.Debug("unsubscribed",
		zap.String("channel", channel),
		zap.String("connID", connID),
		zap.Int("remaining", len(set)),
	)

	if len(set) == 0 {
		delete(m.subscribers, channel)
		m.stopWatcherLocked(channel)
		m.logger.Info("channel closed", zap.String("channel", channel))
	}
}

// RemoveConnection unsubscribes a lost connection from every channel it
// was a member of. Safe to call for connections with no subscriptions.
func (m *Manager) RemoveConnection(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var member []string
	for channel, set := range m.subscribers {
		if _, ok := set[connID]; ok {
			member = append(member, channel)
		}
	}
	for _, channel := range member {
		m.unsubscribeLocked(channel, connID)
	}
}

// Stats reports the active channels and subscriber counts. Read-only.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		ActiveChannels: len(m.subscribers),
		Channels:       make(map[string]int, len(m.subscribers)),
	}
	for channel, set := range m.subscribers {
		stats.Channels[channel] = len(set)
		stats.TotalSubscribers += len(set)
	}
	return stats
}

// Cleanup stops every watcher and clears all registries. Called once at
// process shutdown.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.watchers {
		w.cancel()
	}
	m.watchers = make(map[string]*watcher)
	m.subscribers = make(map[string]map[string]struct{})
	m.fingerprints = make(map[string]uint64)
	m.gates = make(map[string]*rate.Limiter)

	m.logger.Info("sync manager cleaned up")
}

// startWatcherLocked creates the watcher and gate for a channel. No-op
// if a watcher already exists, guarding duplicate subscription races.
func (m *Manager) startWatcherLocked(channel string) {
	if _, ok := m.watchers[channel]; ok {
		return
	}

	// A fresh limiter holds a full token, so the first poll after
	// subscription can emit the initial snapshot immediately.
	m.gates[channel] = rate.NewLimiter(rate.Every(m.backpressureMin), 1)
	m.watchers[channel] = m.startWatcher(channel)
}

// stopWatcherLocked cancels the watcher and drops every per-channel map
// entry together, so fingerprint and gate never outlive the channel.
func (m *Manager) stopWatcherLocked(channel string) {
	if w, ok := m.watchers[channel]; ok {
		w.cancel()
		delete(m.watchers, channel)
	}
	delete(m.fingerprints, channel)
	delete(m.gates, channel)
}
