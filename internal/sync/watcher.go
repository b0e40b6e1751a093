package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// watcher is the handle for one channel's polling task. The loop runs in
// its own goroutine; cancel tears it down before its next tick.
type watcher struct {
	channel string
	cancel  context.CancelFunc
}

func (m *Manager) startWatcher(channel string) *watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{channel: channel, cancel: cancel}
	go m.run(ctx, channel)
	return w
}

// run drives the fetch -> detect -> gate -> emit sequence for one
// channel. Running it on a single goroutine serializes the sequence:
// a slow poll simply delays the next tick (time.Ticker drops missed
// ticks), so fingerprint and gate can never be updated concurrently
// for the same channel. Ticks of different channels are independent.
func (m *Manager) run(ctx context.Context, channel string) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.logger.Info("watcher started",
		zap.String("channel", channel),
		zap.Duration("interval", m.pollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("watcher stopped", zap.String("channel", channel))
			return

		case <-ticker.C:
			m.poll(ctx, channel)
		}
	}
}

// poll runs one tick. Fetch failures are logged and skipped; the watcher
// keeps ticking. Subscribers never see an error frame, only the absence
// of an update.
func (m *Manager) poll(ctx context.Context, channel string) {
	m.mu.RLock()
	active := len(m.subscribers[channel]) > 0
	m.mu.RUnlock()
	if !active {
		return
	}

	snap, err := m.fetcher.Fetch(ctx, channel)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("poll failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return
	}

	sum := fingerprint(snap.Data)

	m.mu.RLock()
	prev, seen := m.fingerprints[channel]
	gate := m.gates[channel]
	m.mu.RUnlock()

	// Channel torn down while the fetch was in flight.
	if gate == nil {
		return
	}

	// First poll after subscription counts as changed, so new channels
	// get an initial snapshot.
	if seen && prev == sum {
		return
	}

	if !gate.Allow() {
		// Dropped, not queued: the next tick re-checks against the
		// then-current data.
		m.logger.Debug("emission gated", zap.String("channel", channel))
		return
	}

	m.emit(channel, snap, sum)
}

// emit encodes the delta and hands it to the transport. The fingerprint
// advances only when an emission actually happens, and only while the
// channel is still registered.
func (m *Manager) emit(channel string, snap Snapshot, sum uint64) {
	delta := Delta{
		Type:      snap.Kind + ":delta",
		Channel:   channel,
		Data:      snap.Data,
		Timestamp: time.Now().UnixMilli(),
		Count:     snap.Count,
	}
	payload, err := json.Marshal(delta)
	if err != nil {
		m.logger.Warn("encoding delta failed",
			zap.String("channel", channel),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	if _, active := m.watchers[channel]; !active {
		m.mu.Unlock()
		return
	}
	m.fingerprints[channel] = sum
	subscriberCount := len(m.subscribers[channel])
	broadcast := m.broadcast
	m.mu.Unlock()

	// Lost a race with the final unsubscribe: drop without error.
	if subscriberCount == 0 || broadcast == nil {
		return
	}

	broadcast(channel, payload)

	m.logger.Debug("delta emitted",
		zap.String("channel", channel),
		zap.Int("subscribers", subscriberCount),
		zap.Int("rows", delta.Count),
	)
}

// fingerprint digests a snapshot's canonical JSON bytes. Equal digests
// of two fetches mean the data did not change.
func fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}
