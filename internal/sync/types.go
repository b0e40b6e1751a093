package sync

import (
	"context"
	"encoding/json"
)

// Snapshot is the current result set for a channel, produced fresh on
// every poll. Data is the canonical JSON encoding of the records;
// fetching identical data twice must yield byte-identical Data.
type Snapshot struct {
	Kind  string
	Data  json.RawMessage
	Count int
}

// Fetcher produces snapshots for channels. Implementations run the
// read-only query set for the channel's kind against the external store.
type Fetcher interface {
	Fetch(ctx context.Context, channel string) (Snapshot, error)
}

// BroadcastFunc delivers an encoded delta to every subscriber of a
// channel. The transport layer registers one at startup.
type BroadcastFunc func(channel string, payload []byte)

// Delta is the payload pushed to a channel's subscribers when its
// snapshot changes.
type Delta struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Count     int             `json:"count"`
}

// Stats describes the currently active channels and their subscribers.
type Stats struct {
	ActiveChannels   int            `json:"activeChannels"`
	Channels         map[string]int `json:"channels"`
	TotalSubscribers int            `json:"totalSubscribers"`
}
