package ws

import (
	"encoding/json"
	"fmt"

	"github.com/Alansi775/yshop-sync/internal/sync"
)

// upstreamMessage is a client -> server frame.
type upstreamMessage struct {
	Type    string  `json:"type"`
	Channel string  `json:"channel,omitempty"`
	AckID   *uint64 `json:"ackId,omitempty"`
}

func parseUpstreamMessage(data []byte) (*upstreamMessage, error) {
	var msg upstreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal upstream message: %w", err)
	}
	switch msg.Type {
	case "subscribe", "unsubscribe", "get-stats", "ping":
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", msg.Type)
	}
}

// buildConnectedFrame greets a new connection with its assigned id.
func buildConnectedFrame(connID string) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":         "connected",
		"connectionId": connID,
	})
	return data
}

// buildAckFrame acknowledges a subscribe/unsubscribe request.
func buildAckFrame(ackID uint64, success bool) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":    "ack",
		"ackId":   ackID,
		"success": success,
	})
	return data
}

// buildStatsFrame carries the registry stats reply.
func buildStatsFrame(stats sync.Stats) []byte {
	data, _ := json.Marshal(map[string]any{
		"type": "stats",
		"data": stats,
	})
	return data
}

// buildDeltaFrame wraps an already-encoded delta payload. The payload is
// the sync core's `{type, channel, data, timestamp, count}` object.
func buildDeltaFrame(payload []byte) []byte {
	data, _ := json.Marshal(map[string]any{
		"type": "data:delta",
		"data": json.RawMessage(payload),
	})
	return data
}

func buildPongFrame() []byte {
	data, _ := json.Marshal(map[string]any{
		"type": "pong",
	})
	return data
}
