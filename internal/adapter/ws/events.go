package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventRunStatus     = "run.status"
	EventRunFileChange = "run.file_change"
)

// RunStatusEvent is broadcast when the agent run's state changes, so the
// storefront header can reflect activity outside the open drawer.
type RunStatusEvent struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// RunFileChangeEvent is broadcast for every file the agent touches.
type RunFileChangeEvent struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
