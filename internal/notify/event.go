package notify

import (
	"encoding/json"
	"fmt"

	"ipwatch/internal/types"

	"github.com/google/uuid"
)

// ChangeEvent is the broker payload for an address change
type ChangeEvent struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Change    types.IPChange `json:"change"`
}

func encodeChange(change *types.IPChange) (ChangeEvent, []byte, error) {
	ev := ChangeEvent{
		EventID:   uuid.NewString(),
		EventType: "ip.change",
		Change:    *change,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return ev, nil, fmt.Errorf("failed to marshal change event: %w", err)
	}
	return ev, data, nil
}
