package models

import "time"

type EventType string

const (
	EventDraftUpdated       EventType = "draft.updated"
	EventDraftCleared       EventType = "draft.cleared"
	EventRegionCreating     EventType = "region.creating"
	EventRegionCreateFailed EventType = "region.create_failed"
	EventRegionCommitted    EventType = "region.committed"
	EventRegionCleared      EventType = "region.cleared"
	EventSpeciesUpdated     EventType = "species.updated"
	EventLayersUpdated      EventType = "layers.updated"
	EventLayersWarning      EventType = "layers.warning"
	EventSimulationUpdated  EventType = "simulation.updated"
	EventSimulationDone     EventType = "simulation.completed"
	EventSessionClosed      EventType = "session.closed"
)

type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	RegionID  string      `json:"region_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BroadcastMessage is the envelope written to websocket clients.
type BroadcastMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}
