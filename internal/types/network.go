package types

import "time"

// PresenceStatus represents the session presence reported by the host
type PresenceStatus string

const (
	PresenceActive PresenceStatus = "active"
	PresenceIdle   PresenceStatus = "idle"
)

// NetworkEvent represents a network reachability transition
type NetworkEvent struct {
	Available bool      `json:"available"`
	Source    string    `json:"source,omitempty"`
	At        time.Time `json:"at"`
}

// InterfaceInfo represents a monitored network interface snapshot
type InterfaceInfo struct {
	Name  string   `json:"name"`
	Flags string   `json:"flags"`
	Addrs []string `json:"addrs"`
}
