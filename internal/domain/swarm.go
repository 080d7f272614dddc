package domain

import "time"

// SwarmStatus is the idle classification of an in-memory swarm handle.
type SwarmStatus string

const (
	SwarmRunning  SwarmStatus = "running"
	SwarmPausing  SwarmStatus = "pausing"
	SwarmPaused   SwarmStatus = "paused"
	SwarmStopping SwarmStatus = "stopping"
)

type SwarmState struct {
	InfoHash     InfoHash    `json:"infoHash"`
	Status       SwarmStatus `json:"status"`
	Ready        bool        `json:"ready"`
	Paused       bool        `json:"paused"`
	ActiveReads  int         `json:"activeReads"`
	LastReadDate time.Time   `json:"lastReadDate"`
}
