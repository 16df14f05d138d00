package model

import (
	"strconv"
)

// Worker status codes.
const (
	WorkerStatusConnected    = 0
	WorkerStatusDisconnected = 1
	WorkerStatusDead         = 2
)

// WorkerStatus is the broker-internal record of a known execution node.
// Workers are created lazily on their first edit and never removed.
type WorkerStatus struct {
	WorkerID         string `json:"workerId"`
	Location         string `json:"location,omitempty"`
	ProcessID        string `json:"processId,omitempty"`
	LastConnectionTs int64  `json:"lastConnectionTs,omitempty"`
	Status           int    `json:"status"`
}

// CloneForSnapshot returns an independent copy of the worker record.
func (w *WorkerStatus) CloneForSnapshot() *WorkerStatus {
	clone := *w
	return &clone
}

// WorkerStatusView is the structural copy handed to clients. Status is
// rendered as a string, unknown codes as "?<n>".
type WorkerStatusView struct {
	ID               string `json:"id"`
	Location         string `json:"location,omitempty"`
	ProcessID        string `json:"processId,omitempty"`
	LastConnectionTs int64  `json:"lastConnectionTs,omitempty"`
	Status           string `json:"status"`
}

// WorkerStatusString renders a worker status code.
func WorkerStatusString(status int) string {
	switch status {
	case WorkerStatusConnected:
		return "CONNECTED"
	case WorkerStatusDead:
		return "DEAD"
	case WorkerStatusDisconnected:
		return "DISCONNECTED"
	default:
		return "?" + strconv.Itoa(status)
	}
}
