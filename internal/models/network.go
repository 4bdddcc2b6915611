package models

import "time"

// NetworkStatus is the monitor's view of connectivity.
type NetworkStatus string

const (
	NetworkUnknown NetworkStatus = "unknown"
	NetworkOnline  NetworkStatus = "online"
	NetworkOffline NetworkStatus = "offline"
)

// NetworkState is a read-only snapshot owned by the network monitor.
type NetworkState struct {
	Status        NetworkStatus `json:"status"`
	LastCheckedAt time.Time     `json:"last_checked_at"`
}
