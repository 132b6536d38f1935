package client

import "time"

// Profile is a tunnel definition as served by the daemon.
type Profile struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Command              string `json:"command"`
	Enabled              bool   `json:"enabled"`
	KeepAlive            bool   `json:"keep_alive"`
	KeepAliveInterval    int    `json:"keep_alive_interval"`
	AutoReconnect        bool   `json:"auto_reconnect"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
}

// Draft is the body of an add request. Nil and zero fields take server defaults.
type Draft struct {
	Name                 string `json:"name,omitempty"`
	Command              string `json:"command"`
	KeepAlive            *bool  `json:"keep_alive,omitempty"`
	KeepAliveInterval    int    `json:"keep_alive_interval,omitempty"`
	AutoReconnect        *bool  `json:"auto_reconnect,omitempty"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts,omitempty"`
}

// ProfileStatus is one enabled profile's entry in a Snapshot.
type ProfileStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	PID       int    `json:"pid,omitempty"`
	Attempts  int    `json:"attempts"`
}

// Snapshot is the aggregate connection status.
type Snapshot struct {
	Connected int             `json:"connected"`
	Total     int             `json:"total"`
	Profiles  []ProfileStatus `json:"profiles"`
}

// ProcessStats is a resource sample of a profile's live process.
type ProcessStats struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	Threads    int32     `json:"threads"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
