package main

import "time"

// APIFlags selects the daemon a client command talks to.
type APIFlags struct {
	Global     *GlobalFlags
	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags configures the daemon process itself.
type ServeFlags struct {
	ConfigPath string
	PidFile    string
}

// AddFlags mirrors a profile Draft.
type AddFlags struct {
	Name                 string
	Command              string
	KeepAlive            bool
	KeepAliveInterval    int
	AutoReconnect        bool
	MaxReconnectAttempts int
}

// UpdateFlags carries the fields an update may change. Only flags the user set
// are applied.
type UpdateFlags struct {
	Name                 *string
	Command              *string
	KeepAlive            *bool
	KeepAliveInterval    *int
	AutoReconnect        *bool
	MaxReconnectAttempts *int
}

type StatusFlags struct {
	Watch bool
}
