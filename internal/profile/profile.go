package profile

import "strings"

// Field defaults applied when a profile is created from a Draft.
const (
	DefaultName                 = "New Profile"
	DefaultKeepAliveInterval    = 60 // seconds
	DefaultMaxReconnectAttempts = 5
)

// Profile describes one tunnel connection managed by the supervisor.
// ID is assigned by the registry and never changes afterwards.
type Profile struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Command              string `json:"command"` // base invocation as typed by the user
	Enabled              bool   `json:"enabled"` // keep a live connection for this profile
	KeepAlive            bool   `json:"keep_alive"`
	KeepAliveInterval    int    `json:"keep_alive_interval"` // seconds
	AutoReconnect        bool   `json:"auto_reconnect"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
}

// HasCommand reports whether the profile carries a non-blank command.
func (p Profile) HasCommand() bool { return strings.TrimSpace(p.Command) != "" }

// ProbeInterval returns the keepalive probe interval, falling back to the default when unset.
func (p Profile) ProbeInterval() int {
	if p.KeepAliveInterval <= 0 {
		return DefaultKeepAliveInterval
	}
	return p.KeepAliveInterval
}

// MaxAttempts returns the reconnect ceiling, falling back to the default when unset.
func (p Profile) MaxAttempts() int {
	if p.MaxReconnectAttempts <= 0 {
		return DefaultMaxReconnectAttempts
	}
	return p.MaxReconnectAttempts
}

// Draft is the partial profile accepted by an add operation. Nil pointers and zero
// numbers mean "use the default".
type Draft struct {
	Name                 string `json:"name"`
	Command              string `json:"command"`
	KeepAlive            *bool  `json:"keep_alive,omitempty"`
	KeepAliveInterval    int    `json:"keep_alive_interval,omitempty"`
	AutoReconnect        *bool  `json:"auto_reconnect,omitempty"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts,omitempty"`
}

// New materializes a Draft into a Profile with the given id. New profiles start disabled.
func New(id string, d Draft) Profile {
	p := Profile{
		ID:                   id,
		Name:                 d.Name,
		Command:              d.Command,
		Enabled:              false,
		KeepAlive:            true,
		KeepAliveInterval:    d.KeepAliveInterval,
		AutoReconnect:        true,
		MaxReconnectAttempts: d.MaxReconnectAttempts,
	}
	if p.Name == "" {
		p.Name = DefaultName
	}
	if d.KeepAlive != nil {
		p.KeepAlive = *d.KeepAlive
	}
	if d.AutoReconnect != nil {
		p.AutoReconnect = *d.AutoReconnect
	}
	if p.KeepAliveInterval <= 0 {
		p.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if p.MaxReconnectAttempts <= 0 {
		p.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return p
}
