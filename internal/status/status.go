// Package status derives aggregate connection snapshots and fans them out to observers.
package status

import (
	"fmt"

	"github.com/loykin/tunnelctl/internal/profile"
)

// State names the supervisor's view of one profile.
type State string

const (
	Idle       State = "idle"
	Connecting State = "connecting"
	Connected  State = "connected"
)

// ProfileStatus is the per-profile entry of a Snapshot.
type ProfileStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	State     State  `json:"state"`
	PID       int    `json:"pid,omitempty"`
	Attempts  int    `json:"attempts"`
}

// Snapshot is the aggregate view over enabled profiles.
type Snapshot struct {
	Connected int             `json:"connected"`
	Total     int             `json:"total"`
	Profiles  []ProfileStatus `json:"profiles"`
}

// Probe reports the live view of one profile.
type Probe func(id string) ProfileStatus

// Compute builds a Snapshot. Disabled profiles are excluded entirely.
func Compute(profiles []profile.Profile, probe Probe) Snapshot {
	s := Snapshot{Profiles: make([]ProfileStatus, 0, len(profiles))}
	for _, p := range profiles {
		if !p.Enabled {
			continue
		}
		ps := ProfileStatus{ID: p.ID, Name: p.Name, State: Idle}
		if probe != nil {
			ps = probe(p.ID)
			ps.ID, ps.Name = p.ID, p.Name
		}
		s.Total++
		if ps.Connected {
			s.Connected++
		}
		s.Profiles = append(s.Profiles, ps)
	}
	return s
}

// SameAggregate reports whether two snapshots agree on the connected and total counts.
func (s Snapshot) SameAggregate(o Snapshot) bool {
	return s.Connected == o.Connected && s.Total == o.Total
}

// Summary renders the one-line status used by the CLI.
func (s Snapshot) Summary() string {
	switch {
	case s.Total == 0:
		return "No profiles configured"
	case s.Connected == 0:
		return "All Disconnected"
	default:
		return fmt.Sprintf("%d/%d Connected", s.Connected, s.Total)
	}
}

// Lookup returns the entry for id.
func (s Snapshot) Lookup(id string) (ProfileStatus, bool) {
	for _, p := range s.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return ProfileStatus{}, false
}
