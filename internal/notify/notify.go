// Package notify delivers connection state changes to the operator.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Variant classifies a Notification.
type Variant string

const (
	Connected       Variant = "connected"
	Disconnected    Variant = "disconnected"
	Reconnected     Variant = "reconnected"
	ReconnectFailed Variant = "reconnect-failed"
	Warning         Variant = "warning"
)

// AppName titles desktop notifications.
const AppName = "tunnelctl"

// Notification is one fire-and-forget message about a profile.
type Notification struct {
	ProfileID   string    `json:"profile_id"`
	ProfileName string    `json:"profile_name"`
	Connected   bool      `json:"connected"`
	Variant     Variant   `json:"variant"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Title returns the short headline for n.
func (n Notification) Title() string {
	if n.Variant == Warning {
		return AppName + " - Connection Error"
	}
	return AppName
}

// Text returns the body line, e.g. "db: Connected" or "db (Reconnect failed): Disconnected".
func (n Notification) Text() string {
	if n.Message != "" {
		return n.ProfileName + ": " + n.Message
	}
	name := n.ProfileName
	switch n.Variant {
	case Reconnected:
		name += " (Reconnected)"
	case ReconnectFailed:
		name += " (Reconnect failed)"
	}
	state := "Disconnected"
	if n.Connected {
		state = "Connected"
	}
	return fmt.Sprintf("%s: %s", name, state)
}

// Notifier receives notifications. Errors are reported to the caller, who logs
// and drops them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Log writes notifications to a slog.Logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, n Notification) error {
	lg := l.Logger
	if lg == nil {
		lg = slog.Default()
	}
	level := slog.LevelInfo
	if n.Variant == Warning || n.Variant == ReconnectFailed {
		level = slog.LevelWarn
	}
	lg.Log(ctx, level, n.Text(), "profile", n.ProfileID, "variant", string(n.Variant))
	return nil
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, x := range m {
		if x == nil {
			continue
		}
		if err := x.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
