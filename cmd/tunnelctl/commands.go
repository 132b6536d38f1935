package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/tunnelctl"
	"github.com/loykin/tunnelctl/pkg/client"
)

type command struct {
	out io.Writer
}

// apiClient resolves the daemon URL: --api-url, then the served address from
// --config, then the local default.
func apiClient(f *APIFlags) (*client.Client, error) {
	cfg := client.DefaultConfig()
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	switch {
	case f.APIUrl != "":
		cfg.BaseURL = f.APIUrl
	case f.Global != nil && f.Global.ConfigPath != "":
		c, err := tunnelctl.LoadConfig(f.Global.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg.BaseURL = baseURLFor(c.Server.Listen, c.Server.BasePath)
	}
	return client.New(cfg), nil
}

// baseURLFor turns a listen address into a URL a local client can dial.
func baseURLFor(listen, basePath string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return client.DefaultBaseURL
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + basePath
}

func connected(ctx context.Context, c *client.Client) error {
	if !c.IsReachable(ctx) {
		return errors.New("daemon not reachable - please start it first with 'tunnelctl serve'")
	}
	return nil
}

func (c command) List(ctx context.Context, cl *client.Client, asJSON bool) error {
	ps, err := cl.ListProfiles(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		printJSON(c.out, ps)
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tENABLED\tAUTO-RECONNECT\tCOMMAND")
	for _, p := range ps {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n", p.ID, p.Name, p.Enabled, p.AutoReconnect, p.Command)
	}
	return tw.Flush()
}

func (c command) Show(ctx context.Context, cl *client.Client, id string) error {
	p, err := cl.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	printJSON(c.out, p)
	return nil
}

func (c command) Add(ctx context.Context, cl *client.Client, f AddFlags) error {
	if strings.TrimSpace(f.Command) == "" {
		return errors.New("command is required")
	}
	keepAlive, autoReconnect := f.KeepAlive, f.AutoReconnect
	p, err := cl.AddProfile(ctx, client.Draft{
		Name:                 f.Name,
		Command:              f.Command,
		KeepAlive:            &keepAlive,
		KeepAliveInterval:    f.KeepAliveInterval,
		AutoReconnect:        &autoReconnect,
		MaxReconnectAttempts: f.MaxReconnectAttempts,
	})
	if err != nil {
		return err
	}
	printJSON(c.out, p)
	return nil
}

func (c command) Update(ctx context.Context, cl *client.Client, id string, f UpdateFlags) error {
	p, err := cl.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if f.Name != nil {
		p.Name = *f.Name
	}
	if f.Command != nil {
		p.Command = *f.Command
	}
	if f.KeepAlive != nil {
		p.KeepAlive = *f.KeepAlive
	}
	if f.KeepAliveInterval != nil {
		p.KeepAliveInterval = *f.KeepAliveInterval
	}
	if f.AutoReconnect != nil {
		p.AutoReconnect = *f.AutoReconnect
	}
	if f.MaxReconnectAttempts != nil {
		p.MaxReconnectAttempts = *f.MaxReconnectAttempts
	}
	if err := cl.UpdateProfile(ctx, p); err != nil {
		return err
	}
	printJSON(c.out, p)
	return nil
}

// SetEnabled enables or disables a profile. It is a no-op when already in that state.
func (c command) SetEnabled(ctx context.Context, cl *client.Client, id string, enabled bool) error {
	p, err := cl.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if p.Enabled != enabled {
		p.Enabled = enabled
		if err := cl.UpdateProfile(ctx, p); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(c.out, "%s: enabled=%t\n", id, enabled)
	return nil
}

// Do runs a simple action against one profile and reports it.
func (c command) Do(ctx context.Context, id, verb string, action func(context.Context, string) error) error {
	if err := action(ctx, id); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s: %s\n", id, verb)
	return nil
}

func (c command) Stats(ctx context.Context, cl *client.Client, id string) error {
	st, err := cl.ProcessStats(ctx, id)
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

func (c command) Status(ctx context.Context, cl *client.Client, f StatusFlags) error {
	if !f.Watch {
		snap, err := cl.Status(ctx)
		if err != nil {
			return err
		}
		return c.printSnapshot(snap)
	}
	err := cl.WatchStatus(ctx, func(s client.Snapshot) {
		_, _ = fmt.Fprintf(c.out, "--- %s\n", time.Now().Format(time.TimeOnly))
		_ = c.printSnapshot(s)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c command) printSnapshot(s client.Snapshot) error {
	_, _ = fmt.Fprintf(c.out, "%d/%d connected\n", s.Connected, s.Total)
	if len(s.Profiles) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSTATE\tPID\tATTEMPTS")
	for _, p := range s.Profiles {
		pid := "-"
		if p.PID > 0 {
			pid = fmt.Sprint(p.PID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", p.ID, p.Name, p.State, pid, p.Attempts)
	}
	return tw.Flush()
}
