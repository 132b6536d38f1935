package notify

import (
	"context"

	"github.com/gen2brain/beeep"
)

// Desktop shows an OS notification through beeep. Delivery happens on its own
// goroutine so a slow notification daemon never stalls the caller.
type Desktop struct {
	Icon string
	send func(title, message, icon string) error
}

func NewDesktop(icon string) *Desktop {
	return &Desktop{Icon: icon, send: beeepNotify}
}

func beeepNotify(title, message, icon string) error {
	return beeep.Notify(title, message, icon)
}

func (d *Desktop) Notify(_ context.Context, n Notification) error {
	send := d.send
	if send == nil {
		send = beeepNotify
	}
	title, text, icon := n.Title(), n.Text(), d.Icon
	go func() { _ = send(title, text, icon) }()
	return nil
}
