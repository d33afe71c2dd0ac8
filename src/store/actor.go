package store

import (
	"time"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/topic"
)

// Publisher lets a store actor publish onto the overlay. It must only
// be called from the endpoint's event loop.
type Publisher interface {
	PublishData(t topic.Topic, d message.Data, sender message.EntityID)
	PublishCommand(t topic.Topic, cmd message.Command, sender message.EntityID)
}

// Runner schedules a function on the endpoint's event loop. Run
// returns once the function is enqueued; the caller decides how long
// to wait for its effect.
type Runner interface {
	Run(fn func()) error
}

type inboxItem struct {
	cm     message.CommandMessage
	sender message.EntityID
}

// DefaultOpTimeout bounds the synchronous store operations exposed to
// callers.
const DefaultOpTimeout = 10 * time.Second

func runOp(r Runner, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	ch := make(chan error, 1)
	if err := r.Run(func() { ch <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		return common.NewWeftErr("store", common.Timeout, "operation timed out")
	}
}
