package core

import (
	"time"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/fanout"
	"github.com/weftlabs/weft/src/flare"
	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/topic"
)

const mailboxSize = 1024

// Subscription is a local consumer's view of the overlay: a
// flare-backed mailbox fed with every data message matching its
// filter.
type Subscription struct {
	slot    fanout.Slot
	filter  topic.Filter
	mailbox chan message.DataMessage
	signal  *flare.Flare
	ep      *Endpoint
}

// Filter returns the subscription's filter.
func (s *Subscription) Filter() topic.Filter {
	return s.filter
}

// FD returns a file descriptor that becomes readable when the mailbox
// holds messages, for use in external poll loops.
func (s *Subscription) FD() int {
	return s.signal.FD()
}

// Poll returns the next message without blocking.
func (s *Subscription) Poll() (message.DataMessage, bool) {
	select {
	case dm := <-s.mailbox:
		s.signal.ExtinguishOne()
		return dm, true
	default:
		return message.DataMessage{}, false
	}
}

// Next blocks until a message arrives or the timeout elapses.
func (s *Subscription) Next(timeout time.Duration) (message.DataMessage, error) {
	select {
	case dm := <-s.mailbox:
		s.signal.ExtinguishOne()
		return dm, nil
	case <-time.After(timeout):
		return message.DataMessage{}, common.NewWeftErr("subscription",
			common.Timeout, "no message within timeout")
	}
}

// Cancel detaches the subscription from its endpoint.
func (s *Subscription) Cancel() {
	s.ep.unsubscribe(s)
	s.signal.Close()
}
