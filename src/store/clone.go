package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/topic"
)

// staleAfter is how long a clone tolerates silence from its master
// before it discards its shadow state and asks for a fresh snapshot.
const staleAfter = 3 * keepaliveInterval

type cloneEntry struct {
	key   message.Data
	value message.Data
	exp   *time.Time
}

// Clone is a read replica of a named store. It mirrors the master's
// state from the forwarded command stream, applying commands strictly
// in sequence order and resynchronizing with a snapshot whenever it
// detects a gap or a silent master. Writes are relayed to the master
// channel and take effect only once the master forwards them back.
type Clone struct {
	name   string
	self   message.EntityID
	pub    Publisher
	runner Runner
	clk    clock.Clock
	logger *logrus.Entry

	shadow      map[string]cloneEntry
	inbox       []inboxItem
	seq         uint64
	initialized bool
	lastMaster  time.Time
	lastRequest time.Time

	mu     sync.Mutex
	initCh chan struct{}
}

// NewClone ...
func NewClone(name string, self message.EntityID, pub Publisher,
	runner Runner, clk clock.Clock, logger *logrus.Entry) *Clone {
	return &Clone{
		name:   name,
		self:   self,
		pub:    pub,
		runner: runner,
		clk:    clk,
		logger: logger.WithFields(logrus.Fields{
			"store": name,
			"role":  "clone",
		}),
		shadow: map[string]cloneEntry{},
		initCh: make(chan struct{}),
	}
}

// Name returns the store name.
func (c *Clone) Name() string {
	return c.name
}

// Entity returns the clone's publisher id.
func (c *Clone) Entity() message.EntityID {
	return c.self
}

// ChannelFilter returns the topics the clone consumes.
func (c *Clone) ChannelFilter() topic.Filter {
	return topic.NewFilter(topic.CloneTopic(c.name))
}

// Start asks the master for an initial snapshot. Must run on the event
// loop.
func (c *Clone) Start() {
	c.requestSnapshot()
	c.lastMaster = c.clk.Now()
}

// Enqueue buffers one inbound command message.
func (c *Clone) Enqueue(cm message.CommandMessage, sender message.EntityID) {
	c.inbox = append(c.inbox, inboxItem{cm: cm, sender: sender})
}

// HasPending reports whether commands await processing.
func (c *Clone) HasPending() bool {
	return len(c.inbox) > 0
}

// Process drains the inbox, applying each forwarded command in
// sequence order.
func (c *Clone) Process() {
	inbox := c.inbox
	c.inbox = nil
	for _, item := range inbox {
		cmd := item.cm.Cmd
		c.lastMaster = c.clk.Now()
		switch {
		case cmd.Tag == message.SnapshotTag:
			c.installSnapshot(cmd)
		case cmd.Tag == message.KeepAliveTag:
			if c.initialized && cmd.Seq != c.seq {
				c.logger.WithFields(logrus.Fields{
					"have": c.seq,
					"want": cmd.Seq,
				}).Warn("Sequence drift detected, resynchronizing")
				c.desync()
			}
		case cmd.IsMutation():
			c.applyForwarded(cmd)
		default:
			c.logger.WithField("command", cmd.Tag.String()).
				Debug("Ignoring command on clone channel")
		}
	}
}

// Tick expires due entries locally and watches master liveness.
func (c *Clone) Tick(now time.Time) {
	for k, e := range c.shadow {
		if e.exp != nil && !e.exp.After(now) {
			delete(c.shadow, k)
		}
	}
	if c.initialized && now.Sub(c.lastMaster) >= staleAfter {
		c.logger.Warn("Master went silent, discarding shadow state")
		c.desync()
	}
	// The initial request may predate a route to the master, so keep
	// asking until a snapshot lands.
	if !c.initialized && now.Sub(c.lastRequest) >= keepaliveInterval {
		c.requestSnapshot()
	}
}

// Stats returns the clone's counters.
func (c *Clone) Stats() map[string]string {
	return map[string]string{
		"role":        "clone",
		"seq":         fmt.Sprint(c.seq),
		"keys":        fmt.Sprint(len(c.shadow)),
		"initialized": fmt.Sprint(c.initialized),
	}
}

func (c *Clone) applyForwarded(cmd message.Command) {
	if !c.initialized {
		return
	}
	if cmd.Seq != c.seq+1 {
		c.logger.WithFields(logrus.Fields{
			"have": c.seq,
			"got":  cmd.Seq,
		}).Warn("Command gap detected, resynchronizing")
		c.desync()
		return
	}
	c.seq = cmd.Seq

	switch cmd.Tag {
	case message.PutTag:
		k, err := backendKey(cmd.Key)
		if err != nil {
			c.logger.WithError(err).Warn("Unusable key in forwarded command")
			return
		}
		e := cloneEntry{key: cmd.Key, value: cmd.Value}
		if cmd.Expiry != nil {
			deadline := c.clk.Now().Add(*cmd.Expiry)
			e.exp = &deadline
		}
		c.shadow[k] = e
	case message.EraseTag:
		k, err := backendKey(cmd.Key)
		if err != nil {
			c.logger.WithError(err).Warn("Unusable key in forwarded command")
			return
		}
		delete(c.shadow, k)
	case message.ClearTag:
		c.shadow = map[string]cloneEntry{}
	default:
		// Masters forward add and subtract as materialized puts, so
		// anything else is a protocol violation.
		c.logger.WithField("command", cmd.Tag.String()).
			Warn("Unexpected forwarded command, resynchronizing")
		c.desync()
	}
}

func (c *Clone) installSnapshot(cmd message.Command) {
	now := c.clk.Now()
	shadow := make(map[string]cloneEntry, len(cmd.Entries))
	for _, e := range cmd.Entries {
		k, err := backendKey(e.Key)
		if err != nil {
			c.logger.WithError(err).Warn("Unusable key in snapshot")
			continue
		}
		entry := cloneEntry{key: e.Key, value: e.Value}
		if e.Expiry != nil {
			deadline := now.Add(*e.Expiry)
			entry.exp = &deadline
		}
		shadow[k] = entry
	}
	c.shadow = shadow
	c.seq = cmd.Seq
	if !c.initialized {
		c.initialized = true
		c.mu.Lock()
		close(c.initCh)
		c.mu.Unlock()
	}
	c.logger.WithFields(logrus.Fields{
		"seq":  c.seq,
		"keys": len(c.shadow),
	}).Debug("Snapshot installed")
}

func (c *Clone) desync() {
	c.shadow = map[string]cloneEntry{}
	c.seq = 0
	if c.initialized {
		c.initialized = false
		c.mu.Lock()
		c.initCh = make(chan struct{})
		c.mu.Unlock()
	}
	c.requestSnapshot()
}

func (c *Clone) requestSnapshot() {
	c.lastRequest = c.clk.Now()
	c.pub.PublishCommand(topic.MasterTopic(c.name),
		message.SnapshotRequestCommand(c.self), c.self)
}

func (c *Clone) waitInitialized(timeout time.Duration) error {
	c.mu.Lock()
	ch := c.initCh
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-time.After(timeout):
		return common.NewWeftErr(c.name, common.StoreUninitialized,
			"no snapshot from master")
	}
}

// Get returns the value stored under key, waiting for the initial
// snapshot if necessary.
func (c *Clone) Get(key message.Data, timeout time.Duration) (message.Data, error) {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	deadline := time.Now().Add(timeout)
	if err := c.waitInitialized(timeout); err != nil {
		return message.Data{}, err
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	ch := make(chan getResult, 1)
	if err := c.runner.Run(func() {
		k, err := backendKey(key)
		if err != nil {
			ch <- getResult{err: err}
			return
		}
		e, ok := c.shadow[k]
		if !ok {
			ch <- getResult{err: common.NewWeftErr(c.name, common.KeyNotFound, key.String())}
			return
		}
		ch <- getResult{value: e.value}
	}); err != nil {
		return message.Data{}, err
	}
	select {
	case r := <-ch:
		return r.value, r.err
	case <-time.After(remaining):
		return message.Data{}, common.NewWeftErr(c.name, common.Timeout, "get timed out")
	}
}

// Keys lists all mirrored keys, waiting for the initial snapshot if
// necessary.
func (c *Clone) Keys(timeout time.Duration) ([]message.Data, error) {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	deadline := time.Now().Add(timeout)
	if err := c.waitInitialized(timeout); err != nil {
		return nil, err
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	type result struct {
		keys []message.Data
		err  error
	}
	ch := make(chan result, 1)
	if err := c.runner.Run(func() {
		keys := make([]message.Data, 0, len(c.shadow))
		for _, e := range c.shadow {
			keys = append(keys, e.key)
		}
		ch <- result{keys: keys}
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.keys, r.err
	case <-time.After(remaining):
		return nil, common.NewWeftErr(c.name, common.Timeout, "keys timed out")
	}
}

func (c *Clone) relay(cmd message.Command, timeout time.Duration) error {
	return runOp(c.runner, timeout, func() error {
		c.pub.PublishCommand(topic.MasterTopic(c.name), cmd, c.self)
		return nil
	})
}

// Put relays a write to the master. The local shadow updates once the
// master forwards the applied command back.
func (c *Clone) Put(key, value message.Data, expiry *time.Duration,
	timeout time.Duration) error {
	return c.relay(message.PutCommand(key, value, expiry, c.self), timeout)
}

// Erase relays a removal to the master.
func (c *Clone) Erase(key message.Data, timeout time.Duration) error {
	return c.relay(message.EraseCommand(key, c.self), timeout)
}

// Clear relays a wipe to the master.
func (c *Clone) Clear(timeout time.Duration) error {
	return c.relay(message.ClearCommand(c.self), timeout)
}

// Add relays typed addition to the master.
func (c *Clone) Add(key, delta message.Data, timeout time.Duration) error {
	return c.relay(message.AddCommand(key, delta, c.self), timeout)
}

// Subtract relays typed subtraction to the master.
func (c *Clone) Subtract(key, delta message.Data, timeout time.Duration) error {
	return c.relay(message.SubtractCommand(key, delta, c.self), timeout)
}
