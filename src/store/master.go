package store

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/topic"
)

const (
	journalCap        = 1024
	keepaliveInterval = 2 * time.Second
)

type journalEntry struct {
	seq uint64
	cmd message.Command
}

// Master is the authoritative replica of a named store. It applies
// commands in arrival order, emits change events on the store's event
// topic, and forwards applied commands to clones with a sequence
// number.
type Master struct {
	name    string
	self    message.EntityID
	backend Backend
	pub     Publisher
	runner  Runner
	clk     clock.Clock
	logger  *logrus.Entry

	seq           uint64
	journal       []journalEntry
	inbox         []inboxItem
	lastKeepalive time.Time
}

// NewMaster ...
func NewMaster(name string, self message.EntityID, backend Backend,
	pub Publisher, runner Runner, clk clock.Clock, logger *logrus.Entry) *Master {
	return &Master{
		name:    name,
		self:    self,
		backend: backend,
		pub:     pub,
		runner:  runner,
		clk:     clk,
		logger: logger.WithFields(logrus.Fields{
			"store": name,
			"role":  "master",
		}),
	}
}

// Name returns the store name.
func (m *Master) Name() string {
	return m.name
}

// Entity returns the master's publisher id.
func (m *Master) Entity() message.EntityID {
	return m.self
}

// ChannelFilter returns the topics the master consumes.
func (m *Master) ChannelFilter() topic.Filter {
	return topic.NewFilter(topic.MasterTopic(m.name))
}

// Enqueue buffers one inbound command message.
func (m *Master) Enqueue(cm message.CommandMessage, sender message.EntityID) {
	m.inbox = append(m.inbox, inboxItem{cm: cm, sender: sender})
}

// HasPending reports whether commands await processing.
func (m *Master) HasPending() bool {
	return len(m.inbox) > 0
}

// Process drains the inbox, applying each command in arrival order.
func (m *Master) Process() {
	inbox := m.inbox
	m.inbox = nil
	for _, item := range inbox {
		cmd := item.cm.Cmd
		switch {
		case cmd.IsMutation():
			if err := m.applyMutation(cmd); err != nil {
				m.logger.WithFields(logrus.Fields{
					"command": cmd.Tag.String(),
					"error":   err,
				}).Warn("Failed to apply command")
			}
		case cmd.Tag == message.SnapshotRequestTag:
			m.sendSnapshot()
		default:
			m.logger.WithField("command", cmd.Tag.String()).
				Debug("Ignoring command on master channel")
		}
	}
}

// Tick expires due entries and emits a keepalive when one is due.
func (m *Master) Tick(now time.Time) {
	expired, err := m.backend.Expire(now)
	if err != nil {
		m.logger.WithError(err).Warn("Expiry sweep failed")
	}
	for _, key := range expired {
		m.publishEvent(EraseEvent(key, m.self))
		m.forward(message.EraseCommand(key, m.self))
	}

	if now.Sub(m.lastKeepalive) >= keepaliveInterval {
		m.lastKeepalive = now
		m.pub.PublishCommand(topic.CloneTopic(m.name),
			message.KeepAliveCommand(m.seq, m.self), m.self)
	}
}

// Stats returns the master's counters.
func (m *Master) Stats() map[string]string {
	keys, _ := m.backend.Keys()
	return map[string]string{
		"role": "master",
		"seq":  fmt.Sprint(m.seq),
		"keys": fmt.Sprint(len(keys)),
	}
}

func (m *Master) applyMutation(cmd message.Command) error {
	switch cmd.Tag {
	case message.PutTag:
		if err := m.applyPut(cmd.Key, cmd.Value, cmd.Expiry, cmd.Publisher); err != nil {
			return err
		}
	case message.EraseTag:
		existed, err := m.backend.Erase(cmd.Key)
		if err != nil {
			return err
		}
		if !existed {
			return common.NewWeftErr(m.name, common.KeyNotFound, cmd.Key.String())
		}
		m.publishEvent(EraseEvent(cmd.Key, cmd.Publisher))
	case message.ClearTag:
		keys, err := m.backend.Keys()
		if err != nil {
			return err
		}
		if err := m.backend.Clear(); err != nil {
			return err
		}
		for _, key := range keys {
			m.publishEvent(EraseEvent(key, cmd.Publisher))
		}
	case message.AddTag, message.SubtractTag:
		return m.applyArithmetic(cmd)
	}
	m.forward(cmd)
	return nil
}

func (m *Master) applyPut(key, value message.Data, expiry *time.Duration,
	publisher message.EntityID) error {
	old, err := m.backend.Get(key)
	exists := err == nil
	if err != nil && !common.Is(err, common.KeyNotFound) {
		return err
	}

	entry := Entry{Value: value}
	if expiry != nil {
		deadline := m.clk.Now().Add(*expiry)
		entry.Expiry = &deadline
	}
	if err := m.backend.Put(key, entry); err != nil {
		return err
	}

	if exists {
		m.publishEvent(UpdateEvent(key, old.Value, value, expiry, publisher))
	} else {
		m.publishEvent(InsertEvent(key, value, expiry, publisher))
	}
	return nil
}

func (m *Master) applyArithmetic(cmd message.Command) error {
	var cur message.Data
	var expiry *time.Duration
	old, err := m.backend.Get(cmd.Key)
	switch {
	case err == nil:
		cur = old.Value
		if old.Expiry != nil {
			d := old.Expiry.Sub(m.clk.Now())
			expiry = &d
		}
	case common.Is(err, common.KeyNotFound):
		cur = message.NoneData()
	default:
		return err
	}

	result, err := Arithmetic(cur, cmd.Value, cmd.Tag == message.SubtractTag)
	if err != nil {
		return err
	}
	if err := m.applyPut(cmd.Key, result, expiry, cmd.Publisher); err != nil {
		return err
	}
	// Clones receive the materialized value, not the delta, so they
	// never need the arithmetic rules.
	m.forward(message.PutCommand(cmd.Key, result, expiry, cmd.Publisher))
	return nil
}

// forward ships an applied mutation to clones with its sequence
// number.
func (m *Master) forward(cmd message.Command) {
	m.seq++
	cmd.Seq = m.seq
	m.journal = append(m.journal, journalEntry{seq: m.seq, cmd: cmd})
	if len(m.journal) > journalCap {
		m.journal = m.journal[len(m.journal)-journalCap:]
	}
	m.pub.PublishCommand(topic.CloneTopic(m.name), cmd, m.self)
}

func (m *Master) sendSnapshot() {
	stored, err := m.backend.Snapshot()
	if err != nil {
		m.logger.WithError(err).Warn("Snapshot failed")
		return
	}
	now := m.clk.Now()
	entries := make([]message.SnapshotEntry, 0, len(stored))
	for _, e := range stored {
		entry := message.SnapshotEntry{Key: e.Key, Value: e.Value}
		if e.Expiry != nil {
			d := e.Expiry.Sub(now)
			if d <= 0 {
				continue
			}
			entry.Expiry = &d
		}
		entries = append(entries, entry)
	}
	m.pub.PublishCommand(topic.CloneTopic(m.name),
		message.SnapshotCommand(m.seq, entries, m.self), m.self)
}

func (m *Master) publishEvent(event message.Data) {
	m.pub.PublishData(topic.StoreEventsTopic(m.name), event, m.self)
}

type getResult struct {
	value message.Data
	err   error
}

// Get returns the value stored under key.
func (m *Master) Get(key message.Data, timeout time.Duration) (message.Data, error) {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	ch := make(chan getResult, 1)
	if err := m.runner.Run(func() {
		e, err := m.backend.Get(key)
		ch <- getResult{value: e.Value, err: err}
	}); err != nil {
		return message.Data{}, err
	}
	select {
	case r := <-ch:
		return r.value, r.err
	case <-time.After(timeout):
		return message.Data{}, common.NewWeftErr(m.name, common.Timeout, "get timed out")
	}
}

// Keys lists all stored keys.
func (m *Master) Keys(timeout time.Duration) ([]message.Data, error) {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	type result struct {
		keys []message.Data
		err  error
	}
	ch := make(chan result, 1)
	if err := m.runner.Run(func() {
		keys, err := m.backend.Keys()
		ch <- result{keys: keys, err: err}
	}); err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.keys, r.err
	case <-time.After(timeout):
		return nil, common.NewWeftErr(m.name, common.Timeout, "keys timed out")
	}
}

// Put stores value under key, optionally with an expiry.
func (m *Master) Put(key, value message.Data, expiry *time.Duration,
	timeout time.Duration) error {
	return runOp(m.runner, timeout, func() error {
		return m.applyMutation(message.PutCommand(key, value, expiry, m.self))
	})
}

// Erase removes key.
func (m *Master) Erase(key message.Data, timeout time.Duration) error {
	return runOp(m.runner, timeout, func() error {
		return m.applyMutation(message.EraseCommand(key, m.self))
	})
}

// Clear wipes the store.
func (m *Master) Clear(timeout time.Duration) error {
	return runOp(m.runner, timeout, func() error {
		return m.applyMutation(message.ClearCommand(m.self))
	})
}

// Add applies typed addition to the value under key.
func (m *Master) Add(key, delta message.Data, timeout time.Duration) error {
	return runOp(m.runner, timeout, func() error {
		return m.applyMutation(message.AddCommand(key, delta, m.self))
	})
}

// Subtract applies typed subtraction to the value under key.
func (m *Master) Subtract(key, delta message.Data, timeout time.Duration) error {
	return runOp(m.runner, timeout, func() error {
		return m.applyMutation(message.SubtractCommand(key, delta, m.self))
	})
}
