package p2p

import (
	"fmt"
	"sync"
)

const defaultInboxSize = 128

// Switch delivers messages between listened addresses in process.
type Switch struct {
	mu    sync.RWMutex
	inbox map[string]chan Protocol
	size  int
}

func NewSwitch() *Switch {
	return &Switch{inbox: make(map[string]chan Protocol), size: defaultInboxSize}
}

// NewSwitchSize is NewSwitch with a custom per-address inbox capacity.
func NewSwitchSize(size int) *Switch {
	sw := NewSwitch()
	if size > 0 {
		sw.size = size
	}
	return sw
}

func (s *Switch) Listen(addr string) (chan Protocol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inbox[addr]; exists {
		return nil, fmt.Errorf("address already in use: %s", addr)
	}
	ch := make(chan Protocol, s.size)
	s.inbox[addr] = ch
	return ch, nil
}

func (s *Switch) Unlisten(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbox[addr]; !ok {
		return false
	}
	delete(s.inbox, addr)
	return true
}

func (s *Switch) deliver(msg Protocol) error {
	s.mu.RLock()
	dst, ok := s.inbox[msg.To]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDestination, msg.To)
	}
	select {
	case dst <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInboxFull, msg.To)
	}
}

// MemReceiver is a worker attached to one address of a Switch.
type MemReceiver struct {
	sw      *Switch
	addr    string
	in      chan Protocol
	handler Handler
	closed  bool
}

// MemFactory builds a MemReceiver listening on addr.
func MemFactory(sw *Switch, addr string) ReceiverFactory {
	return func(h Handler) (Receiver, error) {
		in, err := sw.Listen(addr)
		if err != nil {
			return nil, err
		}
		return &MemReceiver{sw: sw, addr: addr, in: in, handler: h}, nil
	}
}

func (m *MemReceiver) Addr() string { return m.addr }

// Receive sends msg to the address in msg.To.
func (m *MemReceiver) Receive(msg Protocol) error {
	if m.closed {
		return ErrEndpointClosed
	}
	msg.From = m.addr
	return m.sw.deliver(msg)
}

// Tick hands the messages queued when it was called to the handler,
// oldest first. Messages sent meanwhile wait for the next Tick.
func (m *MemReceiver) Tick() (bool, error) {
	n := len(m.in)
	for i := 0; i < n; i++ {
		if err := m.handler(<-m.in, nil); err != nil {
			return true, err
		}
	}
	return n > 0, nil
}

func (m *MemReceiver) Stop() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.sw.Unlisten(m.addr)
	return nil
}
