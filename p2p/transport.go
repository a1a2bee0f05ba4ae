package p2p

// Handler is the callback a worker uses to report something to whoever
// built it. Exactly one of msg and err is meaningful: err != nil reports a
// failure, otherwise msg is a delivered message. The worker calls it
// synchronously from inside Tick or Receive, never later.
type Handler func(msg Protocol, err error) error

// Sender is anything that can hand a message to the next layer down.
// A nil error means local handoff only, not remote delivery.
type Sender interface {
	Send(msg Protocol) error
}

// Receiver is one transport layer. Implementations embed NopReceiver and
// override only the methods they need.
//
// Methods are called by a single driver at a time and must not block.
// No method may be called after Stop.
type Receiver interface {
	// Tick performs upkeep and reports whether any work was done.
	Tick() (bool, error)
	// Receive pushes a message into the worker.
	Receive(msg Protocol) error
	// Stop releases everything the worker holds.
	Stop() error
}

// ReceiverFactory builds a worker bound to h. The factory must not keep h
// anywhere other than in the worker it returns.
type ReceiverFactory func(h Handler) (Receiver, error)

// Shutdown is called once after a relay's worker stopped cleanly.
// A nil Shutdown is allowed.
type Shutdown func()

// NopReceiver provides the default no-op behaviour of every Receiver method.
type NopReceiver struct{}

func (NopReceiver) Tick() (bool, error)    { return false, nil }
func (NopReceiver) Receive(Protocol) error { return nil }
func (NopReceiver) Stop() error            { return nil }

var _ Receiver = NopReceiver{}
