package p2p

import (
	"go.uber.org/zap"
)

// SendRelay is a pass-through Sender. It owns one Receiver and forwards
// Send, Tick and Stop to it, so one transport can be composed into
// another. It adds no buffering, retries or locking.
type SendRelay struct {
	name   string
	log    *zap.Logger
	worker Receiver
	done   Shutdown
}

type RelayOption func(*SendRelay)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *zap.Logger) RelayOption {
	return func(r *SendRelay) {
		if l != nil {
			r.log = l
		}
	}
}

// WithName labels the relay in log output.
func WithName(name string) RelayOption {
	return func(r *SendRelay) { r.name = name }
}

// discard drops delivered messages and passes failures back to the worker.
func discard(_ Protocol, err error) error { return err }

// NewSendRelay builds the worker by calling factory with handler. A
// factory error is returned as is and nothing else is called. A nil
// handler discards deliveries.
func NewSendRelay(handler Handler, factory ReceiverFactory, done Shutdown, opts ...RelayOption) (*SendRelay, error) {
	r := &SendRelay{log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if factory == nil {
		return nil, ErrNilFactory
	}
	if handler == nil {
		handler = discard
	}

	worker, err := factory(handler)
	if err != nil {
		r.log.Debug("relay construction failed", zap.String("relay", r.name), zap.Error(err))
		return nil, err
	}
	if worker == nil {
		return nil, ErrNilReceiver
	}

	r.worker = worker
	r.done = done
	r.log.Debug("relay active", zap.String("relay", r.name))
	return r, nil
}

// Send implements the Sender interface by handing msg to the worker.
func (r *SendRelay) Send(msg Protocol) error {
	if r.worker == nil {
		return ErrRelayStopped
	}
	return r.worker.Receive(msg)
}

// Tick lets the worker perform its upkeep.
func (r *SendRelay) Tick() (bool, error) {
	if r.worker == nil {
		return false, ErrRelayStopped
	}
	return r.worker.Tick()
}

// Stop stops the worker and, only if that succeeded, runs the shutdown
// callback. The relay is unusable afterwards whatever the outcome.
func (r *SendRelay) Stop() error {
	worker := r.worker
	if worker == nil {
		return ErrRelayStopped
	}
	r.worker = nil

	if err := worker.Stop(); err != nil {
		r.done = nil
		r.log.Debug("relay worker stop failed", zap.String("relay", r.name), zap.Error(err))
		return err
	}

	done := r.done
	r.done = nil
	if done != nil {
		done()
	}
	r.log.Debug("relay stopped", zap.String("relay", r.name))
	return nil
}

// Stopped reports whether Stop has been called.
func (r *SendRelay) Stopped() bool {
	return r.worker == nil
}

// Name returns the label given with WithName.
func (r *SendRelay) Name() string {
	return r.name
}

var _ Sender = (*SendRelay)(nil)
