package p2p

import (
	"fmt"

	"github.com/20af02/netrelay/crypto"
)

// relayReceiver adapts a SendRelay so it can be the worker of another
// relay.
type relayReceiver struct {
	inner *SendRelay
}

func (r *relayReceiver) Tick() (bool, error)        { return r.inner.Tick() }
func (r *relayReceiver) Receive(msg Protocol) error { return r.inner.Send(msg) }
func (r *relayReceiver) Stop() error                { return r.inner.Stop() }

// Transform rewrites a message as it crosses a layer boundary.
type Transform func(Protocol) (Protocol, error)

type LayerOpts struct {
	// Outbound runs on every message sent down into the lower layer.
	Outbound Transform
	// Inbound runs on every message the lower layer reports upwards.
	Inbound Transform
}

type layerReceiver struct {
	relayReceiver
	out Transform
}

func (l *layerReceiver) Receive(msg Protocol) error {
	if l.out != nil {
		var err error
		if msg, err = l.out(msg); err != nil {
			return err
		}
	}
	return l.inner.Send(msg)
}

// LayerFactory wraps the worker built by lower inside a relay of its own
// and applies opts at the boundary. The lower worker reports to a handler
// that runs Inbound and then calls the handler of the new layer.
func LayerFactory(lower ReceiverFactory, opts LayerOpts) ReceiverFactory {
	return func(h Handler) (Receiver, error) {
		up := func(msg Protocol, err error) error {
			if err == nil && opts.Inbound != nil {
				msg, err = opts.Inbound(msg)
			}
			return h(msg, err)
		}
		inner, err := NewSendRelay(up, lower, nil)
		if err != nil {
			return nil, err
		}
		return &layerReceiver{
			relayReceiver: relayReceiver{inner: inner},
			out:           opts.Outbound,
		}, nil
	}
}

// EncryptLayer seals payloads with key on the way down and opens them on
// the way up.
func EncryptLayer(lower ReceiverFactory, key []byte) ReceiverFactory {
	return LayerFactory(lower, LayerOpts{
		Outbound: func(msg Protocol) (Protocol, error) {
			sealed, err := crypto.EncryptBytes(key, msg.Payload)
			if err != nil {
				return msg, fmt.Errorf("encrypt layer: %w", err)
			}
			msg.Payload = sealed
			return msg, nil
		},
		Inbound: func(msg Protocol) (Protocol, error) {
			plain, err := crypto.DecryptBytes(key, msg.Payload)
			if err != nil {
				return msg, fmt.Errorf("decrypt layer: %w", err)
			}
			msg.Payload = plain
			return msg, nil
		},
	})
}
