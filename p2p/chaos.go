package p2p

import (
	"math/rand"
	"time"
)

type ChaosConfig struct {
	// Probabilities [0..1]
	Loss float64 // drop message
	Dup  float64 // deliver twice
	Hold float64 // hold until the next Tick, reordering it behind later sends

	// Link toggle
	Up bool

	// Seed (optional). If 0, uses time.Now().UnixNano()
	Seed int64
}

// ChaosReceiver is a relayed worker that degrades the link to the layer
// below it. It never sleeps: delay is modelled by holding messages until
// the next Tick.
type ChaosReceiver struct {
	inner *SendRelay
	cfg   ChaosConfig
	rng   *rand.Rand
	held  []Protocol
}

// ChaosFactory wraps the worker built by lower in a ChaosReceiver.
func ChaosFactory(lower ReceiverFactory, cfg ChaosConfig) ReceiverFactory {
	return func(h Handler) (Receiver, error) {
		inner, err := NewSendRelay(h, lower, nil)
		if err != nil {
			return nil, err
		}
		c := cfg
		if c.Seed == 0 {
			c.Seed = time.Now().UnixNano()
		}
		c.Loss, c.Dup, c.Hold = clamp01(c.Loss), clamp01(c.Dup), clamp01(c.Hold)
		return &ChaosReceiver{
			inner: inner,
			cfg:   c,
			rng:   rand.New(rand.NewSource(c.Seed)),
		}, nil
	}
}

// Receive drops, duplicates or holds msg according to the config.
// A dropped message is still reported as handed off.
func (c *ChaosReceiver) Receive(msg Protocol) error {
	if !c.cfg.Up {
		return ErrLinkDown
	}
	if c.rng.Float64() < c.cfg.Loss {
		return nil
	}
	dup := c.rng.Float64() < c.cfg.Dup
	if c.rng.Float64() < c.cfg.Hold {
		c.held = append(c.held, msg.Clone())
		if dup {
			c.held = append(c.held, msg.Clone())
		}
		return nil
	}
	if dup {
		if err := c.inner.Send(msg.Clone()); err != nil {
			return err
		}
	}
	return c.inner.Send(msg)
}

// Tick releases held messages and then ticks the layer below.
func (c *ChaosReceiver) Tick() (bool, error) {
	released := false
	for len(c.held) > 0 {
		msg := c.held[0]
		c.held = c.held[1:]
		if !c.cfg.Up {
			continue
		}
		released = true
		if err := c.inner.Send(msg); err != nil {
			return true, err
		}
	}
	did, err := c.inner.Tick()
	return did || released, err
}

func (c *ChaosReceiver) Stop() error {
	c.held = nil
	return c.inner.Stop()
}

// --- controls ---

func (c *ChaosReceiver) SetUp(up bool)       { c.cfg.Up = up }
func (c *ChaosReceiver) SetLoss(p float64)   { c.cfg.Loss = clamp01(p) }
func (c *ChaosReceiver) SetDup(p float64)    { c.cfg.Dup = clamp01(p) }
func (c *ChaosReceiver) SetHold(p float64)   { c.cfg.Hold = clamp01(p) }
func (c *ChaosReceiver) Config() ChaosConfig { return c.cfg }
func (c *ChaosReceiver) Held() int           { return len(c.held) }

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
