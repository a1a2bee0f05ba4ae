package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/20af02/netrelay/p2p"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
)

var (
	ErrNodeStopped  = errors.New("node stopped")
	ErrUnknownRelay = errors.New("unknown relay")
	ErrRelayExists  = errors.New("relay already exists")
)

type NodeOpts struct {
	ID           string
	TickInterval time.Duration
	Journal      *Journal
	Logger       *zap.Logger
}

// Node owns a set of named relays and is their only driver: every Send,
// Tick and Stop runs on the loop goroutine started by Start.
type Node struct {
	NodeOpts

	relays map[string]*p2p.SendRelay
	cmdch  chan func()
	quitch chan struct{}
	donech chan struct{}

	started  atomic.Bool
	stopOnce sync.Once

	// loop goroutine only
	tickErrs map[string]error
}

func NewNode(opts NodeOpts) *Node {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Node{
		NodeOpts: opts,
		relays:   make(map[string]*p2p.SendRelay),
		cmdch:    make(chan func()),
		quitch:   make(chan struct{}),
		donech:   make(chan struct{}),
		tickErrs: make(map[string]error),
	}
}

// Start runs the loop until Stop is called. Later calls return at once.
func (n *Node) Start() {
	if !n.started.CompareAndSwap(false, true) {
		return
	}
	n.Logger.Info("starting node", zap.String("id", n.ID), zap.Duration("tick", n.TickInterval))
	n.loop()
}

// Stop ends the loop after stopping every relay and waits for it. On a
// node that was never started it only marks the node stopped.
func (n *Node) Stop() {
	n.stopOnce.Do(func() { close(n.quitch) })
	if n.started.Load() {
		<-n.donech
	}
}

func (n *Node) loop() {
	ticker := time.NewTicker(n.TickInterval)
	defer func() {
		ticker.Stop()
		n.stopAll()
		n.Logger.Info("node stopped", zap.String("id", n.ID))
		close(n.donech)
	}()

	for {
		select {
		case fn := <-n.cmdch:
			fn()
		case <-ticker.C:
			n.tickAll()
		case <-n.quitch:
			return
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (n *Node) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case n.cmdch <- func() { fn(); close(done) }:
	case <-n.quitch:
		return ErrNodeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (n *Node) handlerFor(name string) p2p.Handler {
	log := n.Logger.With(zap.String("relay", name))
	journal := n.Journal
	return func(msg p2p.Protocol, err error) error {
		if err != nil {
			log.Warn("worker reported failure", zap.Error(err))
			return nil
		}
		log.Debug("message delivered", zap.String("msg_id", msg.ID), zap.String("from", msg.From), zap.Int("size", len(msg.Payload)))
		if journal != nil {
			if err := journal.Record(name, msg); err != nil {
				return fmt.Errorf("journal: %w", err)
			}
		}
		return nil
	}
}

// AddRelay builds a relay named name over factory.
func (n *Node) AddRelay(ctx context.Context, name string, factory p2p.ReceiverFactory) error {
	var err error
	derr := n.do(ctx, func() {
		if _, ok := n.relays[name]; ok {
			err = fmt.Errorf("%w: %s", ErrRelayExists, name)
			return
		}
		log := n.Logger.With(zap.String("relay", name))
		var r *p2p.SendRelay
		r, err = p2p.NewSendRelay(n.handlerFor(name), factory, func() {
			log.Info("relay shut down")
		}, p2p.WithName(name), p2p.WithLogger(n.Logger))
		if err != nil {
			return
		}
		n.relays[name] = r
		log.Info("relay added")
	})
	if derr != nil {
		return derr
	}
	return err
}

// Send hands msg to the relay named name and waits for the result.
func (n *Node) Send(ctx context.Context, name string, msg p2p.Protocol) error {
	var err error
	derr := n.do(ctx, func() {
		r, ok := n.relays[name]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownRelay, name)
			return
		}
		err = r.Send(msg)
	})
	if derr != nil {
		return derr
	}
	return err
}

// Submit is Send without waiting; the channel yields the result once.
func (n *Node) Submit(ctx context.Context, relay string, msg p2p.Protocol) <-chan error {
	res := make(chan error, 1)
	go func() {
		res <- n.Send(ctx, relay, msg)
	}()
	return res
}

// Tick ticks every relay now and reports how many did work.
func (n *Node) Tick(ctx context.Context) (int, error) {
	busy := 0
	err := n.do(ctx, func() { busy = n.tickAll() })
	return busy, err
}

func (n *Node) tickAll() int {
	busy := 0
	for _, name := range n.sortedNames() {
		did, err := n.relays[name].Tick()
		if did {
			busy++
		}
		if err != nil {
			if prev := n.tickErrs[name]; prev == nil || prev.Error() != err.Error() {
				n.Logger.Warn("relay tick failed", zap.String("relay", name), zap.Error(err))
			}
			n.tickErrs[name] = err
			continue
		}
		delete(n.tickErrs, name)
	}
	return busy
}

// StopRelay stops and forgets the relay named name.
func (n *Node) StopRelay(ctx context.Context, name string) error {
	var err error
	derr := n.do(ctx, func() {
		r, ok := n.relays[name]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownRelay, name)
			return
		}
		delete(n.relays, name)
		delete(n.tickErrs, name)
		err = r.Stop()
	})
	if derr != nil {
		return derr
	}
	return err
}

func (n *Node) stopAll() {
	for _, name := range n.sortedNames() {
		if err := n.relays[name].Stop(); err != nil {
			n.Logger.Error("relay stop failed", zap.String("relay", name), zap.Error(err))
		}
		delete(n.relays, name)
	}
}

// Relays lists relay names in sorted order.
func (n *Node) Relays(ctx context.Context) ([]string, error) {
	var names []string
	err := n.do(ctx, func() { names = n.sortedNames() })
	return names, err
}

func (n *Node) sortedNames() []string {
	names := maps.Keys(n.relays)
	slices.Sort(names)
	return names
}
