package p2p

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TCPPeer is a remote node over an established TCP connection.
type TCPPeer struct {
	net.Conn

	// true if we dial and retrieve a conn
	// false if we accept and retrieve a conn
	outbound bool

	wmu sync.Mutex
}

func NewTCPPeer(conn net.Conn, outbound bool) *TCPPeer {
	return &TCPPeer{
		Conn:     conn,
		outbound: outbound,
	}
}

func (p *TCPPeer) Outbound() bool { return p.outbound }

func (p *TCPPeer) writeFrame(b []byte, timeout time.Duration) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.SetWriteDeadline(time.Now().Add(timeout))
	err := writeFrame(p, b)
	_ = p.SetWriteDeadline(time.Time{})
	return err
}

type TCPTransportOpts struct {
	ListenAddr    string
	HandshakeFunc HandshakeFunc
	Codec         Codec
	OnPeer        func(Peer) error
	Logger        *zap.Logger

	InboxSize    int
	QueueSize    int // frames waiting per destination
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

type inbound struct {
	msg Protocol
	err error
}

// outlink is the send side towards one destination. Its writer goroutine
// dials, then drains q onto the connection.
type outlink struct {
	to string
	q  chan []byte
}

// TCPReceiver is a worker speaking length-prefixed frames over TCP.
// Dialing, writing, accepting and reading all happen on background
// goroutines: decoded messages and send failures wait in a buffered
// channel until the next Tick.
type TCPReceiver struct {
	TCPTransportOpts

	handler  Handler
	listener net.Listener
	in       chan inbound
	closed   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	links map[string]*outlink // by destination listen address
	conns map[*TCPPeer]struct{}
}

func NewTCPReceiver(opts TCPTransportOpts, h Handler) *TCPReceiver {
	if opts.HandshakeFunc == nil {
		opts.HandshakeFunc = NOPHandshakeFunc
	}
	if opts.Codec == nil {
		opts.Codec = GOBCodec{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 128
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPReceiver{
		TCPTransportOpts: opts,
		handler:          h,
		in:               make(chan inbound, opts.InboxSize),
		closed:           make(chan struct{}),
		ctx:              ctx,
		cancel:           cancel,
		links:            make(map[string]*outlink),
		conns:            make(map[*TCPPeer]struct{}),
	}
}

// TCPFactory builds a TCPReceiver and starts listening on opts.ListenAddr.
func TCPFactory(opts TCPTransportOpts) ReceiverFactory {
	return func(h Handler) (Receiver, error) {
		t := NewTCPReceiver(opts, h)
		if err := t.ListenAndAccept(); err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Addr returns the bound listen address, or ListenAddr before listening.
func (t *TCPReceiver) Addr() string {
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.ListenAddr
}

func (t *TCPReceiver) ListenAndAccept() error {
	var err error

	t.listener, err = net.Listen("tcp", t.ListenAddr)
	if err != nil {
		return fmt.Errorf("tcp listen %s: %w", t.ListenAddr, err)
	}

	t.wg.Add(1)
	go t.startAcceptLoop()
	t.Logger.Info("tcp transport listening", zap.String("addr", t.Addr()))
	return nil
}

func (t *TCPReceiver) startAcceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			t.Logger.Warn("tcp accept error", zap.Error(err))
			continue
		}

		peer := NewTCPPeer(conn, false)
		if !t.track(peer) {
			conn.Close()
			return
		}
		go t.handleConn(peer)
	}
}

// track registers p and accounts for its reader goroutine. It reports
// false once Stop has begun.
func (t *TCPReceiver) track(p *TCPPeer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return false
	default:
	}
	t.conns[p] = struct{}{}
	t.wg.Add(1)
	return true
}

func (t *TCPReceiver) forget(p *TCPPeer) {
	t.mu.Lock()
	delete(t.conns, p)
	t.mu.Unlock()
}

func (t *TCPReceiver) handleConn(peer *TCPPeer) {
	var err error
	defer func() {
		t.Logger.Debug("dropping peer connection", zap.Stringer("peer", peer.RemoteAddr()), zap.Error(err))
		t.forget(peer)
		peer.Close()
		t.wg.Done()
	}()

	if !peer.outbound {
		if err = t.HandshakeFunc(peer); err != nil {
			return
		}
		if t.OnPeer != nil {
			if err = t.OnPeer(peer); err != nil {
				return
			}
		}
	}

	r := bufio.NewReader(peer)
	for {
		var frame []byte
		frame, err = readFrame(r)
		if err != nil {
			return
		}

		var msg Protocol
		in := inbound{}
		if derr := t.Codec.Decode(frame, &msg); derr != nil {
			in.err = fmt.Errorf("decode from %s: %w", peer.RemoteAddr(), derr)
		} else {
			in.msg = msg
		}
		if !t.report(in) {
			return
		}
	}
}

// report queues in for the next Tick. It gives up once Stop has begun.
func (t *TCPReceiver) report(in inbound) bool {
	select {
	case t.in <- in:
		return true
	case <-t.closed:
		return false
	}
}

// Receive encodes msg and queues it for the peer listening on msg.To.
// It never waits on the network: a full queue yields ErrInboxFull, and
// dial or write failures are reported through the handler on a later
// Tick. A failed link is dropped so the next call dials again.
func (t *TCPReceiver) Receive(msg Protocol) error {
	msg.From = t.Addr()
	b, err := t.Codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if len(b) > maxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(b), maxFrameSize)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.closed:
		return ErrEndpointClosed
	default:
	}

	l, ok := t.links[msg.To]
	if !ok {
		l = &outlink{to: msg.To, q: make(chan []byte, t.QueueSize)}
		t.links[msg.To] = l
		t.wg.Add(1)
		go t.writeLoop(l)
	}
	select {
	case l.q <- b:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInboxFull, msg.To)
	}
}

// drop removes l so the next Receive for its destination starts over.
// It returns how many frames were still queued.
func (t *TCPReceiver) drop(l *outlink) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.links[l.to] == l {
		delete(t.links, l.to)
	}
	return len(l.q)
}

func (t *TCPReceiver) fail(l *outlink, err error) {
	n := t.drop(l)
	t.Logger.Debug("tcp link failed", zap.String("to", l.to), zap.Int("dropped", n), zap.Error(err))
	t.report(inbound{err: fmt.Errorf("send to %s: %w (%d queued frames dropped)", l.to, err, n)})
}

func (t *TCPReceiver) writeLoop(l *outlink) {
	defer t.wg.Done()

	d := net.Dialer{Timeout: t.DialTimeout}
	conn, err := d.DialContext(t.ctx, "tcp", l.to)
	if err != nil {
		if t.ctx.Err() == nil {
			t.fail(l, fmt.Errorf("dial: %w", err))
		}
		return
	}
	p := NewTCPPeer(conn, true)
	if !t.track(p) {
		conn.Close()
		return
	}
	readerDone := make(chan struct{})
	go func() {
		t.handleConn(p)
		close(readerDone)
	}()

	for {
		select {
		case b := <-l.q:
			if err := p.writeFrame(b, t.WriteTimeout); err != nil {
				p.Close()
				if t.ctx.Err() == nil {
					t.fail(l, fmt.Errorf("write: %w", err))
				}
				return
			}
		case <-readerDone:
			if n := t.drop(l); n > 0 {
				t.report(inbound{err: fmt.Errorf("send to %s: connection closed (%d queued frames dropped)", l.to, n)})
			}
			return
		case <-t.closed:
			return
		}
	}
}

// Tick delivers the messages and failures queued when it was called.
// Anything arriving during the call waits for the next Tick.
func (t *TCPReceiver) Tick() (bool, error) {
	n := len(t.in)
	for i := 0; i < n; i++ {
		in := <-t.in
		if err := t.handler(in.msg, in.err); err != nil {
			return true, err
		}
	}
	return n > 0, nil
}

func (t *TCPReceiver) Stop() error {
	t.mu.Lock()
	select {
	case <-t.closed:
		t.mu.Unlock()
		return nil
	default:
	}
	close(t.closed)
	conns := make([]*TCPPeer, 0, len(t.conns))
	for p := range t.conns {
		conns = append(conns, p)
	}
	t.mu.Unlock()
	t.cancel()

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	for _, p := range conns {
		p.Close()
	}
	t.wg.Wait()
	t.Logger.Info("tcp transport stopped", zap.String("addr", t.Addr()))
	return err
}
