package p2p

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTCPRelay(t *testing.T, ch chan Protocol, opts TCPTransportOpts) (*SendRelay, *TCPReceiver) {
	t.Helper()
	var worker *TCPReceiver
	f := func(h Handler) (Receiver, error) {
		r, err := TCPFactory(opts)(h)
		if err == nil {
			worker = r.(*TCPReceiver)
		}
		return r, err
	}
	r, err := NewSendRelay(queueHandler(ch), f, nil)
	require.NoError(t, err)
	return r, worker
}

func TestTCPDelivery(t *testing.T) {
	chA := make(chan Protocol, 4)
	chB := make(chan Protocol, 4)

	a, wa := newTCPRelay(t, chA, TCPTransportOpts{ListenAddr: "127.0.0.1:0", Codec: JSONCodec{}})
	b, wb := newTCPRelay(t, chB, TCPTransportOpts{ListenAddr: "127.0.0.1:0", Codec: JSONCodec{}})
	defer b.Stop()

	require.NoError(t, a.Send(Protocol{ID: "1", To: wb.Addr(), Payload: []byte("ping")}))
	require.NoError(t, a.Send(Protocol{ID: "2", To: wb.Addr(), Payload: []byte("pong")}))

	var got []Protocol
	require.Eventually(t, func() bool {
		if _, err := b.Tick(); err != nil {
			return false
		}
		for len(chB) > 0 {
			got = append(got, <-chB)
		}
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "ping", got[0].String())
	assert.Equal(t, "pong", got[1].String())
	assert.Equal(t, wa.Addr(), got[0].From)

	require.NoError(t, a.Stop())
}

// errHandler forwards worker-reported failures into errs and drops messages.
func errHandler(errs chan<- error) Handler {
	return func(_ Protocol, err error) error {
		if err != nil {
			errs <- err
		}
		return nil
	}
}

func TestTCPDialFailureReportedOnTick(t *testing.T) {
	errs := make(chan error, 4)
	a, err := NewSendRelay(errHandler(errs), TCPFactory(TCPTransportOpts{ListenAddr: "127.0.0.1:0", DialTimeout: 200 * time.Millisecond}), nil)
	require.NoError(t, err)

	// grab a free port and release it so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	require.NoError(t, a.Send(Protocol{To: addr}))
	require.Eventually(t, func() bool {
		_, err := a.Tick()
		return err == nil && len(errs) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorContains(t, <-errs, "dial")

	require.NoError(t, a.Stop())
	assert.ErrorIs(t, a.Send(Protocol{To: addr}), ErrRelayStopped)
}

func TestTCPSendDoesNotWaitOnSlowPeer(t *testing.T) {
	// accepts connections and never reads from them
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := ln.Accept(); err == nil {
			accepted <- conn
		}
	}()
	defer func() {
		select {
		case conn := <-accepted:
			conn.Close()
		default:
		}
	}()

	a, err := NewSendRelay(nil, TCPFactory(TCPTransportOpts{
		ListenAddr:   "127.0.0.1:0",
		QueueSize:    2,
		WriteTimeout: 30 * time.Second,
	}), nil)
	require.NoError(t, err)

	payload := make([]byte, 512<<10)
	full := false
	for i := 0; i < 64 && !full; i++ {
		start := time.Now()
		err := a.Send(Protocol{To: ln.Addr().String(), Payload: payload})
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		if err != nil {
			require.ErrorIs(t, err, ErrInboxFull)
			full = true
		}
	}
	assert.True(t, full, "queue towards a stalled peer never filled")

	start := time.Now()
	require.NoError(t, a.Stop())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTCPTickIsBoundedUnderFlood(t *testing.T) {
	slow := func(Protocol, error) error {
		time.Sleep(time.Millisecond)
		return nil
	}
	var wb *TCPReceiver
	b, err := NewSendRelay(slow, func(h Handler) (Receiver, error) {
		r, err := TCPFactory(TCPTransportOpts{ListenAddr: "127.0.0.1:0", Codec: JSONCodec{}, InboxSize: 16})(h)
		if err == nil {
			wb = r.(*TCPReceiver)
		}
		return r, err
	}, nil)
	require.NoError(t, err)
	defer b.Stop()

	conn, err := net.Dial("tcp", wb.Addr())
	require.NoError(t, err)
	defer conn.Close()
	frame, err := JSONCodec{}.Encode(NewProtocol("flood"))
	require.NoError(t, err)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if writeFrame(conn, frame) != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return len(wb.in) == cap(wb.in) }, 2*time.Second, time.Millisecond)

	// the peer keeps writing, yet every Tick ends after one inbox worth
	for i := 0; i < 3; i++ {
		start := time.Now()
		did, err := b.Tick()
		require.NoError(t, err)
		if i == 0 {
			assert.True(t, did)
		}
		assert.Less(t, time.Since(start), time.Second)
	}
}

func TestTCPListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = NewSendRelay(nil, TCPFactory(TCPTransportOpts{ListenAddr: ln.Addr().String()}), nil)
	assert.Error(t, err)
}

func TestTCPHandshakeRejects(t *testing.T) {
	rejected := make(chan struct{}, 1)
	b, wb := newTCPRelay(t, make(chan Protocol, 1), TCPTransportOpts{
		ListenAddr: "127.0.0.1:0",
		HandshakeFunc: func(Peer) error {
			rejected <- struct{}{}
			return errors.New("go away")
		},
	})
	defer b.Stop()

	a, _ := newTCPRelay(t, make(chan Protocol, 1), TCPTransportOpts{ListenAddr: "127.0.0.1:0"})
	defer a.Stop()

	_ = a.Send(Protocol{To: wb.Addr(), Payload: []byte("x")})
	select {
	case <-rejected:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never ran")
	}

	did, err := b.Tick()
	require.NoError(t, err)
	assert.False(t, did)
}
