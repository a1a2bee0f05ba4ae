package p2p

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	ch := make(chan Protocol, 4)
	r, err := NewSendRelay(queueHandler(ch), Instrument("echo", EchoFactory("tick"), m), nil)
	require.NoError(t, err)

	require.NoError(t, r.Send(NewProtocol("a")))
	require.NoError(t, r.Send(NewProtocol("b")))
	_, err = r.Tick()
	require.NoError(t, err)
	require.NoError(t, r.Stop())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ops.WithLabelValues("echo", "receive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("echo", "tick")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("echo", "stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busyTicks.WithLabelValues("echo")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.delivered.WithLabelValues("echo", "message")))
	assert.Len(t, ch, 3)

	// registering twice on the same registry fails
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestInstrumentCountsErrors(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = NewSendRelay(nil, Instrument("bad", func(Handler) (Receiver, error) { return nil, boom }, m), nil)
	assert.Equal(t, boom, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("bad", "construct")))

	r, err := NewSendRelay(func(Protocol, error) error { return boom }, Instrument("echo", EchoFactory(""), m), nil)
	require.NoError(t, err)
	assert.Equal(t, boom, r.Send(NewProtocol("x")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("echo", "receive")))
}
