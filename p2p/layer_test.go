package p2p

import (
	"errors"
	"strings"
	"testing"

	"github.com/20af02/netrelay/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerTransforms(t *testing.T) {
	ch := make(chan Protocol, 2)
	var seen []string

	lower := func(h Handler) (Receiver, error) {
		return &EchoReceiver{handler: func(msg Protocol, err error) error {
			seen = append(seen, msg.String())
			return h(msg, err)
		}}, nil
	}

	f := LayerFactory(lower, LayerOpts{
		Outbound: func(m Protocol) (Protocol, error) {
			m.Payload = []byte(strings.ToUpper(m.String()))
			return m, nil
		},
		Inbound: func(m Protocol) (Protocol, error) {
			m.Payload = []byte("<" + m.String() + ">")
			return m, nil
		},
	})

	r, err := NewSendRelay(queueHandler(ch), f, nil)
	require.NoError(t, err)

	require.NoError(t, r.Send(NewProtocol("hi")))
	assert.Equal(t, "<HI>", (<-ch).String())
	assert.Equal(t, []string{"HI"}, seen)
	require.NoError(t, r.Stop())
}

func TestLayerOutboundErrorStopsSend(t *testing.T) {
	bad := errors.New("bad")
	f := LayerFactory(EchoFactory(""), LayerOpts{
		Outbound: func(m Protocol) (Protocol, error) { return m, bad },
	})
	r, err := NewSendRelay(func(Protocol, error) error {
		t.Fatal("handler must not run")
		return nil
	}, f, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Send(NewProtocol("x")), bad)
	require.NoError(t, r.Stop())
}

func TestLayerLowerFactoryFailure(t *testing.T) {
	fail := errors.New("no socket")
	f := LayerFactory(func(Handler) (Receiver, error) { return nil, fail }, LayerOpts{})
	_, err := NewSendRelay(nil, f, nil)
	assert.ErrorIs(t, err, fail)
}

func TestEncryptLayerRoundTrip(t *testing.T) {
	key := crypto.NewEncryptionKey()
	ch := make(chan Protocol, 1)
	var wire []byte

	lower := func(h Handler) (Receiver, error) {
		return &EchoReceiver{handler: func(msg Protocol, err error) error {
			wire = msg.Payload
			return h(msg, err)
		}}, nil
	}

	r, err := NewSendRelay(queueHandler(ch), EncryptLayer(lower, key), nil)
	require.NoError(t, err)

	require.NoError(t, r.Send(NewProtocol("classified")))
	assert.Equal(t, "classified", (<-ch).String())
	assert.NotEqual(t, []byte("classified"), wire)
	assert.Len(t, wire, 16+len("classified"))
	require.NoError(t, r.Stop())
}
