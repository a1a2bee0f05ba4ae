package hostapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/20af02/netrelay/p2p"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWorkflows struct {
	err   error
	hang  bool
	calls []p2p.Protocol
	relay string
}

func (f *fakeWorkflows) Submit(_ context.Context, relay string, msg p2p.Protocol) <-chan error {
	f.calls = append(f.calls, msg)
	f.relay = relay
	ch := make(chan error, 1)
	if !f.hang {
		go func() { ch <- f.err }()
	}
	return ch
}

func TestInvokeSendSuccess(t *testing.T) {
	wf := &fakeWorkflows{}
	rt := &Runtime{Workflows: wf}

	code := InvokeSend(rt, `{"relay":"echo","to":"B","payload":"hello"}`)
	assert.Equal(t, CodeSuccess, code)
	assert.NoError(t, rt.LastError())
	if assert.Len(t, wf.calls, 1) {
		assert.Equal(t, "echo", wf.relay)
		assert.Equal(t, "B", wf.calls[0].To)
		assert.Equal(t, "hello", wf.calls[0].String())
		assert.NotEmpty(t, wf.calls[0].ID)
	}
}

func TestInvokeSendBadArgs(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	wf := &fakeWorkflows{}
	rt := &Runtime{Log: zap.New(core), Workflows: wf}

	for _, args := range []string{`not json`, `{"relay":"x","extra":1}`, `{"payload":"no relay"}`} {
		assert.Equal(t, CodeArgumentDeserializationFailed, InvokeSend(rt, args), args)
		assert.Error(t, rt.LastError())
	}
	assert.Empty(t, wf.calls)
	assert.Equal(t, 3, logs.Len())
}

func TestInvokeSendWorkflowFailure(t *testing.T) {
	boom := errors.New("relay refused")
	rt := &Runtime{Workflows: &fakeWorkflows{err: boom}}

	assert.Equal(t, CodeWorkflowFailed, InvokeSend(rt, `{"relay":"r","payload":"x"}`))
	assert.ErrorIs(t, rt.LastError(), boom)
}

func TestInvokeSendTimeout(t *testing.T) {
	rt := &Runtime{Workflows: &fakeWorkflows{hang: true}, Timeout: 20 * time.Millisecond}

	assert.Equal(t, CodeTimeout, InvokeSend(rt, `{"relay":"r","payload":"x"}`))
	assert.ErrorIs(t, rt.LastError(), context.DeadlineExceeded)
}

func TestInvokeSendWithoutWorkflows(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rt := &Runtime{Log: zap.New(core)}

	assert.Equal(t, CodeWorkflowFailed, InvokeSend(rt, `{"relay":"r","payload":"x"}`))
	assert.ErrorIs(t, rt.LastError(), ErrNoWorkflows)
	assert.Equal(t, 1, logs.Len())
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "ArgumentDeserializationFailed", CodeArgumentDeserializationFailed.String())
	assert.Equal(t, "Code(99)", Code(99).String())
}
