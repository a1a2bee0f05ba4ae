// Package hostapi bridges synchronous host calls onto asynchronous
// workflows that deliver messages through named relays. A host call
// decodes its arguments, builds a message, submits it and blocks until
// the workflow resolves. It never touches a relay directly.
package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/20af02/netrelay/crypto"
	"github.com/20af02/netrelay/p2p"
	"go.uber.org/zap"
)

// Code is the status a host call returns to its caller.
type Code int64

const (
	CodeSuccess Code = iota
	CodeArgumentDeserializationFailed
	CodeWorkflowFailed
	CodeTimeout
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "Success"
	case CodeArgumentDeserializationFailed:
		return "ArgumentDeserializationFailed"
	case CodeWorkflowFailed:
		return "WorkflowFailed"
	case CodeTimeout:
		return "Timeout"
	}
	return fmt.Sprintf("Code(%d)", int64(c))
}

// Workflows runs message workflows. Submit must not block; the returned
// channel yields exactly one result.
type Workflows interface {
	Submit(ctx context.Context, relay string, msg p2p.Protocol) <-chan error
}

type Runtime struct {
	Log       *zap.Logger
	Workflows Workflows
	// Timeout bounds the wait on a workflow. Zero waits forever.
	Timeout time.Duration

	lastErr error
}

// LastError returns the error of the most recent failed call, if any.
func (rt *Runtime) LastError() error { return rt.lastErr }

// SendArgs are the JSON arguments of InvokeSend.
type SendArgs struct {
	Relay   string `json:"relay"`
	To      string `json:"to,omitempty"`
	Payload string `json:"payload"`
}

var (
	ErrMissingRelay = errors.New("relay name required")
	ErrNoWorkflows  = errors.New("runtime has no workflow scheduler")
)

func parseSendArgs(s string) (SendArgs, error) {
	var args SendArgs
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, err
	}
	if args.Relay == "" {
		return args, ErrMissingRelay
	}
	return args, nil
}

func (args SendArgs) message() p2p.Protocol {
	return p2p.Protocol{
		ID:      crypto.GenerateID(),
		To:      args.To,
		Payload: []byte(args.Payload),
	}
}

// InvokeSend is the send host call. Malformed arguments are logged and
// reported as CodeArgumentDeserializationFailed.
func InvokeSend(rt *Runtime, args string) Code {
	log := rt.Log
	if log == nil {
		log = zap.NewNop()
	}

	input, err := parseSendArgs(args)
	if err != nil {
		log.Error("invoke_send failed to deserialize SendArgs", zap.String("args", args), zap.Error(err))
		rt.lastErr = err
		return CodeArgumentDeserializationFailed
	}

	if rt.Workflows == nil {
		log.Error("invoke_send has no workflow scheduler", zap.String("relay", input.Relay))
		return rt.storeResult(ErrNoWorkflows)
	}

	ctx := context.Background()
	if rt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.Timeout)
		defer cancel()
	}

	// Wait for the workflow to resolve
	err = blockOn(ctx, rt.Workflows.Submit(ctx, input.Relay, input.message()))
	return rt.storeResult(err)
}

func blockOn(ctx context.Context, fut <-chan error) error {
	select {
	case err := <-fut:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rt *Runtime) storeResult(err error) Code {
	rt.lastErr = err
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeWorkflowFailed
	}
}
