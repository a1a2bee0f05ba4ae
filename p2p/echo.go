package p2p

// EchoReceiver reports every received message straight back through its
// handler. If TickPayload is set, each Tick reports a message carrying it.
type EchoReceiver struct {
	NopReceiver
	TickPayload string

	handler Handler
}

// EchoFactory builds EchoReceivers. An empty tickPayload makes Tick idle.
func EchoFactory(tickPayload string) ReceiverFactory {
	return func(h Handler) (Receiver, error) {
		return &EchoReceiver{TickPayload: tickPayload, handler: h}, nil
	}
}

func (e *EchoReceiver) Receive(msg Protocol) error {
	return e.handler(msg, nil)
}

func (e *EchoReceiver) Tick() (bool, error) {
	if e.TickPayload == "" {
		return false, nil
	}
	if err := e.handler(NewProtocol(e.TickPayload), nil); err != nil {
		return false, err
	}
	return true, nil
}
