package p2p

import "errors"

var (
	ErrRelayStopped       = errors.New("relay stopped")
	ErrNilFactory         = errors.New("nil receiver factory")
	ErrNilReceiver        = errors.New("factory returned nil receiver")
	ErrUnknownDestination = errors.New("unknown destination")
	ErrInboxFull          = errors.New("destination inbox full")
	ErrEndpointClosed     = errors.New("endpoint closed")
	ErrLinkDown           = errors.New("link down")
	ErrFrameTooLarge      = errors.New("frame too large")
)
