package p2p

import "net"

// Peer is a remote node over an established connection.
type Peer interface {
	RemoteAddr() net.Addr
	Close() error
}

// HandshakeFunc runs once per connection before any frame is read.
type HandshakeFunc func(Peer) error

func NOPHandshakeFunc(Peer) error { return nil }
