package p2p

import "bytes"

const (
	IncomingMessageT byte = 0x1
	IncomingStreamT  byte = 0x2
)

// Protocol holds any arbitrary data that can be handed between two layers
// of a relay stack. The payload is opaque to this package; From and To are
// only read by addressed transports such as the switch and TCP workers.
type Protocol struct {
	ID      string
	From    string
	To      string
	Payload []byte
}

// NewProtocol builds a message carrying s as its payload.
func NewProtocol(s string) Protocol {
	return Protocol{Payload: []byte(s)}
}

// String returns the payload as text.
func (p Protocol) String() string {
	return string(p.Payload)
}

// Clone returns a copy that shares no memory with p.
func (p Protocol) Clone() Protocol {
	out := p
	if p.Payload != nil {
		out.Payload = bytes.Clone(p.Payload)
	}
	return out
}

// Equal reports whether two messages carry the same envelope and payload.
func (p Protocol) Equal(o Protocol) bool {
	return p.ID == o.ID && p.From == o.From && p.To == o.To && bytes.Equal(p.Payload, o.Payload)
}
