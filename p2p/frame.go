package p2p

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const maxFrameSize = 1 << 20

// writeFrame writes | 1B type | 4B big-endian length | payload |.
func writeFrame(w io.Writer, p []byte) error {
	if len(p) > maxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(p), maxFrameSize)
	}
	var hdr [5]byte
	hdr[0] = IncomingMessageT
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(p)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(p)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	hdr, err := r.Peek(5)
	if err != nil {
		return nil, err
	}
	if hdr[0] != IncomingMessageT {
		return nil, fmt.Errorf("unexpected frame type: 0x%x", hdr[0])
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxFrameSize)
	}
	_, _ = r.Discard(5)
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
