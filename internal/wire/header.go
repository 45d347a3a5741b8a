// Package wire implements the fixed-width flow metadata header exchanged
// between client and server on every connection: a request carries it to
// tell the server how much to stream back, at what rate, and with what
// DSCP marking; the response echoes it back before the payload.
//
// This is nominally an "external collaborator" contract the client assumes
// is already available (see the framing primitives called out in the
// traffic generator's scope notes). It is implemented here as a small,
// narrowly-scoped codec so the module is self-contained; a real shared
// library could be substituted behind the same Header/ReadHeader/WriteHeader
// surface without touching call sites.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the on-wire size of a Header in bytes. The layout mirrors a
// C struct { uint32 id; uint32 size; uint8 tos; uint32 rate_mbps; } under
// natural 4-byte alignment: 3 padding bytes follow tos so rate_mbps starts
// on a 4-byte boundary.
const HeaderSize = 16

// SentinelID is reserved: a request carrying it instructs the receiving
// side to tear the connection down after echoing one more response. Live
// flows never use it.
const SentinelID = 0

// SentinelPayloadSize is the payload size a sentinel response is expected
// to carry; any small agreed value works, this one matches the contract
// used by the reference stub in tests.
const SentinelPayloadSize = 100

// Header is the fixed-width flow metadata record.
type Header struct {
	ID       uint32
	Size     uint32
	ToS      uint8
	RateMbps uint32
}

// IsSentinel reports whether this header terminates a connection.
func (h Header) IsSentinel() bool {
	return h.ID == SentinelID
}

// Sentinel builds the termination header sent by the dispatcher when
// shutting a connection down.
func Sentinel() Header {
	return Header{ID: SentinelID, Size: SentinelPayloadSize}
}

// Encode serializes h into a HeaderSize-byte array.
func Encode(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.ID)
	binary.BigEndian.PutUint32(buf[4:8], h.Size)
	buf[8] = h.ToS
	// buf[9:12] is padding, left zero.
	binary.BigEndian.PutUint32(buf[12:16], h.RateMbps)
	return buf
}

// Decode parses a HeaderSize-byte array into a Header.
func Decode(buf [HeaderSize]byte) Header {
	return Header{
		ID:       binary.BigEndian.Uint32(buf[0:4]),
		Size:     binary.BigEndian.Uint32(buf[4:8]),
		ToS:      buf[8],
		RateMbps: binary.BigEndian.Uint32(buf[12:16]),
	}
}

// WriteHeader writes h to w.
func WriteHeader(w io.Writer, h Header) error {
	buf := Encode(h)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// ReadHeader reads a Header from r, blocking until HeaderSize bytes arrive
// or the stream ends.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	return Decode(buf), nil
}

// readChunkSize bounds how much payload we drain per read, matching the
// per-read cap on the receiver's draining loop.
const readChunkSize = 4096

// DrainPayload reads and discards exactly size bytes from r in bounded
// chunks, returning an error if fewer bytes arrive before the stream ends.
func DrainPayload(r io.Reader, size uint32) error {
	buf := make([]byte, readChunkSize)
	remaining := size
	for remaining > 0 {
		n := readChunkSize
		if uint32(n) > remaining {
			n = int(remaining)
		}
		read, err := r.Read(buf[:n])
		remaining -= uint32(read)
		if err != nil {
			if remaining == 0 {
				break
			}
			return fmt.Errorf("drain payload: %w", err)
		}
	}
	return nil
}

// WritePayload writes size bytes from payload to w. payload must be at
// least size bytes long; only the first size bytes are written.
func WritePayload(w io.Writer, payload []byte, size uint32) error {
	if uint32(len(payload)) < size {
		return fmt.Errorf("write payload: buffer too small for size %d", size)
	}
	if _, err := w.Write(payload[:size]); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}
