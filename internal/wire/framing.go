/*
Package wire implements the shared byte-level framing primitives used
by the cluster handshake and by every framed application message:
length-prefixed strings, u32-length-prefixed payloads, and the
constant protocol header.
*/
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Header is the constant ASCII cluster protocol header sent first on
// every new connection, in both directions.
var Header = []byte("shardkv-cluster-rpc\n")

// MaxMessageSize bounds a single framed payload to guard against a
// malformed or malicious length prefix stalling the reader on an
// unbounded allocation.
const MaxMessageSize = 128 << 20 // 128 MiB

var (
	// ErrHeaderMismatch is returned when the peer's leading header
	// bytes don't match ours exactly.
	ErrHeaderMismatch = errors.New("wire: protocol header mismatch")
	// ErrFieldMismatch is returned when a handshake string field
	// (version, arch, build mode) doesn't match byte-exactly.
	ErrFieldMismatch = errors.New("wire: handshake field mismatch")
	// ErrMessageTooLarge is returned when a length prefix exceeds
	// MaxMessageSize.
	ErrMessageTooLarge = errors.New("wire: message exceeds maximum size")
)

// WriteHeader writes the constant protocol header.
func WriteHeader(w io.Writer) error {
	_, err := w.Write(Header)
	return err
}

// ReadAndCheckHeader reads len(Header) bytes and compares them against
// Header byte-exactly. Any mismatch, including a short read, returns
// ErrHeaderMismatch.
func ReadAndCheckHeader(r io.Reader) error {
	buf := make([]byte, len(Header))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrHeaderMismatch, err)
	}
	for i := range buf {
		if buf[i] != Header[i] {
			return ErrHeaderMismatch
		}
	}
	return nil
}

// WriteString writes a length-prefixed string: a u32 length followed
// by the raw bytes.
func WriteString(w io.Writer, s string) error {
	if err := WriteUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString reads a length-prefixed string written by WriteString.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return "", err
	}
	if n > MaxMessageSize {
		return "", ErrMessageTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// CheckStringsEqual reads a length-prefixed string and compares it
// byte-exactly to want, returning ErrFieldMismatch on any difference.
func CheckStringsEqual(r io.Reader, want string) error {
	got, err := ReadString(r)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: want %q got %q", ErrFieldMismatch, want, got)
	}
	return nil
}

// WriteUint32 writes a big-endian u32.
func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadUint32 reads a big-endian u32.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// WriteMessage writes a u32-length-prefixed opaque payload: the
// framing for every application message exchanged after the
// handshake.
func WriteMessage(w io.Writer, payload []byte) error {
	if err := WriteUint32(w, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadMessage reads one u32-length-prefixed payload. r should be
// buffered (e.g. bufio.Reader) so repeated small reads don't each hit
// the syscall layer.
func ReadMessage(r *bufio.Reader) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// PeerIDSize is the wire size of a peer id (128 bits).
const PeerIDSize = 16
