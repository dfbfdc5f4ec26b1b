package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"regexp"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint is a 64 character hex BLAKE2b-256 digest.
type Fingerprint string

var hexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Valid reports whether f has the shape of a digest.
func (f Fingerprint) Valid() bool { return hexPattern.MatchString(string(f)) }

// Short returns the first 12 characters, for logs.
func (f Fingerprint) Short() string {
	if len(f) < 12 {
		return string(f)
	}
	return string(f[:12])
}

func (f Fingerprint) String() string { return string(f) }

// Output derives the fingerprint of one named output of a step. Downstream
// steps fold this value in, and the same value is stamped on the output's
// artifact reference once the step succeeds.
func Output(step Fingerprint, output string) Fingerprint {
	e := newEncoder()
	e.field("output")
	e.field(string(step))
	e.field(output)
	return e.sum()
}

// encoder feeds length-prefixed fields into the digest so no two distinct
// field sequences share an encoding.
type encoder struct {
	h hash.Hash
}

func newEncoder() *encoder {
	h, _ := blake2b.New256(nil)
	return &encoder{h: h}
}

func (e *encoder) field(s string) {
	e.bytes([]byte(s))
}

func (e *encoder) bytes(b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	e.h.Write(n[:])
	e.h.Write(b)
}

func (e *encoder) count(n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	e.h.Write(b[:])
}

func (e *encoder) sum() Fingerprint {
	return Fingerprint(hex.EncodeToString(e.h.Sum(nil)))
}
