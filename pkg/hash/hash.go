// Package hash implements the incremental content-hash the Download Stage
// uses to verify payload integrity: a hex-encoded SHA-256 digest, matching
// the hex convention used elsewhere in this module for checksum display.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Calculator incrementally hashes a byte stream. The zero value is not
// usable; construct with New.
type Calculator struct {
	h hash.Hash
}

// New returns a ready-to-use Calculator.
func New() *Calculator {
	return &Calculator{h: sha256.New()}
}

// Write feeds bytes into the running digest. Never returns an error; it
// satisfies io.Writer so a Calculator can be used as a io.MultiWriter target.
func (c *Calculator) Write(p []byte) (int, error) {
	return c.h.Write(p)
}

// Sum returns the raw digest bytes of everything written so far. Calling
// Sum does not reset or finalize the calculator's internal state.
func (c *Calculator) Sum() []byte {
	return c.h.Sum(nil)
}

// Hex returns the hex encoding of Sum(), for log lines and diagnostics.
func (c *Calculator) Hex() string {
	return hex.EncodeToString(c.Sum())
}

// OfBytes returns the raw SHA-256 digest of p in one call, for building
// expected-hash values in tests.
func OfBytes(p []byte) []byte {
	c := New()
	c.Write(p)
	return c.Sum()
}
