package hash

import (
	"crypto/sha256"
	"testing"
)

func TestCalculatorMatchesStdlibSum(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	want := sha256.Sum256(data)

	c := New()
	// Feed it in pieces to exercise the incremental path, not just one Write.
	for _, chunk := range [][]byte{data[:10], data[10:20], data[20:]} {
		if _, err := c.Write(chunk); err != nil {
			t.Fatalf("Write: %s", err)
		}
	}
	if got := c.Sum(); string(got) != string(want[:]) {
		t.Errorf("Sum() = %x, want %x", got, want)
	}
}

func TestHexMatchesSum(t *testing.T) {
	c := New()
	c.Write([]byte("payload"))
	if got, want := c.Hex(), sumHex(c.Sum()); got != want {
		t.Errorf("Hex() = %q, want %q", got, want)
	}
}

func TestOfBytesMatchesIncremental(t *testing.T) {
	data := []byte("another payload entirely")
	c := New()
	c.Write(data)
	if got, want := OfBytes(data), c.Sum(); string(got) != string(want) {
		t.Errorf("OfBytes = %x, want %x", got, want)
	}
}

func TestSumIsIdempotent(t *testing.T) {
	c := New()
	c.Write([]byte("stable"))
	first := c.Sum()
	second := c.Sum()
	if string(first) != string(second) {
		t.Errorf("Sum() not idempotent: %x != %x", first, second)
	}
}

func sumHex(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0xf]
	}
	return string(out)
}
