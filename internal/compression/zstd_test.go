package compression

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	in := []byte(strings.Repeat("shopping list ", 200))
	out := Compress(in)
	if !IsCompressed(out) {
		t.Fatal("expected zstd frame header")
	}
	if len(out) >= len(in) {
		t.Errorf("compressed size %d not smaller than %d", len(out), len(in))
	}
	back, err := Decompress(out)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(back, in) {
		t.Error("round trip mismatch")
	}
}

func TestDecompressPassthrough(t *testing.T) {
	in := []byte(`{"v":1}`)
	out, err := Decompress(in)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("plain payload changed: %q", out)
	}
}
