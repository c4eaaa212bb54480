package classify

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"testing"
)

func TestDecodeBase64Lenient(t *testing.T) {
	original := []byte("hello stamps payload")
	padded := base64.StdEncoding.EncodeToString(original)
	unpadded := padded
	for len(unpadded) > 0 && unpadded[len(unpadded)-1] == '=' {
		unpadded = unpadded[:len(unpadded)-1]
	}

	for _, s := range []string{padded, unpadded} {
		got, err := DecodeBase64Lenient(s)
		if err != nil {
			t.Fatalf("DecodeBase64Lenient(%q) error: %v", s, err)
		}
		if string(got) != string(original) {
			t.Errorf("DecodeBase64Lenient(%q) = %q, want %q", s, got, original)
		}
	}
}

func TestHasZlibMagic(t *testing.T) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte("payload"))
	w.Close()

	if !HasZlibMagic(buf.Bytes()) {
		t.Error("expected genuine zlib stream to be detected")
	}
	if HasZlibMagic([]byte{0x01, 0x02}) {
		t.Error("expected non-zlib bytes to be rejected")
	}

	prefixed := append([]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}, buf.Bytes()...)
	if !HasZlibMagic(prefixed) {
		t.Error("expected zlib stream at offset 5 to be detected")
	}
}

func TestHasGzipMagic(t *testing.T) {
	if !HasGzipMagic([]byte{0x1f, 0x8b, 0x08, 0x00}) {
		t.Error("expected gzip magic to be detected")
	}
	if HasGzipMagic([]byte{0x00, 0x00}) {
		t.Error("expected non-gzip bytes to be rejected")
	}
}

func TestDetectImageMIME(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	if DetectImageMIME(png) != "image/png" {
		t.Error("expected png magic to be detected")
	}
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0}
	if DetectImageMIME(jpeg) != "image/jpeg" {
		t.Error("expected jpeg magic to be detected")
	}
	if DetectImageMIME([]byte("not an image")) != "" {
		t.Error("expected no match for arbitrary text")
	}
}

func TestIsHTMLDocument(t *testing.T) {
	if !IsHTMLDocument([]byte("<!doctype html><html></html>")) {
		t.Error("expected doctype-prefixed content to be detected")
	}
	if !IsHTMLDocument([]byte("  <HTML><body></body></html>")) {
		t.Error("expected case-insensitive leading-whitespace-tolerant match")
	}
	if IsHTMLDocument([]byte("just text")) {
		t.Error("expected plain text to be rejected")
	}
}
