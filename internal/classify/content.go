package classify

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// DecodeBase64Lenient decodes s tolerating a missing or partial padding
// suffix — Bitcoin Stamps payloads routinely omit trailing `=` (spec
// §4.4.3).
func DecodeBase64Lenient(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	if data, err := base64.RawStdEncoding.DecodeString(trimmed); err == nil {
		return data, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// zlibMagicOffsets are the probe offsets spec §4.4.3 specifies for
// detecting a ZLIB stream that may be preceded by a short, variable-length
// prefix (Stamps occasionally prepend a byte or two before the ZLIB header).
var zlibMagicOffsets = []int{0, 5, 7}

// HasZlibMagic probes data at offsets {0, 5, 7} for a valid ZLIB header:
// byte[off] == 0x78 and (byte[off]*256 + byte[off+1]) % 31 == 0.
func HasZlibMagic(data []byte) bool {
	for _, off := range zlibMagicOffsets {
		if off+1 >= len(data) {
			continue
		}
		cmf, flg := data[off], data[off+1]
		if cmf == 0x78 && (int(cmf)*256+int(flg))%31 == 0 {
			return true
		}
	}
	return false
}

// HasGzipMagic reports whether data begins with the GZIP magic bytes.
func HasGzipMagic(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// imageMagics maps known image format magic bytes to their MIME type, for
// the Bitcoin Stamps "Classic" (image) variant.
var imageMagics = []struct {
	magic       []byte
	contentType string
}{
	{[]byte{0x89, 0x50, 0x4e, 0x47}, "image/png"},
	{[]byte{0xff, 0xd8, 0xff}, "image/jpeg"},
	{[]byte("GIF87a"), "image/gif"},
	{[]byte("GIF89a"), "image/gif"},
	{[]byte("RIFF"), "image/webp"}, // followed by size + "WEBP", checked separately
}

// DetectImageMIME returns the MIME type of data if it begins with a known
// image magic (PNG/JPEG/GIF/WebP), or "" otherwise.
func DetectImageMIME(data []byte) string {
	for _, m := range imageMagics {
		if len(data) < len(m.magic) {
			continue
		}
		if string(data[:len(m.magic)]) == string(m.magic) {
			if m.contentType == "image/webp" {
				if len(data) < 12 || string(data[8:12]) != "WEBP" {
					continue
				}
			}
			return m.contentType
		}
	}
	return ""
}

// IsHTMLDocument reports whether data looks like an HTML document (the
// Stamps "HTML" variant) by matching a leading doctype/html tag, case
// insensitively and ignoring leading whitespace.
func IsHTMLDocument(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}

// SniffContentType falls back to the standard library's MIME sniffer for
// content that doesn't match a protocol-specific heuristic.
func SniffContentType(data []byte) string {
	return http.DetectContentType(data)
}
