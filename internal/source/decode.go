package source

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// sniffSize is how much input is inspected to guess the encoding.
const sniffSize = 64 << 10

// Encoding names reported by Decode.
const (
	EncodingUTF8        = "utf-8"
	EncodingUTF8BOM     = "utf-8-bom"
	EncodingUTF16LE     = "utf-16le"
	EncodingUTF16BE     = "utf-16be"
	EncodingWindows1252 = "windows-1252"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode wraps r so it yields UTF-8 without a byte order mark. UTF-16 input
// is recognized by its BOM. Input that is not valid UTF-8 is read as
// Windows-1252, the usual encoding of spreadsheet exports on Windows.
func Decode(r io.Reader) (io.Reader, string) {
	br := bufio.NewReaderSize(r, sniffSize)
	head, _ := br.Peek(sniffSize)

	var (
		dec  *encoding.Decoder
		name string
	)
	switch {
	case bytes.HasPrefix(head, bomUTF8):
		dec, name = unicode.UTF8BOM.NewDecoder(), EncodingUTF8BOM
	case bytes.HasPrefix(head, bomUTF16LE):
		dec, name = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder(), EncodingUTF16LE
	case bytes.HasPrefix(head, bomUTF16BE):
		dec, name = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder(), EncodingUTF16BE
	case validUTF8Prefix(head):
		// Invalid sequences past the sniffed prefix become U+FFFD.
		dec, name = unicode.UTF8.NewDecoder(), EncodingUTF8
	default:
		dec, name = charmap.Windows1252.NewDecoder(), EncodingWindows1252
	}
	return transform.NewReader(br, dec), name
}

// validUTF8Prefix is utf8.Valid that tolerates a rune cut off by the sniff
// window.
func validUTF8Prefix(b []byte) bool {
	if utf8.Valid(b) {
		return true
	}
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if utf8.Valid(b[:len(b)-i]) && !utf8.FullRune(b[len(b)-i:]) {
			return true
		}
	}
	return false
}
