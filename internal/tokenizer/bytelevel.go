package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// byteLevel is the reversible byte-to-rune mapping of byte-level BPE.
// Printable Latin-1 bytes stand for themselves; every other byte is shifted
// to the runes from U+0100 upwards, in byte order.
type byteLevel struct {
	toRune [256]rune
	toByte map[rune]byte
}

func newByteLevel() *byteLevel {
	bl := &byteLevel{toByte: make(map[rune]byte, 256)}
	shifted := rune(256)
	for b := 0; b < 256; b++ {
		r := rune(b)
		if !printableByte(b) {
			r = shifted
			shifted++
		}
		bl.toRune[b] = r
		bl.toByte[r] = byte(b)
	}
	return bl
}

func printableByte(b int) bool {
	return ('!' <= b && b <= '~') || (0xA1 <= b && b <= 0xAC) || (0xAE <= b && b <= 0xFF)
}

// encode maps every byte of s to its rune.
func (bl *byteLevel) encode(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		b.WriteRune(bl.toRune[s[i]])
	}
	return b.String()
}

// appendDecoded appends the bytes spelled by token to dst. Runes outside
// the mapping are copied as UTF-8.
func (bl *byteLevel) appendDecoded(dst []byte, token string) []byte {
	for _, r := range token {
		if b, ok := bl.toByte[r]; ok {
			dst = append(dst, b)
			continue
		}
		dst = utf8.AppendRune(dst, r)
	}
	return dst
}
