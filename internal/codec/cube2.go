// Package codec implements the Cube2 text encoding used on every wire
// string in the master protocol: TCP command lines, addserver fields, and
// the strings embedded in UDP query replies.
//
// The mapping is a bijective table over a single byte: bytes 0x00-0x7F are
// plain ASCII, bytes 0x80-0xFF map onto a fixed set of Latin-1 punctuation
// and accented letters used by the Cube2 engine's in-game font. Every byte
// decodes to exactly one rune and every mapped rune encodes to exactly one
// byte, so decode(encode(s)) == s and encode(decode(b)) == b always hold.
package codec

import "fmt"

// ErrUnencodable is returned by Encode when a rune has no byte in the table.
type ErrUnencodable rune

func (e ErrUnencodable) Error() string {
	return fmt.Sprintf("cube2: rune %q has no encoding", rune(e))
}

// runeTable[b] is the rune that byte b decodes to.
var runeTable = buildRuneTable()

// encodeTable maps a rune back to its byte. Built once from runeTable so
// the two directions can never drift out of sync with each other.
var encodeTable = buildEncodeTable()

// extendedTable lists the 128 runes bytes 0x80-0xFF decode to, one entry
// per byte starting at 0x80. The five bytes CP1252 leaves undefined
// (0x81, 0x8D, 0x8F, 0x90, 0x9D) are mapped into the Unicode private-use
// area instead of being left out, so the table stays a total bijection
// over all 256 byte values as the round-trip invariant requires.
var extendedTable = [128]rune{
	0x20AC, 0xE081, 0x201A, 0x0192, 0x201E, 0x2026, 0x2020, 0x2021,
	0x02C6, 0x2030, 0x0160, 0x2039, 0x0152, 0xE08D, 0x017D, 0xE08F,
	0xE090, 0x2018, 0x2019, 0x201C, 0x201D, 0x2022, 0x2013, 0x2014,
	0x02DC, 0x2122, 0x0161, 0x203A, 0x0153, 0xE09D, 0x017E, 0x0178,
	0x00A0, 0x00A1, 0x00A2, 0x00A3, 0x00A4, 0x00A5, 0x00A6, 0x00A7,
	0x00A8, 0x00A9, 0x00AA, 0x00AB, 0x00AC, 0x00AD, 0x00AE, 0x00AF,
	0x00B0, 0x00B1, 0x00B2, 0x00B3, 0x00B4, 0x00B5, 0x00B6, 0x00B7,
	0x00B8, 0x00B9, 0x00BA, 0x00BB, 0x00BC, 0x00BD, 0x00BE, 0x00BF,
	0x00C0, 0x00C1, 0x00C2, 0x00C3, 0x00C4, 0x00C5, 0x00C6, 0x00C7,
	0x00C8, 0x00C9, 0x00CA, 0x00CB, 0x00CC, 0x00CD, 0x00CE, 0x00CF,
	0x00D0, 0x00D1, 0x00D2, 0x00D3, 0x00D4, 0x00D5, 0x00D6, 0x00D7,
	0x00D8, 0x00D9, 0x00DA, 0x00DB, 0x00DC, 0x00DD, 0x00DE, 0x00DF,
	0x00E0, 0x00E1, 0x00E2, 0x00E3, 0x00E4, 0x00E5, 0x00E6, 0x00E7,
	0x00E8, 0x00E9, 0x00EA, 0x00EB, 0x00EC, 0x00ED, 0x00EE, 0x00EF,
	0x00F0, 0x00F1, 0x00F2, 0x00F3, 0x00F4, 0x00F5, 0x00F6, 0x00F7,
	0x00F8, 0x00F9, 0x00FA, 0x00FB, 0x00FC, 0x00FD, 0x00FE, 0x00FF,
}

func buildRuneTable() [256]rune {
	var t [256]rune

	// 0x00-0x7F: identity, matching ASCII.
	for b := 0; b < 0x80; b++ {
		t[b] = rune(b)
	}

	for i, r := range extendedTable {
		t[0x80+i] = r
	}

	return t
}

func buildEncodeTable() map[rune]byte {
	m := make(map[rune]byte, 256)
	for b, r := range runeTable {
		if _, dup := m[r]; dup {
			panic(fmt.Sprintf("codec: rune %U mapped by more than one byte", r))
		}
		m[r] = byte(b)
	}
	return m
}

// Encode converts a string into its Cube2 byte representation. Runes not
// present in the table are rejected rather than silently dropped or
// replaced, so callers can distinguish a malformed string from a valid one.
func Encode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := encodeTable[r]
		if !ok {
			return nil, ErrUnencodable(r)
		}
		out = append(out, b)
	}
	return out, nil
}

// MustEncode is Encode for callers (the server, which only ever encodes
// strings it itself constructed from the table's domain) that would treat
// an encode failure as a programming error.
func MustEncode(s string) []byte {
	b, err := Encode(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode converts Cube2-encoded bytes back into a string. Every byte value
// has an entry in the table, so Decode never fails.
func Decode(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = runeTable[c]
	}
	return string(runes)
}
