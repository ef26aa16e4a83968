package codec

import (
	"unicode/utf8"

	"golang.org/x/text/transform"
)

// decoder and encoder (built by NewDecoder and NewEncoder) adapt the codec
// to golang.org/x/text/transform, so callers
// that already pipe bytes through transform chains (as the rest of the
// x/text-using parts of the stack do) can wrap a connection's writer once
// instead of calling Encode/Decode at every call site.
type decoder struct{ transform.NopResetter }

func (decoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		r := runeTable[src[nSrc]]
		n := copyRune(dst[nDst:], r)
		if n == 0 {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += n
		nSrc++
	}
	return nDst, nSrc, nil
}

type encoder struct{ transform.NopResetter }

func (encoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError && size <= 1 {
			if !atEOF && size == 0 {
				return nDst, nSrc, transform.ErrShortSrc
			}
			return nDst, nSrc, ErrUnencodable(r)
		}
		b, ok := encodeTable[r]
		if !ok {
			return nDst, nSrc, ErrUnencodable(r)
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = b
		nDst++
		nSrc += size
	}
	return nDst, nSrc, nil
}

// NewDecoder returns a transform.Transformer that decodes Cube2 bytes into
// UTF-8, for use with transform.NewReader/NewWriter.
func NewDecoder() transform.Transformer { return decoder{} }

// NewEncoder returns a transform.Transformer that encodes UTF-8 into Cube2
// bytes, for use with transform.NewReader/NewWriter.
func NewEncoder() transform.Transformer { return encoder{} }

func copyRune(dst []byte, r rune) int {
	n := utf8.RuneLen(r)
	if n < 0 || len(dst) < n {
		return 0
	}
	return utf8.EncodeRune(dst, r)
}
