package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/transform"
)

func TestDecoderMatchesDecode(t *testing.T) {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}

	var buf bytes.Buffer
	r := transform.NewReader(bytes.NewReader(b), NewDecoder())
	_, err := io.Copy(&buf, r)
	require.NoError(t, err)

	assert.Equal(t, Decode(b), buf.String())
}

func TestEncoderMatchesEncode(t *testing.T) {
	s := "the quick brown fox jumps over 13 lazy dogs!\n"

	var buf bytes.Buffer
	w := transform.NewWriter(&buf, NewEncoder())
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	want, err := Encode(s)
	require.NoError(t, err)
	assert.Equal(t, want, buf.Bytes())
}

func TestEncoderRejectsUnmappedRune(t *testing.T) {
	var buf bytes.Buffer
	w := transform.NewWriter(&buf, NewEncoder())
	_, err := w.Write([]byte("emoji: \U0001F600"))

	var target ErrUnencodable
	require.ErrorAs(t, err, &target)
}

func TestNewlineRoundTripsThroughBothDirections(t *testing.T) {
	var buf bytes.Buffer
	w := transform.NewWriter(&buf, NewEncoder())
	_, err := w.Write([]byte("server 28800 * 260 \"x\" 0 \"master\"\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var decoded bytes.Buffer
	r := transform.NewReader(bytes.NewReader(buf.Bytes()), NewDecoder())
	_, err = io.Copy(&decoded, r)
	require.NoError(t, err)

	assert.Equal(t, "server 28800 * 260 \"x\" 0 \"master\"\n", decoded.String())
}
