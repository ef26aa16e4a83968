package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerLineDecimalPort(t *testing.T) {
	cmd, err := parseServerLine(`server 28800 * 260 "x" 0 "master"`)
	require.NoError(t, err)
	assert.Equal(t, 28800, cmd.port)
	assert.Equal(t, int64(260), cmd.version)
	assert.Equal(t, int64(0), cmd.extra)
}

func TestParseServerLineHexPort(t *testing.T) {
	cmd, err := parseServerLine(`server 0x7080 * 260 "x" 0 "master"`)
	require.NoError(t, err)
	assert.Equal(t, 28800, cmd.port)
}

func TestParseServerLineSignedPort(t *testing.T) {
	cmd, err := parseServerLine(`server +28800 * 260 "x" 0 "master"`)
	require.NoError(t, err)
	assert.Equal(t, 28800, cmd.port)
}

func TestParseServerLineNegativePortRejected(t *testing.T) {
	_, err := parseServerLine(`server -28800 * 260 "x" 0 "master"`)
	require.Error(t, err)
}

func TestParseServerLinePortOutOfRangeRejected(t *testing.T) {
	_, err := parseServerLine(`server 0x10000 * 260 "x" 0 "master"`)
	require.Error(t, err)
}

func TestParseServerLineHexVersionAndExtra(t *testing.T) {
	cmd, err := parseServerLine(`server 28800 * 0x104 "x" -0x1 "master"`)
	require.NoError(t, err)
	assert.Equal(t, int64(0x104), cmd.version)
	assert.Equal(t, int64(-1), cmd.extra)
}

func TestParseServerLineMalformedRejected(t *testing.T) {
	_, err := parseServerLine(`server not-a-port * 260 "x" 0 "master"`)
	require.Error(t, err)
}

func TestParseReqauthLine(t *testing.T) {
	cmd, err := parseReqauthLine(`reqauth 7 alice 198.51.100.7`)
	require.NoError(t, err)
	assert.Equal(t, "7", cmd.reqID)
	assert.Equal(t, "alice", cmd.user)
	assert.Equal(t, "198.51.100.7", cmd.userIP)
}

func TestParseConfauthLine(t *testing.T) {
	cmd, err := parseConfauthLine(`confauth 7 deadbeef`)
	require.NoError(t, err)
	assert.Equal(t, "7", cmd.reqID)
	assert.Equal(t, "deadbeef", cmd.reply)
}

func TestParseFlexIntDecimalHexAndSigned(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"260", 260},
		{"0x104", 0x104},
		{"+260", 260},
		{"-260", -260},
		{"-0x1", -1},
	}
	for _, c := range cases {
		got, err := parseFlexInt(c.in)
		require.NoErrorf(t, err, "parsing %q", c.in)
		assert.Equalf(t, c.want, got, "parsing %q", c.in)
	}
}

func TestParseFlexIntRejectsGarbage(t *testing.T) {
	_, err := parseFlexInt("not-a-number")
	require.Error(t, err)
}
