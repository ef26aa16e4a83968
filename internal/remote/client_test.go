package remote

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeMaster(t *testing.T, reply string) (host string, port int, stop func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		line, _ := bufio.NewReader(conn).ReadString('\n')
		if line != "update\n" {
			return
		}
		conn.Write([]byte(reply))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port, func() { ln.Close() }
}

func TestListServersParsesAddserverLines(t *testing.T) {
	reply := "setversion 160 230\n" +
		"clearservers\n" +
		`addserver 198.51.100.7 28800 10 "a server" "" "" "master"` + "\n"

	host, port, stop := fakeMaster(t, reply)
	defer stop()

	c := New(host, port)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	recs, err := c.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "198.51.100.7", recs[0].IP)
	assert.Equal(t, uint16(28800), recs[0].Port)
	assert.Equal(t, "a server", recs[0].Description)
	require.NotNil(t, recs[0].RemoteMaster)
	assert.Equal(t, host, recs[0].RemoteMaster.Host)
}

func TestListServersSkipsMalformedLine(t *testing.T) {
	reply := "setversion 160 230\n" +
		"clearservers\n" +
		`addserver not-even-close-to-valid` + "\n" +
		`addserver 198.51.100.8 28800 0 "ok" "" "" ""` + "\n"

	host, port, stop := fakeMaster(t, reply)
	defer stop()

	c := New(host, port)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	recs, err := c.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "198.51.100.8", recs[0].IP)
}

func TestListServersIgnoresNonAddserverLines(t *testing.T) {
	reply := "setversion 160 230\nclearservers\n"

	host, port, stop := fakeMaster(t, reply)
	defer stop()

	c := New(host, port)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	recs, err := c.ListServers(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
