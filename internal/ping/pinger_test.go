package ping

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers every received datagram with reply, optionally dropping
// the first dropFirst requests to exercise the retry path.
func fakeServer(t *testing.T, reply []byte, dropFirst int) (host string, port uint16, stop func()) {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 2048)
		seen := 0
		for {
			conn.SetReadDeadline(time.Now().Add(overallBudget + attemptWait))
			_, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-done:
					return
				default:
					return
				}
			}
			seen++
			if seen <= dropFirst {
				continue
			}
			conn.WriteToUDP(reply, addr)
		}
	}()

	laddr := conn.LocalAddr().(*net.UDPAddr)
	return "127.0.0.1", uint16(laddr.Port), func() {
		close(done)
		conn.Close()
	}
}

func TestPingReturnsFirstDatagram(t *testing.T) {
	want := []byte{0x81, 0xec, 0x04, 0x01, 0x00, 0x00, 0x0f}
	host, port, stop := fakeServer(t, want, 0)
	defer stop()

	got, err := Ping(context.Background(), host, port)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPingRetriesThenSucceeds(t *testing.T) {
	want := []byte{0x81, 0xec, 0x04, 0x01, 0x00}
	host, port, stop := fakeServer(t, want, 2)
	defer stop()

	got, err := Ping(context.Background(), host, port)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPingTimesOutWhenNoReply(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer conn.Close()
	laddr := conn.LocalAddr().(*net.UDPAddr)

	start := time.Now()
	_, err = Ping(context.Background(), "127.0.0.1", uint16(laddr.Port))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, Timeout)
	assert.Less(t, elapsed, overallBudget+2*time.Second)
}

func TestPingHonoursContextCancellation(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer conn.Close()
	laddr := conn.LocalAddr().(*net.UDPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Ping(ctx, "127.0.0.1", uint16(laddr.Port))
	require.Error(t, err)
}
