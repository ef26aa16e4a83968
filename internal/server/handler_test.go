package server

import (
	"bufio"
	"context"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/sauerworld/qmaster/internal/auth"
	"github.com/sauerworld/qmaster/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func pipeHandler(t *testing.T, reg *registry.Registry, authStore *auth.AuthStore) (client net.Conn, done chan struct{}) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	h := NewHandler(reg, authStore, serverConn, nil)

	done = make(chan struct{})
	go func() {
		h.Serve(context.Background())
		close(done)
	}()
	return clientConn, done
}

func readAllLines(t *testing.T, conn net.Conn, n int, timeout time.Duration) []string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	r := bufio.NewReader(conn)
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\n')
		if err != nil {
			break
		}
		lines = append(lines, line[:len(line)-1])
	}
	return lines
}

func alwaysOKPinger(ctx context.Context, host string, infoPort uint16) ([]byte, error) {
	b := []byte{
		0x81, 0xec, 0x04, 0x01, 0x00,
		0x00, 0x0f, 0x80, 0xe6, 0x00, 0x03, 0x00, 0x80, 0x58, 0x02, 0x20,
		0x00, 0x80, 0x86, 0x13, 0x05, 0x01, 0x06, 0x00, 0x02, 0x40, 0x00, 0x00,
	}
	b = append(b, []byte("dropzone")...)
	b = append(b, 0)
	b = append(b, []byte("Einherjer Europe [linuxiuvat.de]")...)
	b = append(b, 0)
	b = append(b, 0) // empty versionbuild (version 1.6)
	return b, nil
}

func alwaysTimeoutPinger(ctx context.Context, host string, infoPort uint16) ([]byte, error) {
	return nil, assert.AnError
}

func TestScenarioEmptyUpdate(t *testing.T) {
	reg := registry.New(registry.Pinger(alwaysOKPinger), nil, nil)
	client, done := pipeHandler(t, reg, auth.NewAuthStore(auth.NewMemoryUserStore()))

	client.Write([]byte("update\n"))

	lines := readAllLines(t, client, 2, time.Second)
	require.Len(t, lines, 2)
	assert.Equal(t, "setversion 160 230", lines[0])
	assert.Equal(t, "clearservers", lines[1])

	client.Close()
	<-done
}

func TestScenarioPingFailRegistration(t *testing.T) {
	reg := registry.New(registry.Pinger(alwaysTimeoutPinger), nil, nil)
	client, done := pipeHandler(t, reg, auth.NewAuthStore(auth.NewMemoryUserStore()))

	client.Write([]byte(`server 28800 * 260 "x" 0 "master"` + "\n"))

	lines := readAllLines(t, client, 1, time.Second)
	require.Len(t, lines, 1)
	assert.Equal(t, `echo "Error: Pinging failed, server will not be listed"`, lines[0])
	client.Close()
	<-done
	assert.Empty(t, reg.Snapshot())
}

func TestScenarioPingOkRegistrationAndListing(t *testing.T) {
	reg := registry.New(registry.Pinger(alwaysOKPinger), nil, nil)
	client, done := pipeHandler(t, reg, auth.NewAuthStore(auth.NewMemoryUserStore()))

	client.Write([]byte(`server 28800 * 260 "x" 0 "master"` + "\n"))
	lines := readAllLines(t, client, 1, time.Second)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Successfully pinged")

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "Einherjer Europe [linuxiuvat.de]", snap[0].Description)

	client.Close()
	<-done
}

func TestScenarioAuthHappyPath(t *testing.T) {
	var priv [32]byte
	priv[0] = 1
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	require.NoError(t, err)

	users := auth.NewMemoryUserStore()
	users.Put("test", hex.EncodeToString(pub), "d")
	authStore := auth.NewAuthStore(users)

	reg := registry.New(registry.Pinger(alwaysOKPinger), nil, nil)
	client, done := pipeHandler(t, reg, authStore)

	client.Write([]byte("reqauth 1 test 1.2.3.4\n"))
	lines := readAllLines(t, client, 1, time.Second)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "chalauth 1 ")

	challengeHex := lines[0][len("chalauth 1 "):]
	challenge, err := hex.DecodeString(challengeHex)
	require.NoError(t, err)

	shared, err := curve25519.X25519(priv[:], challenge)
	require.NoError(t, err)
	reply := hex.EncodeToString(shared[:8])

	client.Write([]byte("confauth 1 " + reply + "\n"))
	lines = readAllLines(t, client, 1, time.Second)
	require.Len(t, lines, 1)
	assert.Equal(t, `succauth 1 "test" "d"`, lines[0])

	client.Close()
	<-done
}

func TestScenarioAuthUnknownUser(t *testing.T) {
	reg := registry.New(registry.Pinger(alwaysOKPinger), nil, nil)
	authStore := auth.NewAuthStore(auth.NewMemoryUserStore())
	client, done := pipeHandler(t, reg, authStore)

	client.Write([]byte("reqauth 7 nobody 1.2.3.4\n"))
	lines := readAllLines(t, client, 1, time.Second)
	require.Len(t, lines, 1)
	assert.Equal(t, "failauth 7", lines[0])

	client.Close()
	<-done
}

func TestScenarioPrivateIPOverrideThenRejectedChange(t *testing.T) {
	reg := registry.New(registry.Pinger(alwaysOKPinger), nil, nil)
	serverConn, clientConn := net.Pipe()
	_ = serverConn.(interface{ SetDeadline(time.Time) error })
	h := NewHandler(reg, auth.NewAuthStore(auth.NewMemoryUserStore()), serverConn, nil)
	h.peerHost = "10.0.0.5"

	done := make(chan struct{})
	go func() {
		h.Serve(context.Background())
		close(done)
	}()

	clientConn.Write([]byte(`server 28800 198.51.100.7 260 "x" 0 "master"` + "\n"))
	lines := readAllLines(t, clientConn, 1, time.Second)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Successfully pinged")

	clientConn.Write([]byte(`server 28800 198.51.100.9 260 "x" 0 "master"` + "\n"))
	lines = readAllLines(t, clientConn, 1, time.Second)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Pinging failed")

	clientConn.Close()
	<-done
}
