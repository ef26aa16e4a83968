// Package remote implements the TCP client side of the master protocol:
// scraping a peer master's server list via the same `update` exchange a
// game client uses.
package remote

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/sauerworld/qmaster/internal/codec"
	"github.com/sauerworld/qmaster/internal/logging"
	"github.com/sauerworld/qmaster/internal/registry"
)

const dialTimeout = 10 * time.Second

// addserverLine matches `addserver IP PORT PRIO "DESC" "HANDLE" "ROLE" "BRANCH"`.
var addserverLine = regexp.MustCompile(
	`^addserver\s+(\S+)\s+(\d+)\s+(-?\d+)\s+"([^"]*)"\s+"([^"]*)"\s+"([^"]*)"\s+"([^"]*)"\s*$`,
)

// Client scrapes one peer master.
type Client struct {
	host string
	port int
}

// New returns a Client targeting host:port's master protocol listener.
func New(host string, port int) *Client {
	return &Client{host: host, port: port}
}

// ListServers opens a TCP connection to the peer, sends "update\n", and
// parses every addserver line it replies with. A single malformed line is
// logged and skipped rather than aborting the whole scrape.
func (c *Client) ListServers(ctx context.Context) ([]registry.Record, error) {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("remote: dialing %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := conn.Write([]byte("update\n")); err != nil {
		return nil, fmt.Errorf("remote: writing update to %s: %w", addr, err)
	}

	var records []registry.Record
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := codec.Decode(scanner.Bytes())

		rec, ok, err := parseAddserver(line)
		if err != nil {
			logging.Warn("remote: %s: malformed addserver line %q: %v", addr, line, err)
			continue
		}
		if !ok {
			continue
		}

		rec.RemoteMaster = &registry.PeerRef{Host: c.host, Port: c.port}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("remote: reading from %s: %w", addr, err)
	}

	return records, nil
}

// parseAddserver parses one line. ok is false (with a nil error) for any
// non-addserver line, which callers ignore per §4.5.
func parseAddserver(line string) (registry.Record, bool, error) {
	if len(line) < len("addserver") || line[:len("addserver")] != "addserver" {
		return registry.Record{}, false, nil
	}

	m := addserverLine.FindStringSubmatch(line)
	if m == nil {
		return registry.Record{}, true, fmt.Errorf("does not match addserver grammar")
	}

	port, err := strconv.Atoi(m[2])
	if err != nil || port <= 0 || port > 65535 {
		return registry.Record{}, true, fmt.Errorf("bad port %q", m[2])
	}

	priority, err := strconv.Atoi(m[3])
	if err != nil {
		return registry.Record{}, true, fmt.Errorf("bad priority %q", m[3])
	}

	rec := registry.Record{
		Identity:    registry.Identity{IP: m[1], Port: uint16(port)},
		Priority:    priority,
		Description: m[4],
		AuthHandle:  m[5],
		Role:        m[6],
		Branch:      m[7],
	}
	return rec, true, nil
}
