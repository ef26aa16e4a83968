package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/text/transform"

	"github.com/sauerworld/qmaster/internal/auth"
	"github.com/sauerworld/qmaster/internal/codec"
	"github.com/sauerworld/qmaster/internal/logging"
	"github.com/sauerworld/qmaster/internal/metrics"
	"github.com/sauerworld/qmaster/internal/registry"
	"github.com/sauerworld/qmaster/internal/telemetry"
)

var tracer = telemetry.Tracer("qmaster/server")

// protocolVersion is the (master, game) version pair emitted by every
// update exchange's setversion line.
const protocolVersion = "setversion 160 230"

// Handler drives the line-oriented protocol for one accepted connection.
// A fresh Handler is created per connection; all of its state — the
// registered record, the pending-identity guard, and the in-flight auth
// requests — is connection-private.
type Handler struct {
	registry *registry.Registry
	auth     *auth.AuthStore
	metrics  *metrics.Metrics

	conn     net.Conn
	out      *transform.Writer
	peerHost string

	record       *registry.Record
	prevIdentity *registry.Identity
	pending      map[string]auth.PendingChallenge
}

// NewHandler constructs a handler for an accepted connection. met may be nil.
func NewHandler(reg *registry.Registry, authStore *auth.AuthStore, conn net.Conn, met *metrics.Metrics) *Handler {
	peerHost, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	return &Handler{
		registry: reg,
		auth:     authStore,
		metrics:  met,
		conn:     conn,
		out:      transform.NewWriter(conn, codec.NewEncoder()),
		peerHost: peerHost,
		pending:  make(map[string]auth.PendingChallenge),
	}
}

// Serve reads and dispatches lines until EOF or a fatal protocol error.
func (h *Handler) Serve(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "server.connection")
	defer span.End()

	h.metrics.IncConnection()
	defer h.metrics.DecConnection()

	defer h.cleanup()

	reader := bufio.NewReader(transform.NewReader(h.conn, codec.NewDecoder()))

	first, err := readLine(reader)
	if err != nil {
		return
	}
	if strings.TrimSpace(first) == "" {
		logging.Debug("%s: empty first line, closing", h.peerHost)
		return
	}

	if first == "update" {
		h.handleUpdate()
		return
	}

	if !h.dispatch(ctx, first) {
		return
	}

	for {
		line, err := readLine(reader)
		if err != nil {
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !h.dispatch(ctx, line) {
			return
		}
	}
}

// dispatch handles one server-session-loop line. It returns false when the
// connection should be closed (a fatal protocol error was already reported).
func (h *Handler) dispatch(ctx context.Context, line string) bool {
	switch {
	case strings.HasPrefix(line, "server"):
		h.handleServer(ctx, line)
		return true
	case strings.HasPrefix(line, "reqauth"):
		h.handleReqauth(ctx, line)
		return true
	case strings.HasPrefix(line, "confauth"):
		h.handleConfauth(ctx, line)
		return true
	default:
		h.writeLine(fmt.Sprintf(`error "Unknown command: %s"`, line))
		return false
	}
}

func (h *Handler) handleUpdate() {
	h.writeLine(protocolVersion)
	h.writeLine("clearservers")
	for _, rec := range h.registry.Snapshot() {
		h.writeLine(addserverLine(rec))
	}
}

func addserverLine(rec registry.Record) string {
	return fmt.Sprintf(`addserver %s %d %d %q %q %q %q`,
		rec.IP, rec.Port, rec.Priority, rec.Description, rec.AuthHandle, rec.Role, rec.Branch)
}

func (h *Handler) handleServer(ctx context.Context, line string) {
	cmd, err := parseServerLine(line)
	if err != nil {
		h.writeLine(fmt.Sprintf(`error "%s"`, err.Error()))
		return
	}

	rec, err := h.registry.Register(ctx, h.peerHost, cmd.serverIP, uint16(cmd.port), 10,
		cmd.desc, "", "", cmd.branch, h.prevIdentity)
	if err != nil {
		h.writeLine(`echo "Error: Pinging failed, server will not be listed"`)
		return
	}

	h.record = rec
	h.prevIdentity = &rec.Identity
	h.writeLine(fmt.Sprintf(`echo "Successfully pinged (%s:%d), server is now listed"`, rec.IP, rec.Port))
}

func (h *Handler) handleReqauth(ctx context.Context, line string) {
	cmd, err := parseReqauthLine(line)
	if err != nil {
		h.writeLine(fmt.Sprintf(`error "%s"`, err.Error()))
		return
	}

	challengeHex, pending, err := h.auth.GenerateChallenge(ctx, cmd.user)
	if err != nil {
		h.writeLine(fmt.Sprintf("failauth %s", cmd.reqID))
		return
	}

	h.pending[cmd.reqID] = pending
	h.writeLine(fmt.Sprintf("chalauth %s %s", cmd.reqID, challengeHex))
}

func (h *Handler) handleConfauth(ctx context.Context, line string) {
	cmd, err := parseConfauthLine(line)
	if err != nil {
		h.writeLine(fmt.Sprintf(`error "%s"`, err.Error()))
		return
	}

	pending, ok := h.pending[cmd.reqID]
	if !ok {
		h.writeLine(fmt.Sprintf("failauth %s", cmd.reqID))
		return
	}
	delete(h.pending, cmd.reqID)

	ok2, err := h.auth.ValidateReply(ctx, cmd.reply, pending)
	if err != nil || !ok2 {
		h.writeLine(fmt.Sprintf("failauth %s", cmd.reqID))
		return
	}

	flags, err := h.auth.GetUserFlags(pending.UserName())
	if err != nil {
		h.writeLine(fmt.Sprintf("failauth %s", cmd.reqID))
		return
	}

	h.writeLine(fmt.Sprintf(`succauth %s %q %q`, cmd.reqID, pending.UserName(), flags))
}

func (h *Handler) writeLine(line string) {
	var unencodable codec.ErrUnencodable
	if _, err := h.out.Write([]byte(line + "\n")); err != nil {
		if errors.As(err, &unencodable) {
			logging.Warn("%s: refusing to write unencodable line: %v", h.peerHost, err)
			return
		}
		logging.Debug("%s: write failed: %v", h.peerHost, err)
	}
}

func (h *Handler) cleanup() {
	h.conn.Close()
	if h.record != nil {
		h.registry.Remove(h.record.Identity)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
