package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sauerworld/qmaster/internal/metrics"
	"github.com/sauerworld/qmaster/internal/telemetry"
)

var tracer = telemetry.Tracer("qmaster/auth")

// ErrInvalidReply is returned when a confauth reply does not match the
// expected answer for its challenge.
var ErrInvalidReply = errors.New("auth: invalid reply")

// AuthStore issues and validates challenge/response pairs on top of a
// UserStore. It holds no per-connection state itself: the Connection
// Handler is responsible for remembering a PendingChallenge between
// reqauth and confauth, scoped to its own connection.
type AuthStore struct {
	users   UserStore
	metrics *metrics.Metrics
}

// NewAuthStore wraps users with challenge/response support.
func NewAuthStore(users UserStore) *AuthStore {
	return &AuthStore{users: users}
}

// SetMetrics attaches the series challenges/replies are recorded against. A
// nil *metrics.Metrics (the default) makes every recording a no-op.
func (a *AuthStore) SetMetrics(m *metrics.Metrics) { a.metrics = m }

// PendingChallenge is what the Connection Handler keeps, keyed by the
// client-chosen request id, between reqauth and confauth on one connection.
type PendingChallenge struct {
	userName string
	req      request
}

// GenerateChallenge looks up userName's pubkey and produces a challenge hex
// string plus the PendingChallenge the caller must hold onto until confauth.
func (a *AuthStore) GenerateChallenge(ctx context.Context, userName string) (challengeHex string, pending PendingChallenge, err error) {
	_, span := tracer.Start(ctx, "auth.GenerateChallenge")
	defer span.End()

	pubkeyHex, _, err := a.users.Lookup(userName)
	if err != nil {
		a.metrics.IncAuthChallenge("unknown_user")
		return "", PendingChallenge{}, err
	}

	challengeHex, req, err := generateChallenge(pubkeyHex)
	if err != nil {
		a.metrics.IncAuthChallenge("error")
		return "", PendingChallenge{}, fmt.Errorf("auth: generating challenge for %s: %w", userName, err)
	}

	a.metrics.IncAuthChallenge("ok")
	return challengeHex, PendingChallenge{userName: userName, req: req}, nil
}

// ValidateReply checks replyHex against pending's expected answer.
func (a *AuthStore) ValidateReply(ctx context.Context, replyHex string, pending PendingChallenge) (bool, error) {
	_, span := tracer.Start(ctx, "auth.ValidateReply")
	defer span.End()

	ok, err := validateReply(replyHex, pending.req)
	if err != nil {
		a.metrics.IncAuthReply("error")
		return false, ErrInvalidReply
	}
	if ok {
		a.metrics.IncAuthReply("ok")
	} else {
		a.metrics.IncAuthReply("mismatch")
	}
	return ok, nil
}

// GetUserFlags returns the flag string recorded for userName.
func (a *AuthStore) GetUserFlags(userName string) (string, error) {
	_, flags, err := a.users.Lookup(userName)
	if err != nil {
		return "", err
	}
	return flags, nil
}

// UserName reports the user a pending challenge was issued for, so the
// Connection Handler can fill in the USER field of succauth without a
// second lookup.
func (p PendingChallenge) UserName() string { return p.userName }
