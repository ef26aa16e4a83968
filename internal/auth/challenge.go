package auth

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// request is a pending challenge issued to a connecting client: the scalar
// the master generated and the answer it expects back.
type request struct {
	expectedAnswer int64
}

// generateChallenge picks a random scalar, computes challenge = scalar *
// basepoint and shared = scalar * pubkey, and derives expectedAnswer from
// the first 8 bytes of shared interpreted as a big-endian int64. Only the
// hex-encoded challenge ever leaves this function's caller toward the wire;
// the scalar and shared secret are discarded once expectedAnswer is known.
func generateChallenge(pubkeyHex string) (challengeHex string, req request, err error) {
	pubkey, err := decodeKey(pubkeyHex)
	if err != nil {
		return "", request{}, fmt.Errorf("auth: bad pubkey: %w", err)
	}

	var scalar [32]byte
	if _, err := rand.Read(scalar[:]); err != nil {
		return "", request{}, fmt.Errorf("auth: generating scalar: %w", err)
	}

	challenge, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		return "", request{}, fmt.Errorf("auth: deriving challenge point: %w", err)
	}

	shared, err := curve25519.X25519(scalar[:], pubkey[:])
	if err != nil {
		return "", request{}, fmt.Errorf("auth: deriving shared secret: %w", err)
	}

	expected := int64(binary.BigEndian.Uint64(shared[:8]))

	return hex.EncodeToString(challenge), request{expectedAnswer: expected}, nil
}

// validateReply compares the absolute value of the hex-encoded reply
// against the absolute value of req's expected answer.
//
// The "absolute value" comparison is a known quirk: the upstream protocol
// transmits the answer unsigned while this primitive's output is signed, so
// magnitude is compared rather than the raw value. Preserved here
// deliberately rather than "fixed", since fixing it would make this master
// reject replies from servers built against the real protocol.
func validateReply(replyHex string, req request) (bool, error) {
	replyBytes, err := hex.DecodeString(replyHex)
	if err != nil || len(replyBytes) != 8 {
		return false, fmt.Errorf("auth: malformed reply hex %q", replyHex)
	}
	reply := int64(binary.BigEndian.Uint64(replyBytes))

	return abs64(reply) == abs64(req.expectedAnswer), nil
}

func decodeKey(keyHex string) ([32]byte, error) {
	var key [32]byte
	b, err := hex.DecodeString(keyHex)
	if err != nil {
		return key, err
	}
	if len(b) != 32 {
		return key, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(key[:], b)
	return key, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
