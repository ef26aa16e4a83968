package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func randomKeypair(t *testing.T) (privHex, pubHex string) {
	t.Helper()
	var priv [32]byte
	_, err := rand.Read(priv[:])
	require.NoError(t, err)

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	require.NoError(t, err)

	return hex.EncodeToString(priv[:]), hex.EncodeToString(pub)
}

// serverAnswer replays the client side of the primitive: given its own
// private scalar and the master's challenge point, compute the reply a
// legitimate server would send back.
func serverAnswer(t *testing.T, privHex, challengeHex string) string {
	t.Helper()
	priv, err := decodeKey(privHex)
	require.NoError(t, err)
	challenge, err := decodeKey(challengeHex)
	require.NoError(t, err)

	shared, err := curve25519.X25519(priv[:], challenge[:])
	require.NoError(t, err)

	return hex.EncodeToString(shared[:8])
}

func TestGenerateAndValidateChallengeHappyPath(t *testing.T) {
	privHex, pubHex := randomKeypair(t)

	users := NewMemoryUserStore()
	users.Put("test", pubHex, "d")

	store := NewAuthStore(users)

	challengeHex, pending, err := store.GenerateChallenge(context.Background(), "test")
	require.NoError(t, err)
	assert.NotEmpty(t, challengeHex)
	assert.Equal(t, "test", pending.UserName())

	reply := serverAnswer(t, privHex, challengeHex)
	ok, err := store.ValidateReply(context.Background(), reply, pending)
	require.NoError(t, err)
	assert.True(t, ok)

	flags, err := store.GetUserFlags("test")
	require.NoError(t, err)
	assert.Equal(t, "d", flags)
}

func TestGenerateChallengeUnknownUser(t *testing.T) {
	store := NewAuthStore(NewMemoryUserStore())

	_, _, err := store.GenerateChallenge(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestValidateReplyRejectsWrongAnswer(t *testing.T) {
	_, pubHex := randomKeypair(t)

	users := NewMemoryUserStore()
	users.Put("test", pubHex, "d")
	store := NewAuthStore(users)

	_, pending, err := store.GenerateChallenge(context.Background(), "test")
	require.NoError(t, err)

	ok, err := store.ValidateReply(context.Background(), hex.EncodeToString(make([]byte, 8)), pending)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateReplyMalformedHexIsInvalid(t *testing.T) {
	_, pubHex := randomKeypair(t)

	users := NewMemoryUserStore()
	users.Put("test", pubHex, "d")
	store := NewAuthStore(users)

	_, pending, err := store.GenerateChallenge(context.Background(), "test")
	require.NoError(t, err)

	_, err = store.ValidateReply(context.Background(), "not-hex", pending)
	require.ErrorIs(t, err, ErrInvalidReply)
}

func TestMemoryUserStoreLookupIsCaseInsensitive(t *testing.T) {
	users := NewMemoryUserStore()
	users.Put("Test", "abc", "d")

	pubkey, flags, err := users.Lookup("TEST")
	require.NoError(t, err)
	assert.Equal(t, "abc", pubkey)
	assert.Equal(t, "d", flags)
}
