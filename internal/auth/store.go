// Package auth loads the user → (pubkey, flags) mapping a master uses to
// authenticate privileged players on behalf of a registered game server, and
// implements the curve25519 challenge/response primitive itself.
package auth

import "errors"

// ErrUserNotFound is returned by a UserStore when the requested user name
// has no entry.
var ErrUserNotFound = errors.New("auth: user not found")

// UserStore looks up a user's public key and flag string. Implementations
// are read-only after construction; the registry of users is not mutated by
// anything in this system.
type UserStore interface {
	Lookup(userName string) (pubkeyHex string, flags string, err error)
}
