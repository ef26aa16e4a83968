package auth

import (
	"encoding/json"
	"fmt"
	"os"
)

// JSONUserStore loads a fixed user → (pubkey, flags) mapping from a JSON
// file once at startup:
//
//	{"name": {"pubkey": "...", "flags": "..."}}
//
// The store never mutates after Load; any further registration of users is
// a restart-and-reload operation, matching the spec's "loads a mapping"
// contract.
type JSONUserStore struct {
	users map[string]jsonUserEntry
}

type jsonUserEntry struct {
	Pubkey string `json:"pubkey"`
	Flags  string `json:"flags"`
}

// LoadJSONUserStore reads and parses the user file at path. A corrupt or
// unreadable file is a fatal startup error per the spec's error handling
// design, so the caller is expected to treat a non-nil error as fatal.
func LoadJSONUserStore(path string) (*JSONUserStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: reading user file %s: %w", path, err)
	}

	var raw map[string]jsonUserEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("auth: parsing user file %s: %w", path, err)
	}

	users := make(map[string]jsonUserEntry, len(raw))
	for name, entry := range raw {
		users[normalizeUser(name)] = entry
	}

	return &JSONUserStore{users: users}, nil
}

// Lookup implements UserStore.
func (s *JSONUserStore) Lookup(userName string) (string, string, error) {
	entry, ok := s.users[normalizeUser(userName)]
	if !ok {
		return "", "", ErrUserNotFound
	}
	return entry.Pubkey, entry.Flags, nil
}
