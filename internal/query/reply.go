// Package query implements the little-endian variable-width integer and
// NUL-terminated string encoding used inside UDP "info" replies from Cube2
// engine game servers, and parses a full reply into its component fields.
package query

import (
	"encoding/binary"
	"fmt"

	"github.com/sauerworld/qmaster/internal/codec"
)

// ErrMalformed wraps any short-read, overrun, or bad-terminator condition
// encountered while parsing a reply. It is always returned instead of
// panicking, per the decode-error-not-a-crash contract.
type ErrMalformed struct {
	reason string
}

func (e *ErrMalformed) Error() string { return "query: malformed reply: " + e.reason }

func malformed(format string, args ...interface{}) error {
	return &ErrMalformed{reason: fmt.Sprintf(format, args...)}
}

// reader walks a reply buffer, tracking the current offset.
type reader struct {
	data   []byte
	offset int
}

// nextInt reads one variable-width signed integer. See getint in the
// engine's shared/tools.cpp: a leading byte of -128 or -127 means the real
// value follows as an int16 or int32 respectively.
func (r *reader) nextInt() (int32, error) {
	if r.offset >= len(r.data) {
		return 0, malformed("unexpected end of data reading int at offset %d", r.offset)
	}

	lead := int8(r.data[r.offset])

	switch lead {
	case -128:
		if r.offset+3 > len(r.data) {
			return 0, malformed("short int16 at offset %d", r.offset)
		}
		v := int16(binary.LittleEndian.Uint16(r.data[r.offset+1 : r.offset+3]))
		r.offset += 3
		return int32(v), nil

	case -127:
		if r.offset+5 > len(r.data) {
			return 0, malformed("short int32 at offset %d", r.offset)
		}
		v := int32(binary.LittleEndian.Uint32(r.data[r.offset+1 : r.offset+5]))
		r.offset += 5
		return v, nil

	default:
		r.offset++
		return int32(lead), nil
	}
}

// nextString reads a NUL-terminated byte sequence and decodes it through
// the Cube2 codec.
func (r *reader) nextString() (string, error) {
	start := r.offset
	for r.offset < len(r.data) && r.data[r.offset] != 0 {
		r.offset++
	}
	if r.offset >= len(r.data) {
		return "", malformed("unterminated string starting at offset %d", start)
	}
	s := codec.Decode(r.data[start:r.offset])
	r.offset++ // skip the NUL
	return s, nil
}

// knownIntCount is the number of fixed-order integers a reply carries
// before the map name string, per §4.2 of the spec.
const knownIntCount = 15

// Reply holds every field parsed out of a UDP info-probe response.
type Reply struct {
	PlayersCount           int
	NumberOfInts           int
	Protocol                int
	GameMode                int
	Mutators                int
	TimeRemaining           int
	MaxSlots                int
	MasterMode              int
	ModificationPercentage  int
	NumberOfGameVars        int
	VersionMajor            int
	VersionMinor            int
	VersionPatch            int
	VersionPlatform         int
	VersionArch             int
	GameState               int
	TimeLeft                int

	MapName        string
	Description    string
	VersionBuild   string
	VersionBranch  string

	Players  []string
	Accounts []string
}

// Parse decodes a full UDP info-probe reply, skipping the 5-byte request
// echo at the start of the datagram.
func Parse(data []byte) (*Reply, error) {
	if len(data) < 5 {
		return nil, malformed("reply shorter than the 5-byte request echo")
	}

	r := &reader{data: data, offset: 5}
	rep := &Reply{}

	var err error
	if rep.PlayersCount, err = readInt(r); err != nil {
		return nil, err
	}
	if rep.NumberOfInts, err = readInt(r); err != nil {
		return nil, err
	}
	if rep.NumberOfInts < 0 {
		return nil, malformed("negative number_of_ints %d", rep.NumberOfInts)
	}

	ints := make([]int, 0, rep.NumberOfInts)
	for i := 0; i < rep.NumberOfInts; i++ {
		v, err := readInt(r)
		if err != nil {
			return nil, err
		}
		ints = append(ints, v)
	}

	// Assign the fixed-order fields this protocol version knows about;
	// any integers beyond knownIntCount belong to a newer protocol and are
	// tolerated by simply not being assigned anywhere.
	fields := []*int{
		&rep.Protocol, &rep.GameMode, &rep.Mutators, &rep.TimeRemaining,
		&rep.MaxSlots, &rep.MasterMode, &rep.ModificationPercentage,
		&rep.NumberOfGameVars, &rep.VersionMajor, &rep.VersionMinor,
		&rep.VersionPatch, &rep.VersionPlatform, &rep.VersionArch,
		&rep.GameState, &rep.TimeLeft,
	}
	for i, f := range fields {
		if i < len(ints) {
			*f = ints[i]
		}
	}

	if rep.MapName, err = r.nextString(); err != nil {
		return nil, err
	}
	if rep.Description, err = r.nextString(); err != nil {
		return nil, err
	}
	if len(rep.Description) > 80 {
		rep.Description = rep.Description[:80]
	}

	if rep.VersionMajor >= 1 && rep.VersionMinor >= 6 {
		if rep.VersionBuild, err = r.nextString(); err != nil {
			return nil, err
		}
	}

	if rep.VersionMajor >= 1 && versionGreater(rep.VersionMinor, rep.VersionPatch, 5, 3) {
		// A malformed branch string is tolerated: some servers send one
		// that doesn't parse, and it isn't load-bearing for anything else
		// in this reply, so we simply leave VersionBranch empty.
		if branch, branchErr := r.nextString(); branchErr == nil {
			rep.VersionBranch = branch
		}
	}

	if rep.PlayersCount < 0 {
		return nil, malformed("negative players_count %d", rep.PlayersCount)
	}

	rep.Players = make([]string, rep.PlayersCount)
	for i := range rep.Players {
		if rep.Players[i], err = r.nextString(); err != nil {
			return nil, err
		}
	}

	rep.Accounts = make([]string, rep.PlayersCount)
	for i := range rep.Accounts {
		s, err := r.nextString()
		if err != nil {
			return nil, err
		}
		rep.Accounts[i] = stripSpace(s)
	}

	return rep, nil
}

func readInt(r *reader) (int, error) {
	v, err := r.nextInt()
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// versionGreater reports whether (minor, patch) is lexicographically
// greater than (wantMinor, wantPatch), matching §4.2's rule for whether a
// versionbranch string follows.
func versionGreater(minor, patch, wantMinor, wantPatch int) bool {
	if minor != wantMinor {
		return minor > wantMinor
	}
	return patch > wantPatch
}

func stripSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}
