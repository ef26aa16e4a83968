package server

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// serverLine matches `server PORT SERVERIP VERSION "DESC" EXTRA "BRANCH"`.
// Integer fields accept decimal or hex, optionally signed, per §9's
// "hex-with-sign numeric fields" note — the grammar is intentionally loose
// here and parseFlexInt does the strict rejection.
var serverLine = regexp.MustCompile(
	`^server\s+([0-9a-fA-Fx+-]+)\s+(\S+)\s+([0-9a-fA-Fx+-]+)\s+"([^"]*)"\s+([0-9a-fA-Fx+-]+)\s+"([^"]*)"\s*$`,
)

// reqauthLine matches `reqauth REQID USER USERIP`.
var reqauthLine = regexp.MustCompile(`^reqauth\s+(\S+)\s+(\S+)\s+(\S+)\s*$`)

// confauthLine matches `confauth REQID REPLY`.
var confauthLine = regexp.MustCompile(`^confauth\s+(\S+)\s+(\S+)\s*$`)

// InvalidCommand reports a line that looked like a known command but had a
// field that could not be parsed.
type InvalidCommand struct {
	Reason string
}

func (e *InvalidCommand) Error() string { return "invalid command: " + e.Reason }

type serverCmd struct {
	port     int
	serverIP string
	version  int64
	desc     string
	extra    int64
	branch   string
}

func parseServerLine(line string) (*serverCmd, error) {
	m := serverLine.FindStringSubmatch(line)
	if m == nil {
		return nil, &InvalidCommand{Reason: "does not match server grammar"}
	}

	portVal, err := parseFlexInt(m[1])
	if err != nil || portVal <= 0 || portVal > 65535 {
		return nil, &InvalidCommand{Reason: fmt.Sprintf("bad port %q", m[1])}
	}
	port := int(portVal)

	version, err := parseFlexInt(m[3])
	if err != nil {
		return nil, &InvalidCommand{Reason: fmt.Sprintf("bad version %q", m[3])}
	}

	extra, err := parseFlexInt(m[5])
	if err != nil {
		return nil, &InvalidCommand{Reason: fmt.Sprintf("bad extra field %q", m[5])}
	}

	return &serverCmd{
		port:     port,
		serverIP: m[2],
		version:  version,
		desc:     m[4],
		extra:    extra,
		branch:   m[6],
	}, nil
}

type reqauthCmd struct {
	reqID  string
	user   string
	userIP string
}

func parseReqauthLine(line string) (*reqauthCmd, error) {
	m := reqauthLine.FindStringSubmatch(line)
	if m == nil {
		return nil, &InvalidCommand{Reason: "does not match reqauth grammar"}
	}
	return &reqauthCmd{reqID: m[1], user: m[2], userIP: m[3]}, nil
}

type confauthCmd struct {
	reqID string
	reply string
}

func parseConfauthLine(line string) (*confauthCmd, error) {
	m := confauthLine.FindStringSubmatch(line)
	if m == nil {
		return nil, &InvalidCommand{Reason: "does not match confauth grammar"}
	}
	return &confauthCmd{reqID: m[1], reply: m[2]}, nil
}

// parseFlexInt accepts decimal or hex, with an optional leading sign, per
// the grammar's "hex-with-sign" numeric fields.
func parseFlexInt(s string) (int64, error) {
	neg := false
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	} else if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		v, err = strconv.ParseInt(s, 16, 64)
	}
	if err != nil {
		return 0, err
	}
	if neg {
		v = -v
	}
	return v, nil
}
