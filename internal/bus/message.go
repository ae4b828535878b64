// Package bus broadcasts directory changes between processes and applies
// the changes other processes make.
package bus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// Op is the kind of directory change.
type Op int

const (
	OpCreated  Op = 1
	OpModified Op = 2
	OpDeleted  Op = 3
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpModified:
		return "modified"
	case OpDeleted:
		return "deleted"
	default:
		return "op(" + strconv.Itoa(int(o)) + ")"
	}
}

// Valid reports whether o is a known op.
func (o Op) Valid() bool {
	return o >= OpCreated && o <= OpDeleted
}

// ChangeMessage announces one directory change. Subject is the identity
// name for created and modified, and the decimal stable id for deleted.
// Origin identifies the sending process.
type ChangeMessage struct {
	Op      Op
	Subject string
	Origin  string
}

// Encode renders m as (op, "subject", "origin").
func (m ChangeMessage) Encode() []byte {
	return []byte(fmt.Sprintf("(%d, %s, %s)", int(m.Op), strconv.Quote(m.Subject), strconv.Quote(m.Origin)))
}

func (m ChangeMessage) String() string {
	return string(m.Encode())
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (ChangeMessage, error) {
	s := strings.TrimSpace(string(data))
	invalid := func(reason string) (ChangeMessage, error) {
		return ChangeMessage{}, errors.New(errors.ErrCodeInvalidMessage, reason, nil).
			WithDetail("payload", truncate(s, 64))
	}

	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return invalid("message is not a tuple")
	}
	s = s[1 : len(s)-1]

	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return invalid("missing op")
	}
	op, err := strconv.Atoi(strings.TrimSpace(s[:comma]))
	if err != nil || !Op(op).Valid() {
		return invalid("unknown op")
	}

	subject, rest, err := quoted(s[comma+1:])
	if err != nil {
		return invalid("bad subject")
	}
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, ",") {
		return invalid("missing origin")
	}
	origin, rest, err := quoted(rest[1:])
	if err != nil {
		return invalid("bad origin")
	}
	if strings.TrimSpace(rest) != "" {
		return invalid("trailing data")
	}
	return ChangeMessage{Op: Op(op), Subject: subject, Origin: origin}, nil
}

// quoted reads one double-quoted string from the start of s.
func quoted(s string) (value, rest string, err error) {
	s = strings.TrimLeft(s, " \t")
	prefix, err := strconv.QuotedPrefix(s)
	if err != nil {
		return "", "", err
	}
	if !strings.HasPrefix(prefix, `"`) {
		return "", "", fmt.Errorf("not a string")
	}
	value, err = strconv.Unquote(prefix)
	return value, s[len(prefix):], err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
