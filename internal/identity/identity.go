// Package identity is the directory of users and groups the directory index
// is built from.
package identity

import (
	"context"
	"strconv"
	"strings"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// Identity is a user or group.
type Identity struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Alias       string `json:"alias,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	// Owner is set on restricted identities, which are only visible to
	// that owner.
	Owner string `json:"owner,omitempty"`
}

// Restricted reports whether the identity is visible to its owner only.
func (i Identity) Restricted() bool { return i.Owner != "" }

// VisibleTo reports whether a caller restricted to restrictTo may see i.
func (i Identity) VisibleTo(restrictTo string) bool {
	return !i.Restricted() || strings.EqualFold(i.Owner, restrictTo)
}

// Resolver looks identities up. Missing identities yield an error matching
// errors.ErrNotFound.
type Resolver interface {
	ByID(ctx context.Context, id int64) (Identity, error)
	ByName(ctx context.Context, name string) (Identity, error)
}

// Source enumerates every identity.
type Source interface {
	Each(ctx context.Context, fn func(Identity) error) error
}

// Directory is a complete identity directory.
type Directory interface {
	Resolver
	Source
}

// Resolve finds the identity a subject refers to: a decimal subject is a
// stable id, anything else a name.
func Resolve(ctx context.Context, r Resolver, subject string) (Identity, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Identity{}, errors.ValidationError("empty identity subject", nil)
	}
	if id, err := strconv.ParseInt(subject, 10, 64); err == nil {
		return r.ByID(ctx, id)
	}
	return r.ByName(ctx, subject)
}
