package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/squidgo/proxycore/internal/helperpool"
)

// BasicScheme implements RFC 7617 Basic authentication by shelling out
// to a password-checking helper pool, grounded directly on
// original_source/src/auth/basic/auth_basic.cc's design: the scheme
// never compares passwords itself, it base64-decodes "user:pass" and
// submits "user password\n" to the configured helper, classifying
// the reply's OK/ERR as done/challenge.
type BasicScheme struct {
	realm string
	pool  *helperpool.Pool
}

func NewBasicScheme(realm string, pool *helperpool.Pool) *BasicScheme {
	return &BasicScheme{realm: realm, pool: pool}
}

func (s *BasicScheme) Name() string { return "Basic" }

func (s *BasicScheme) Decode(credentials string) (*UserRequest, error) {
	raw, err := base64.StdEncoding.DecodeString(credentials)
	if err != nil {
		return nil, errNoSchemeMatched
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return nil, errNoSchemeMatched
	}
	return &UserRequest{
		User: &User{Name: parts[0], Scheme: "Basic", Credentials: parts[1]},
	}, nil
}

func (s *BasicScheme) Authenticate(ur *UserRequest, cb func(Direction)) {
	if ur.User == nil || ur.User.Name == "" {
		cb(DirError)
		return
	}
	line := fmt.Sprintf("%s %s", ur.User.Name, ur.User.Credentials)
	s.pool.Submit(context.Background(), line, func(r helperpool.Reply) {
		switch r.Status {
		case helperpool.StatusOK:
			cb(DirDone)
		case helperpool.StatusErr:
			cb(DirChallenge)
		default:
			cb(DirError)
		}
	})
}

func (s *BasicScheme) FixHeader(kind HeaderKind) string {
	return fmt.Sprintf(`Basic realm="%s"`, s.realm)
}

func (s *BasicScheme) ConnectionOriented() bool { return false }
