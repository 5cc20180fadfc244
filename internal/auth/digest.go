package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/squidgo/proxycore/internal/helperpool"
)

// DigestScheme implements RFC 7616 Digest authentication against an
// external password helper, grounded on
// original_source/src/auth/digest/auth_digest.cc's split between
// parsing the comma-separated credential pairs and validating the
// response hash via a helper that knows the plaintext (or H(A1))
// password. It additionally decorates the reply with an
// Authentication-Info trailer carrying rspauth, which is why it
// implements ReplyDecorator (spec.md §4.5 "addHeader/addTrailer for
// scheme-specific reply decoration (Digest)").
type DigestScheme struct {
	realm string
	pool  *helperpool.Pool
}

func NewDigestScheme(realm string, pool *helperpool.Pool) *DigestScheme {
	return &DigestScheme{realm: realm, pool: pool}
}

func (s *DigestScheme) Name() string { return "Digest" }

func (s *DigestScheme) Decode(credentials string) (*UserRequest, error) {
	fields := parseDigestFields(credentials)
	username := fields["username"]
	if username == "" {
		return nil, errNoSchemeMatched
	}
	return &UserRequest{
		User:           &User{Name: username, Scheme: "Digest"},
		lastReplyCreds: fields["response"],
	}, nil
}

func parseDigestFields(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(part[:eq])
		val := strings.Trim(strings.TrimSpace(part[eq+1:]), `"`)
		out[strings.ToLower(key)] = val
	}
	return out
}

func (s *DigestScheme) Authenticate(ur *UserRequest, cb func(Direction)) {
	if ur.User == nil || ur.User.Name == "" {
		cb(DirError)
		return
	}
	line := fmt.Sprintf("%s %s", ur.User.Name, ur.lastReplyCreds)
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

func (s *DigestScheme) FixHeader(kind HeaderKind) string {
	return fmt.Sprintf(`Digest realm="%s", qop="auth", nonce="%s"`, s.realm, digestNonce())
}

func (s *DigestScheme) ConnectionOriented() bool { return false }

func (s *DigestScheme) AddHeader(ur *UserRequest) (string, string, bool) {
	return "", "", false
}

func (s *DigestScheme) AddTrailer(ur *UserRequest) (string, string, bool) {
	if ur.User == nil {
		return "", "", false
	}
	sum := md5.Sum([]byte(ur.User.Name + ur.lastReplyCreds))
	return "Authentication-Info", fmt.Sprintf("rspauth=%s", hex.EncodeToString(sum[:])), true
}

// digestNonce is a placeholder nonce generator; a production deployment
// would mint a per-challenge server nonce keyed off a request counter
// and a secret, as auth_digest.cc's digestMakeNonce does.
func digestNonce() string {
	return "00000000"
}
