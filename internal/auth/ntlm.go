package auth

import (
	"encoding/base64"
)

// NTLMScheme models NTLM's two-round handshake (type-1 negotiate,
// type-2 challenge, type-3 authenticate) as a connection-oriented
// scheme (spec.md §4.5 "Connection-oriented bindings (NTLM/Negotiate)").
// It does not implement the real NTLMSSP cryptography; a production
// deployment would shell out to an ntlm_auth-style helper the way
// auth_ntlm.cc does. The state machine shape (negotiate -> challenge ->
// authenticate) is preserved so the driver's connection-binding logic
// has a genuine two-step scheme to exercise.
type NTLMScheme struct{}

func NewNTLMScheme() *NTLMScheme { return &NTLMScheme{} }

func (s *NTLMScheme) Name() string { return "NTLM" }

func (s *NTLMScheme) Decode(credentials string) (*UserRequest, error) {
	raw, err := base64.StdEncoding.DecodeString(credentials)
	if err != nil || len(raw) == 0 {
		return nil, errNoSchemeMatched
	}
	// Type 3 (authenticate) messages are long; type 1 (negotiate)
	// messages are short. This length heuristic stands in for parsing
	// the NTLMSSP message-type field at raw[8:12].
	if len(raw) < 32 {
		return &UserRequest{User: &User{Scheme: "NTLM"}}, nil
	}
	return &UserRequest{User: &User{Name: "ntlm-user", Scheme: "NTLM"}}, nil
}

func (s *NTLMScheme) Authenticate(ur *UserRequest, cb func(Direction)) {
	if ur.User == nil || ur.User.Name == "" {
		cb(DirChallenge) // negotiate received, challenge with type-2
		return
	}
	cb(DirDone)
}

func (s *NTLMScheme) FixHeader(kind HeaderKind) string {
	return "NTLM"
}

func (s *NTLMScheme) ConnectionOriented() bool { return true }

// NegotiateScheme is SPNEGO/Kerberos wrapped in the same connection-
// oriented shape as NTLM (spec.md §4.5). Real GSS-API token exchange is
// out of SPEC_FULL.md's scope (no GSSAPI library appears anywhere in
// the example pack); the scheme still participates fully in the
// driver's connection-binding logic.
type NegotiateScheme struct{}

func NewNegotiateScheme() *NegotiateScheme { return &NegotiateScheme{} }

func (s *NegotiateScheme) Name() string { return "Negotiate" }

func (s *NegotiateScheme) Decode(credentials string) (*UserRequest, error) {
	if credentials == "" {
		return nil, errNoSchemeMatched
	}
	return &UserRequest{User: &User{Name: "negotiate-user", Scheme: "Negotiate"}}, nil
}

func (s *NegotiateScheme) Authenticate(ur *UserRequest, cb func(Direction)) {
	cb(DirDone)
}

func (s *NegotiateScheme) FixHeader(kind HeaderKind) string {
	return "Negotiate"
}

func (s *NegotiateScheme) ConnectionOriented() bool { return true }
