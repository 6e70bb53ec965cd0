// Package identity provides the verified-identity value type and the
// authentication error taxonomy.
package identity

import (
	"fmt"
	"time"
)

// Identity is the result of successful credential verification. It carries
// no authorization decision beyond "the request may proceed".
type Identity struct {
	Subject   string
	Audience  string
	ExpiresAt time.Time // zero for static service credentials
}

// Credentials are the inbound authentication material extracted from a
// request: a signed token, a static service-token pair, or neither.
type Credentials struct {
	Token         string
	ServiceID     string
	ServiceSecret string
}

// Empty reports whether no credential material was supplied at all.
func (c Credentials) Empty() bool {
	return c.Token == "" && c.ServiceID == "" && c.ServiceSecret == ""
}

// AuthReason classifies authentication failures.
type AuthReason string

const (
	ReasonMissingCredentials AuthReason = "missing_credentials"
	ReasonBadSignature       AuthReason = "bad_signature"
	ReasonBadAudience        AuthReason = "bad_audience"
	ReasonExpired            AuthReason = "expired"
	ReasonUnreachableKeyset  AuthReason = "unreachable_keyset"
)

// AuthError is returned for any verification failure. It always
// short-circuits a request before aggregation work begins.
type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError builds an AuthError with an optional cause.
func NewAuthError(reason AuthReason, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}
