package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/coach-realtime/internal/model"
	"github.com/jwalitptl/coach-realtime/internal/repository"
	"github.com/jwalitptl/coach-realtime/pkg/auth"
)

// Reason explains why a credential was rejected. It is recorded in the audit
// trail only; clients always see a generic "unauthorized".
type Reason string

const (
	ReasonMissingCredential Reason = "missing_credential"
	ReasonInvalidToken      Reason = "invalid_token"
	ReasonUserNotFound      Reason = "user_not_found"
	ReasonInactiveUser      Reason = "inactive_user"
	ReasonLookupError       Reason = "lookup_error"
)

type AuthError struct {
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ReasonOf extracts the rejection reason from err.
func ReasonOf(err error) Reason {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return ReasonLookupError
}

// Credential is what a client presents at handshake. Token takes precedence.
type Credential struct {
	Token     string
	SessionID string
}

func (c Credential) Empty() bool {
	return c.Token == "" && c.SessionID == ""
}

// Identity is the resolved caller. Role is always the persisted role.
type Identity struct {
	UserID    uuid.UUID
	Role      model.Role
	SessionID string
}

// TokenVerifier is satisfied by *auth.JWTService.
type TokenVerifier interface {
	ValidateToken(token string) (*auth.Claims, error)
}

type Resolver struct {
	tokens          TokenVerifier
	users           repository.UserRepository
	sessionFallback bool
}

type Option func(*Resolver)

// WithSessionFallback lets a bare sessionId stand in for a token. The id is
// used directly as the user id, so it is off unless configured.
func WithSessionFallback(enabled bool) Option {
	return func(r *Resolver) { r.sessionFallback = enabled }
}

func NewResolver(tokens TokenVerifier, users repository.UserRepository, opts ...Option) *Resolver {
	r := &Resolver{tokens: tokens, users: users}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve verifies the credential and re-reads the user. It has no side effects.
func (r *Resolver) Resolve(ctx context.Context, cred Credential) (Identity, error) {
	var (
		userID    uuid.UUID
		sessionID = cred.SessionID
	)

	switch {
	case cred.Token != "":
		claims, err := r.tokens.ValidateToken(cred.Token)
		if err != nil {
			return Identity{}, &AuthError{Reason: ReasonInvalidToken, Err: err}
		}
		userID, err = uuid.Parse(claims.UserID)
		if err != nil {
			return Identity{}, &AuthError{Reason: ReasonInvalidToken, Err: err}
		}
		if claims.SessionID != "" {
			sessionID = claims.SessionID
		}
	case cred.SessionID != "" && r.sessionFallback:
		id, err := uuid.Parse(cred.SessionID)
		if err != nil {
			return Identity{}, &AuthError{Reason: ReasonUserNotFound, Err: err}
		}
		userID = id
	default:
		return Identity{}, &AuthError{Reason: ReasonMissingCredential}
	}

	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return Identity{}, &AuthError{Reason: ReasonLookupError, Err: err}
	}
	if user == nil {
		return Identity{}, &AuthError{Reason: ReasonUserNotFound}
	}
	if !user.IsActive {
		return Identity{}, &AuthError{Reason: ReasonInactiveUser}
	}

	return Identity{UserID: user.ID, Role: user.Role, SessionID: sessionID}, nil
}

// CredentialFromRequest reads the handshake credential: the token query
// parameter or a bearer header, then the sessionId parameter or X-Session-ID.
func CredentialFromRequest(r *http.Request) Credential {
	q := r.URL.Query()
	cred := Credential{Token: q.Get("token"), SessionID: q.Get("sessionId")}
	if cred.Token == "" {
		cred.Token = BearerToken(r.Header.Get("Authorization"))
	}
	if cred.SessionID == "" {
		cred.SessionID = r.Header.Get("X-Session-ID")
	}
	return cred
}

func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
