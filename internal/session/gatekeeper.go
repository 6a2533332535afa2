// Package session admits connection attempts: it resolves the session token
// presented during the handshake and checks class access for namespaced
// connections.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"socialwall/internal/router"
	"socialwall/pkg/interfaces"
	"socialwall/pkg/types"
)

// DefaultCookieName is the session cookie consulted when no token is passed
// explicitly.
const DefaultCookieName = "session_token"

// Gatekeeper runs authentication and class authorization, in that order.
type Gatekeeper struct {
	sessions interfaces.SessionValidator
	access   interfaces.AccessChecker
	logger   *slog.Logger
	now      func() time.Time
}

// NewGatekeeper creates a gatekeeper over the session and access collaborators.
func NewGatekeeper(sessions interfaces.SessionValidator, access interfaces.AccessChecker, logger *slog.Logger) *Gatekeeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatekeeper{
		sessions: sessions,
		access:   access,
		logger:   logger.With("component", "gatekeeper"),
		now:      time.Now,
	}
}

// Authenticate resolves token to the user it was issued for.
func (g *Gatekeeper) Authenticate(ctx context.Context, token string) (types.User, error) {
	if token == "" {
		return types.User{}, &AuthenticationError{Reason: ErrTokenRequired}
	}

	info, err := g.sessions.Validate(ctx, token)
	if err != nil {
		g.logger.WarnContext(ctx, "session validation failed", "error", err)
		return types.User{}, &AuthenticationError{Reason: ErrInvalidToken, Cause: err}
	}
	if info == nil || info.IsExpiredAt(g.now()) {
		return types.User{}, &AuthenticationError{Reason: ErrInvalidToken}
	}

	return info.User, nil
}

// AuthorizeClass checks that user may join the class named by namespace and
// returns the class id.
func (g *Gatekeeper) AuthorizeClass(ctx context.Context, user types.User, namespace string) (string, error) {
	classID, ok := router.ClassIDFromNamespace(namespace)
	if !ok || user.ID == "" {
		return "", &AuthorizationError{Reason: ErrClassAccessDenied, ClassID: classID}
	}

	allowed, err := g.access.HasClassAccess(ctx, user.ID, classID)
	if err != nil {
		g.logger.WarnContext(ctx, "class access check failed",
			"error", err, "user_id", user.ID, "class_id", classID)
		return "", &AuthorizationError{Reason: ErrClassAccessDenied, ClassID: classID, Cause: err}
	}
	if !allowed {
		return "", &AuthorizationError{Reason: ErrClassAccessDenied, ClassID: classID}
	}

	return classID, nil
}

// Admit authenticates token and, when namespace is non-empty, authorizes the
// class. classID is empty for unscoped connections.
func (g *Gatekeeper) Admit(ctx context.Context, token, namespace string) (user types.User, classID string, err error) {
	user, err = g.Authenticate(ctx, token)
	if err != nil {
		return types.User{}, "", err
	}
	if namespace == "" {
		return user, "", nil
	}
	classID, err = g.AuthorizeClass(ctx, user, namespace)
	if err != nil {
		return types.User{}, "", err
	}
	return user, classID, nil
}

// TokenFromRequest extracts the session token from the handshake: the token
// query parameter, then an Authorization bearer header, then the cookie.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}

	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}

	return ""
}
