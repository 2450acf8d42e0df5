package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/celestialseal/server/internal/model"
	"github.com/celestialseal/server/pkg/apierror"
)

type contextKey string

const userKey contextKey = "user"

// AccessCookie is the cookie carrying the access token
const AccessCookie = "access_token"

// AccessVerifier authenticates an access token and returns its current user
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, token string) (model.User, error)
}

// Policy describes who may call a route
type Policy struct {
	Public bool
	// Roles restricts an authenticated route to these user types; empty means any verified user
	Roles []model.UserType
}

// Policies maps "METHOD /route/pattern" (chi pattern syntax) to a Policy.
// Routes without an entry require an authenticated, verified user.
type Policies map[string]Policy

func (p Policies) lookup(method, pattern string) Policy {
	if pol, ok := p[method+" "+pattern]; ok {
		return pol
	}
	return Policy{}
}

// Authorizer resolves the chi route for each request and enforces its Policy.
// It must be installed on the root router so every route passes through it.
// Requests that match no route are passed on untouched so the router can reply 404 or 405.
func Authorizer(routes chi.Routes, policies Policies, verifier AccessVerifier, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rctx := chi.NewRouteContext()
			if !routes.Match(rctx, r.Method, r.URL.Path) {
				// no handler: the router answers 404/405
				next.ServeHTTP(w, r)
				return
			}
			policy := policies.lookup(r.Method, rctx.RoutePattern())
			if policy.Public {
				next.ServeHTTP(w, r)
				return
			}

			token := accessToken(r)
			if token == "" {
				apierror.Write(w, apierror.Unauthorized("Unauthorized"))
				return
			}
			user, err := verifier.VerifyAccess(r.Context(), token)
			if err != nil {
				apiErr, ok := apierror.As(err)
				if !ok {
					apiErr = apierror.WrapInternal(err)
				}
				if apiErr.Code == apierror.CodeInternal {
					log.Error("access check failed", "error", err)
				}
				apierror.Write(w, apiErr)
				return
			}
			if !user.IsVerified {
				apierror.Write(w, apierror.Forbidden("User is not verified!"))
				return
			}
			if len(policy.Roles) > 0 && !slices.Contains(policy.Roles, user.UserType) {
				apierror.Write(w, apierror.Forbidden("Forbidden resource"))
				return
			}

			ctx := context.WithValue(r.Context(), userKey, &user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func accessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetUser returns the user attached to the request context (set by Authorizer)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	u, ok := GetUser(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return u.ID, true
}
