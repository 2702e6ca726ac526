// Package middleware provides Connect-RPC middleware.
package middleware

import (
	"context"
	"errors"
	"strings"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/auth"
	"github.com/limiquantix/placement/internal/domain"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// ClaimsKey is the context key for JWT claims.
	ClaimsKey ContextKey = "claims"
)

// AuthInterceptor authenticates Connect-RPC calls with a bearer token.
type AuthInterceptor struct {
	jwtManager *auth.JWTManager
	logger     *zap.Logger
}

// NewAuthInterceptor creates a new auth interceptor.
func NewAuthInterceptor(jwtManager *auth.JWTManager, logger *zap.Logger) *AuthInterceptor {
	return &AuthInterceptor{
		jwtManager: jwtManager,
		logger:     logger.With(zap.String("middleware", "auth")),
	}
}

// WrapUnary returns a unary interceptor function.
func (a *AuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		// Outgoing calls carry their own credentials.
		if req.Spec().IsClient {
			return next(ctx, req)
		}

		claims, err := a.authenticate(req.Header().Get("Authorization"))
		if err != nil {
			a.logger.Debug("Rejected unauthenticated request",
				zap.String("procedure", req.Spec().Procedure),
				zap.Error(err),
			)
			return nil, err
		}

		a.logger.Debug("Request authenticated",
			zap.String("subject", claims.Subject),
			zap.String("role", string(claims.Role)),
			zap.String("procedure", req.Spec().Procedure),
		)

		return next(context.WithValue(ctx, ClaimsKey, claims), req)
	}
}

// WrapStreamingClient returns a streaming client interceptor.
func (a *AuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler returns a streaming handler interceptor.
func (a *AuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		claims, err := a.authenticate(conn.RequestHeader().Get("Authorization"))
		if err != nil {
			return err
		}
		return next(context.WithValue(ctx, ClaimsKey, claims), conn)
	}
}

func (a *AuthInterceptor) authenticate(authHeader string) (*auth.Claims, error) {
	if authHeader == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing authorization header"))
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("invalid authorization format, expected 'Bearer <token>'"))
	}

	claims, err := a.jwtManager.Verify(tokenString)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("invalid or expired token"))
	}
	return claims, nil
}

// GetClaims extracts JWT claims from the context.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

// RequireRole returns an error if the caller doesn't hold one of the roles.
func RequireRole(ctx context.Context, requiredRoles ...domain.Role) error {
	claims, ok := GetClaims(ctx)
	if !ok {
		return connect.NewError(connect.CodeUnauthenticated, errors.New("not authenticated"))
	}

	for _, r := range requiredRoles {
		if claims.Role == r {
			return nil
		}
	}

	return connect.NewError(connect.CodePermissionDenied, errors.New("insufficient permissions"))
}
