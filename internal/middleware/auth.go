package middleware

import (
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin = "admin"

	tokenContextKey = "user"
)

// Claims carried by access tokens issued by the identity provider.
type Claims struct {
	UserID uint   `json:"uid,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func newClaims(c echo.Context) jwt.Claims {
	return new(Claims)
}

// RequireRole rejects requests without a valid bearer token carrying role.
func RequireRole(secret []byte, role string) echo.MiddlewareFunc {
	verify := echojwt.WithConfig(echojwt.Config{
		SigningKey:    secret,
		ContextKey:    tokenContextKey,
		NewClaimsFunc: newClaims,
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token")
		},
	})

	checkRole := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := ClaimsFromContext(c)
			if claims == nil || claims.Role != role {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(checkRole(next))
	}
}

// OptionalUser attaches claims when a bearer token is present so checkout
// can link the order to a user. Guests pass through; a bad token does not.
func OptionalUser(secret []byte) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:             secret,
		ContextKey:             tokenContextKey,
		NewClaimsFunc:          newClaims,
		ContinueOnIgnoredError: true,
		ErrorHandler: func(c echo.Context, err error) error {
			var extractErr *echojwt.TokenExtractionError
			if errors.As(err, &extractErr) {
				return nil
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		},
	})
}

// ClaimsFromContext returns the verified claims, or nil for guests.
func ClaimsFromContext(c echo.Context) *Claims {
	token, ok := c.Get(tokenContextKey).(*jwt.Token)
	if !ok || !token.Valid {
		return nil
	}
	claims, _ := token.Claims.(*Claims)
	return claims
}

// UserIDFromContext returns the authenticated user id, or nil for guests.
func UserIDFromContext(c echo.Context) *uint {
	claims := ClaimsFromContext(c)
	if claims == nil || claims.UserID == 0 {
		return nil
	}
	id := claims.UserID
	return &id
}
