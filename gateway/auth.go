package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/cloudx-io/rentauction/core"
)

const principalKey = "principal"

// Claims are issued by the auth service. Subject carries the principal ID.
type Claims struct {
	Role   core.Role `json:"role"`
	Wallet string    `json:"wallet_address,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for p. The marketplace only verifies
// tokens; this exists for tooling and tests.
func IssueToken(secret []byte, p core.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:   p.Role,
		Wallet: p.Wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates a token and returns the principal it names.
func ParseToken(secret []byte, tokenString string) (core.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return core.Principal{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return core.Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return core.Principal{}, errors.New("token has no subject")
	}
	switch claims.Role {
	case core.RoleLandlord, core.RoleTenant, core.RoleOperator:
	default:
		return core.Principal{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return core.Principal{ID: claims.Subject, Role: claims.Role, Wallet: claims.Wallet}, nil
}

// jwtMiddleware resolves the bearer token into a core.Principal. Browsers
// cannot set headers on websocket upgrades, so a token query parameter is
// accepted as well.
func jwtMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString := c.QueryParam("token")
			if authHeader := c.Request().Header.Get("Authorization"); authHeader != "" {
				tokenParts := strings.Split(authHeader, " ")
				if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
					return unauthorized(c, "Invalid authorization header format")
				}
				tokenString = tokenParts[1]
			}
			if tokenString == "" {
				return unauthorized(c, "Authorization header is required")
			}

			principal, err := ParseToken(secret, tokenString)
			if err != nil {
				return unauthorized(c, "Invalid token")
			}

			c.Set(principalKey, principal)
			return next(c)
		}
	}
}

func principalFrom(c echo.Context) core.Principal {
	p, _ := c.Get(principalKey).(core.Principal)
	return p
}

// requireRole rejects callers whose role is not in roles.
func requireRole(roles ...core.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := principalFrom(c)
			for _, r := range roles {
				if p.Role == r {
					return next(c)
				}
			}
			return respondError(c, fmt.Errorf("%w: role %q may not call %s", core.ErrForbidden, p.Role, c.Path()))
		}
	}
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, errorBody(msg, "unauthorized"))
}
