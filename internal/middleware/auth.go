package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/helpably/volunteerhub/internal/user"
)

// JWTAuth validates the Bearer session token and stores the user id under
// "user_id" in the echo context.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := bearerToken(c)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}

			claims := jwt.MapClaims{}
			parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(secret), nil
			})
			if err != nil || !parsed.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			userID, ok := claims["user_id"].(string)
			if !ok || userID == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token claims"})
			}

			c.Set("user_id", userID)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing Authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) || len(authHeader) == len(prefix) {
		return "", errors.New("invalid Authorization format")
	}
	return authHeader[len(prefix):], nil
}

// RequireActiveUser resolves the authenticated principal through the store,
// rejects suspended accounts, and stores the record under "current_user".
// Must run after JWTAuth.
func RequireActiveUser(store user.Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := c.Get("user_id").(string)
			if !ok || userID == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			u, err := store.GetByID(c.Request().Context(), userID)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load user"})
			}
			if u == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "user not found"})
			}
			if !u.IsActive {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "inactive user"})
			}
			c.Set("current_user", u)
			return next(c)
		}
	}
}

// RequireSuperuser ensures only superusers pass. Must run after
// RequireActiveUser.
func RequireSuperuser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		u, ok := c.Get("current_user").(*user.User)
		if !ok || !u.IsSuperuser {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "superuser access only"})
		}
		return next(c)
	}
}
