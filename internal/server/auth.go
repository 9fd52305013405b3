package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tripwise/gatekeeper/internal/config"
)

// OperatorClaims are the JWT claims carried by operator tokens.
type OperatorClaims struct {
	Subject string `json:"sub_name"`
	jwt.RegisteredClaims
}

// IssueOperatorToken signs a new operator token with the shared secret.
func IssueOperatorToken(jwtCfg config.JWTConfig, subject string) (string, error) {
	secret := strings.TrimSpace(jwtCfg.Secret)
	if secret == "" {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "operator"
	}
	expiry := jwtCfg.Expiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	now := time.Now()
	claims := OperatorClaims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// parseOperatorToken validates a token string against the shared secret.
func parseOperatorToken(secret, token string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	parsed, errParse := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(secret), nil
	})
	if errParse != nil {
		return nil, errParse
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// operatorAuthMiddleware validates operator JWTs on management routes.
func operatorAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	secret := strings.TrimSpace(jwtCfg.Secret)
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "operator api disabled"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := parseOperatorToken(secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("operatorSubject", claims.Subject)
		c.Next()
	}
}
