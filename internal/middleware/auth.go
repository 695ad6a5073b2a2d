package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/requestctx"
)

// Gin context keys set by Auth.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// Claims is the token payload issued by the storefront and seller login flows.
// Buyer tokens carry userId, seller tokens carry id.
type Claims struct {
	UserID   string `json:"userId,omitempty"`
	SellerID string `json:"id,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the first non-empty identity claim.
func (c *Claims) Identity() string {
	switch {
	case c.UserID != "":
		return c.UserID
	case c.SellerID != "":
		return c.SellerID
	default:
		return c.RegisteredClaims.Subject
	}
}

var authLogger = logging.NewLogger("auth")

// Auth validates the bearer token and stores the caller's identity.
func Auth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims := &Claims{}
		_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil {
			authLogger.Debug("Rejected token", logging.Fields{"error": err.Error()})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		userID := claims.Identity()
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}

		c.Set(ContextUserID, userID)
		c.Set(ContextRole, claims.Role)
		c.Request = c.Request.WithContext(requestctx.WithUserID(c.Request.Context(), userID))

		c.Next()
	}
}

// RequireRole rejects callers whose token does not carry role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": fmt.Sprintf("%s role required", role),
			})
			return
		}
		c.Next()
	}
}

// SignToken issues an HS256 token for userID. Used by tests and local tooling.
func SignToken(secret, userID, role string) (string, error) {
	claims := &Claims{
		UserID:           userID,
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
