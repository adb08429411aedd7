package middleware

import (
	"net/http"
	"strings"

	"vending-machine/pkg"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// ClaimsKey is the gin context key holding the token claims of the caller.
const ClaimsKey = "user"

// инициализация миддлвары
func JWTAuthMiddleware(secret string, log pkg.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errors": "Authorization header missing"})
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		// проверка подмены токена
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		// проверка валидности токена
		if err != nil || !token.Valid {
			log.Warn("Invalid JWT token", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errors": "Invalid token"})
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || claims["role"] != "admin" {
			log.Warn("token without admin role", zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"errors": "Forbidden"})
			return
		}
		// добавление пользователя в контекст
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}
