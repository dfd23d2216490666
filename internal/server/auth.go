package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	obscontext "github.com/smallbiznis/praxis/internal/observability/context"
	"github.com/smallbiznis/praxis/internal/observability/logger"
	"go.uber.org/zap"
)

const contextProfessionalIDKey = "professional_id"

// SupabaseAuthRequired accepts a Supabase access token signed with the
// project's HS256 secret. The token subject is the professional id.
func (s *Server) SupabaseAuthRequired() gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(s.cfg.Supabase.JWTSecret))

	return func(c *gin.Context) {
		if len(secret) == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			logger.FromContext(c.Request.Context()).Debug("supabase token rejected", zap.Error(err))
			AbortWithError(c, ErrUnauthorized)
			return
		}

		professionalID := strings.TrimSpace(claims.Subject)
		if professionalID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextProfessionalIDKey, professionalID)
		c.Request = c.Request.WithContext(obscontext.WithProfessionalID(c.Request.Context(), professionalID))
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
