package restapi

import (
	"crypto/subtle"
	log "log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwtverifier "github.com/okta/okta-jwt-verifier-golang"
)

// AccessTokenVerifier verifies OAuth2 access tokens. *jwtverifier.JwtVerifier satisfies it.
type AccessTokenVerifier interface {
	VerifyAccessToken(token string) (*jwtverifier.Jwt, error)
}

// NewOktaVerifier returns a verifier of access tokens issued by the default authorization
// server of an Okta domain. A non empty clientID must match the token's "cid" claim.
func NewOktaVerifier(domain, clientID string) *jwtverifier.JwtVerifier {
	claims := map[string]string{"aud": "api://default"}
	if clientID != "" {
		claims["cid"] = clientID
	}
	setup := jwtverifier.JwtVerifier{
		Issuer:           "https://" + domain + "/oauth2/default",
		ClaimsToValidate: claims,
	}
	return setup.New()
}

// bearerGuard wraps non public handlers. The bearer token is accepted if it equals the
// static token or, failing that, if the verifier accepts it. With neither configured
// every request passes.
func bearerGuard(token string, verifier AccessTokenVerifier) func(gin.HandlerFunc) gin.HandlerFunc {
	return func(h gin.HandlerFunc) gin.HandlerFunc {
		if token == "" && verifier == nil {
			return h
		}
		return func(c *gin.Context) {
			got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
				return
			}
			if token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1 {
				h(c)
				return
			}
			if verifier != nil {
				_, err := verifier.VerifyAccessToken(got)
				if err == nil {
					h(c)
					return
				}
				log.Debug("access token rejected", "path", c.FullPath(), "error", err)
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "invalid token"})
		}
	}
}
