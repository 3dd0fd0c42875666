package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-guard/internal/response"
)

// SignatureHeader carries "sha256=<hex hmac of the raw body>".
const SignatureHeader = "X-Proctoring-Signature"

const maxWebhookBody = 1 << 20

// RequireWebhookSignature verifies the HMAC-SHA256 signature of a webhook
// body. An empty secret rejects every request.
func RequireWebhookSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrInvalidSignature)
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidPayload)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		sig := strings.TrimPrefix(c.GetHeader(SignatureHeader), "sha256=")
		got, err := hex.DecodeString(sig)
		if err != nil || !hmac.Equal(got, Sign(secret, body)) {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrInvalidSignature)
			return
		}
		c.Next()
	}
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
