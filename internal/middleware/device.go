package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-guard/internal/model"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
)

// ContextKeyDevice is the Gin context key for the resolved device session.
const ContextKeyDevice = "device"

// DeviceSignalFrom collects the fingerprint headers of a request.
func DeviceSignalFrom(c *gin.Context) model.DeviceSignal {
	return model.DeviceSignal{
		UserAgent:       c.GetHeader("User-Agent"),
		AcceptLanguage:  c.GetHeader("Accept-Language"),
		SecCHUA:         c.GetHeader("Sec-CH-UA"),
		SecCHUAPlatform: c.GetHeader("Sec-CH-UA-Platform"),
		SecCHUAMobile:   c.GetHeader("Sec-CH-UA-Mobile"),
		IPAddress:       c.ClientIP(),
	}
}

// ResolveDevice maps the student's fingerprint to a device session. Must run
// after RequireStudentJWT.
func ResolveDevice(devices *service.DeviceService, log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "device_middleware").Logger()
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		device, err := devices.Resolve(c.Request.Context(), claims.UserID, DeviceSignalFrom(c))
		if err != nil {
			log.Error().Err(err).Int("user_id", claims.UserID).Msg("Failed to resolve device")
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}

		c.Set(ContextKeyDevice, device)
		c.Next()
	}
}

// GetDevice retrieves the resolved device session from the Gin context.
func GetDevice(c *gin.Context) *model.DeviceSession {
	val, exists := c.Get(ContextKeyDevice)
	if !exists {
		return nil
	}
	device, ok := val.(*model.DeviceSession)
	if !ok {
		return nil
	}
	return device
}

// NoStore marks attempt responses as uncacheable.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
