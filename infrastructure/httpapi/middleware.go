package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"marketplace-inbox/auth"
	"marketplace-inbox/errors"
)

const userIDKey = "userId"

// requestLogger logs every request with its timing and feeds the latency histogram.
func requestLogger(log *slog.Logger, metrics RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if metrics != nil {
			metrics.ObserveRequest(c.Request.Method, route, status, latency)
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", latency,
			"ip", c.ClientIP(),
			"user_id", c.GetString(userIDKey),
			"body_size", c.Writer.Size(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		log.Log(c.Request.Context(), level, "request", attrs...)
	}
}

func recovery(log *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("Panic recovered", "path", c.Request.URL.Path, "panic", fmt.Sprintf("%v", recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	})
}

// authenticate resolves the Bearer token into the caller's user id.
func authenticate(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		claims, err := tokens.ValidateToken(token)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(userIDKey, claims.UserID)
		c.Request = c.Request.WithContext(auth.WithUserID(c.Request.Context(), claims.UserID))
		c.Next()
	}
}

// abortWithError writes the error taxonomy as a status code. Internal details
// never leave the process.
func abortWithError(c *gin.Context, err error) {
	status := errors.MapToHTTPStatus(err)

	var quota *errors.QuotaExceeded
	if errors.As(err, &quota) {
		c.Header("X-RateLimit-Limit", strconv.Itoa(quota.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(quota.Limit-quota.Used, 0)))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(quota.ResetAt.Unix(), 10))
		c.Header("Retry-After", strconv.Itoa(max(int(time.Until(quota.ResetAt).Seconds()), 1)))
	}

	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
