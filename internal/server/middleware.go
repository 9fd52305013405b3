package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tripwise/gatekeeper/internal/admission"
	"github.com/tripwise/gatekeeper/internal/risk"
)

// Request headers the enforcement middleware reads when present.
const (
	headerUserID    = "X-User-ID"
	headerTier      = "X-Tenant-Tier"
	headerRequestID = "X-Request-ID"
)

// Response headers the enforcement middleware sets.
const (
	headerVerdict   = "X-Admission-Verdict"
	headerChallenge = "X-Challenge-Required"
)

// Admission returns a gin middleware that enforces verdicts inline: allowed
// requests continue, throttled and blocked requests get 429, challenged
// requests get 403 with a challenge header.
func Admission(engine *admission.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := requestFromContext(c)
		decision := engine.Decide(req)

		c.Header(headerVerdict, string(decision.Verdict))
		if decision.RetryAfterMs > 0 {
			c.Header("Retry-After", strconv.FormatInt((decision.RetryAfterMs+999)/1000, 10))
		}

		switch decision.Verdict {
		case admission.VerdictBlock, admission.VerdictThrottle:
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "request rejected",
				"verdict":    decision.Verdict,
				"request_id": decision.RequestID,
				"reasons":    decision.Reasons,
			})
		case admission.VerdictChallenge:
			c.Header(headerChallenge, "true")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":      "challenge required",
				"verdict":    decision.Verdict,
				"request_id": decision.RequestID,
			})
		default:
			c.Next()
		}
	}
}

// requestFromContext builds an admission request from the incoming HTTP
// request. The client IP doubles as the identifier when no user is known.
func requestFromContext(c *gin.Context) admission.Request {
	ip := c.ClientIP()
	userID := strings.TrimSpace(c.GetHeader(headerUserID))
	identifier := userID
	if identifier == "" {
		identifier = ip
	}
	return admission.Request{
		Identifier: identifier,
		Endpoint:   c.FullPath(),
		Tier:       strings.TrimSpace(c.GetHeader(headerTier)),
		Context: risk.SecurityContext{
			RequestID: strings.TrimSpace(c.GetHeader(headerRequestID)),
			IP:        ip,
			UserID:    userID,
			UserAgent: c.Request.UserAgent(),
		},
	}
}
