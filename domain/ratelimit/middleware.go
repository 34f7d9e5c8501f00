package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/clarityinspect/ingestcore/pkg/apperror"
)

// IdentityFromRequest resolves the caller identity per §4.6: the
// authenticated user id if present (this repository's HTTP surface carries
// no auth — see SPEC_FULL.md non-goals — so X-User-ID stands in for it),
// else client IP. Exported so other domains (e.g. ingestion's upload
// handler) can consult a non-API bucket explicitly.
func IdentityFromRequest(c echo.Context) string {
	if uid := c.Request().Header.Get("X-User-ID"); uid != "" {
		return uid
	}
	return c.RealIP()
}

// TierFromRequest resolves the caller's account tier from a header.
func TierFromRequest(c echo.Context) Tier {
	switch Tier(c.Request().Header.Get("X-Account-Tier")) {
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

func setHeaders(c echo.Context, d Decision) {
	c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Response().Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.UnixMilli(), 10))
}

// Middleware returns echo middleware enforcing bucket's quota for the
// requesting identity, setting the standard rate-limit headers on every
// response and returning the structured 429 body on denial (§6).
func (l *Limiter) Middleware(bucket Bucket) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := l.Allow(c.Request().Context(), IdentityFromRequest(c), bucket, TierFromRequest(c))
			setHeaders(c, d)

			if !d.Allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(d.RetryAfter()))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"success": false,
					"code":    apperror.ErrRateLimitExceeded.Code,
					"details": map[string]any{
						"limit":      d.Limit,
						"remaining":  0,
						"reset":      d.Reset.UnixMilli(),
						"retryAfter": d.RetryAfter(),
					},
				})
			}

			return next(c)
		}
	}
}
