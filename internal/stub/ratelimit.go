package stub

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

// RateLimit rejects clients above rps with the same 429 envelope the real
// backend emits, so the client's bounded retry path can be exercised
// against sustained pressure and not just the scripted RateLimitFirst.
func RateLimit(rps float64) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStore(rps),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"success": false,
				"message": "Rate limit exceeded. Please try again later.",
			})
		},
	})
}
