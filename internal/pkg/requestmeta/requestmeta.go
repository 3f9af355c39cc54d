package requestmeta

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const localsKey = "REQUEST_META"

// RequestMeta carries per-request metadata into the confirmation processor
// and the audit logger. It is built once by the middleware and threaded
// explicitly; there is no ambient global state.
type RequestMeta struct {
	RequestID string `json:"request_id"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	DeviceID  string `json:"device_id"`
}

// Middleware builds the request metadata and stores it in Locals.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		meta := RequestMeta{
			RequestID: requestID(c),
			IP:        ClientIP(c),
			UserAgent: c.Get("User-Agent"),
			DeviceID:  c.Get("X-Device-ID"),
		}
		c.Locals(localsKey, meta)
		c.Set("X-Request-ID", meta.RequestID)
		return c.Next()
	}
}

// Get retrieves the request metadata from the fiber context. Returns an
// empty meta when the middleware did not run (tests).
func Get(c *fiber.Ctx) RequestMeta {
	if v := c.Locals(localsKey); v != nil {
		if meta, ok := v.(RequestMeta); ok {
			return meta
		}
	}
	return RequestMeta{}
}

func requestID(c *fiber.Ctx) string {
	if id := strings.TrimSpace(c.Get("X-Request-ID")); id != "" {
		return id
	}
	return uuid.New().String()
}

// ClientIP determines the actual client IP address considering proxies.
func ClientIP(c *fiber.Ctx) string {
	// Cloudflare provides the original client IP in this header
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	return c.IP()
}
