package observability

import (
	"context"
	"sync"
	"unicode"
)

// sanitizeString drops control characters and limits length to avoid log injection.
func sanitizeString(value string, limit int) string {
	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		cleaned = append(cleaned, r)
		if len(cleaned) == limit {
			break
		}
	}
	return string(cleaned)
}

// SanitizeRoute removes control characters and enforces length constraints on routes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeUserID limits identifiers written to logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}

type callerCaptureKey struct{}

type callerCapture struct {
	mu sync.Mutex
	id string
}

func withCallerCapture(ctx context.Context, capture *callerCapture) context.Context {
	return context.WithValue(ctx, callerCaptureKey{}, capture)
}

func (c *callerCapture) set(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

func (c *callerCapture) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}
