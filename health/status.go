// Package health provides health monitoring for ingest sources and the
// pipeline as a whole. Error messages are sanitized before they are stored
// so connection strings and credentials never leak into health output.
package health

import (
	"regexp"
	"time"
)

// Pre-compiled regexes for error message sanitization
var (
	httpURLRegex    = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex    = regexp.MustCompile(`nats://[^\s]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health state of one ingest source or pipeline stage
type Status struct {
	Source    string    `json:"source"`
	Healthy   bool      `json:"healthy"`
	Status    string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message   string    `json:"message"`
	LastError string    `json:"last_error,omitempty"`
	Records   int64     `json:"records,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHealthy builds a healthy status
func NewHealthy(source, message string) Status {
	return Status{
		Source:    source,
		Healthy:   true,
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded builds a degraded status (operational, but impaired)
func NewDegraded(source, message string) Status {
	return Status{
		Source:    source,
		Healthy:   false,
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy builds an unhealthy status carrying a sanitized error
func NewUnhealthy(source, message string, err error) Status {
	s := Status{
		Source:    source,
		Healthy:   false,
		Status:    StatusUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err != nil {
		s.LastError = Sanitize(err.Error())
	}
	return s
}

// Sanitize strips addresses, URLs, and credential-looking fragments from an
// error message so it is safe to expose on a health endpoint.
func Sanitize(msg string) string {
	msg = credentialRegex.ReplaceAllString(msg, "$1=[redacted]")
	msg = httpURLRegex.ReplaceAllString(msg, "[url]")
	msg = natsURLRegex.ReplaceAllString(msg, "[nats-url]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[addr]")
	msg = portRegex.ReplaceAllString(msg, ":[port]")
	return msg
}
