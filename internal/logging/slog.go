package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation   = "operation"
	KeySubjectHash = "subject_hash"
	KeyUserHash    = "user_hash"
	KeyGuild       = "guild_id"
	KeyEndpoint    = "endpoint"
	KeyDuration    = "duration"
	KeyStatus      = "status"
	KeyReason      = "reason"
	KeyError       = "error"
	KeyHost        = "host"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusAllowed = "allowed"
	StatusDenied  = "denied"
)

// Log formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ipv4Regex matches IPv4 addresses for sanitization.
var ipv4Regex = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)

// ipv6Regex matches IPv6 candidates; redactIPs confirms them with net.ParseIP
// so port suffixes and clock times are left alone.
var ipv6Regex = regexp.MustCompile(`\[?[0-9a-fA-F:]*:[0-9a-fA-F:]*:[0-9a-fA-F:]*\]?`)

// Options controls the handler built by New.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// Format is FormatText or FormatJSON. Unknown values mean text.
	Format string
}

// New builds a slog.Logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, FormatJSON) {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Guild returns a slog attribute for a Discord guild id.
func Guild(id string) slog.Attr {
	return slog.String(KeyGuild, id)
}

// Endpoint returns a slog attribute for an upstream API endpoint template.
func Endpoint(endpoint string) slog.Attr {
	return slog.String(KeyEndpoint, endpoint)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Reason returns a slog attribute for a decision reason.
func Reason(reason string) slog.Attr {
	return slog.String(KeyReason, reason)
}

// Duration returns a slog attribute for an elapsed time.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration(KeyDuration, d)
}

// Err returns a slog attribute for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// SanitizedErr returns a slog attribute for an error with IP addresses redacted.
// Transport errors from the HTTP client embed resolved addresses.
func SanitizedErr(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, redactIPs(err.Error()))
}

// Host returns a slog attribute for a host with IP addresses sanitized.
func Host(host string) slog.Attr {
	return slog.String(KeyHost, SanitizeHost(host))
}

// HashSubject returns a stable, non-reversible identifier for a Discord user id.
func HashSubject(id int64) string {
	if id == 0 {
		return ""
	}
	hash := sha256.Sum256([]byte(strconv.FormatInt(id, 10)))
	return "subject:" + hex.EncodeToString(hash[:8])
}

// Subject returns a slog attribute with the hashed subject id.
func Subject(id int64) slog.Attr {
	return slog.String(KeySubjectHash, HashSubject(id))
}

// AnonymizeEmail returns a hashed representation of an email for logging purposes.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized user email.
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}

// SanitizeHost redacts IPv4 and IPv6 addresses from a host, URL or message.
//
// Examples:
//   - "https://192.168.1.100:443" -> "https://<redacted-ip>:443"
//   - "https://discord.com/api/v10" -> unchanged
//   - "dial tcp 162.159.128.233:443: i/o timeout" -> "dial tcp <redacted-ip>:443: i/o timeout"
//   - "" -> "<empty>"
func SanitizeHost(host string) string {
	if host == "" {
		return "<empty>"
	}

	if !strings.Contains(host, "://") {
		return redactIPs(host)
	}

	parsed, err := url.Parse(host)
	if err != nil {
		return redactIPs(host)
	}

	redacted := redactIPs(parsed.Host)
	if redacted == parsed.Host {
		return host
	}
	parsed.Host = redacted
	return parsed.String()
}

func redactIPs(s string) string {
	result := ipv4Regex.ReplaceAllString(s, "<redacted-ip>")
	return ipv6Regex.ReplaceAllStringFunc(result, func(m string) string {
		if net.ParseIP(strings.Trim(m, "[]")) == nil {
			return m
		}
		return "<redacted-ip>"
	})
}

// SanitizeToken returns a masked version of a token for logging.
// Only the length is kept; even a JWT header prefix is withheld.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}

// ExtractDomain extracts the domain part from an email address.
func ExtractDomain(email string) string {
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// Domain returns a slog attribute for the email domain.
func Domain(email string) slog.Attr {
	return slog.String("user_domain", ExtractDomain(email))
}
