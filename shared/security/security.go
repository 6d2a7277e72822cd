// Package security holds validation and sanitization helpers shared by the feeds:
// the XRPL endpoint allowlist, wallet address validation, request correlation ids,
// and log-safe error/address formatting.
package security

import (
	"crypto/tls"
	"errors"
	"net"
	"net/url"
	"os"
	"regexp"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Transport limits
const (
	// MaxWebSocketMessageSize caps a single XRPL response frame
	MaxWebSocketMessageSize = 1 << 20 // 1MB

	// MaxHTTPResponseSize caps a REST response body
	MaxHTTPResponseSize = 10 << 20 // 10MB

	// RequestTimeout is the default upstream request timeout
	RequestTimeout = 30 * time.Second

	// MaxRequestTimeout is the ceiling a configured timeout is clamped to
	MaxRequestTimeout = 60 * time.Second

	// ConnectTimeout bounds connection establishment
	ConnectTimeout = 10 * time.Second
)

// XRP addresses start with 'r' followed by 24-34 base58 characters
var xrpAddressPattern = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)

// trustedXRPLDomains is the allowlist of XRPL endpoint hosts
var trustedXRPLDomains = map[string]struct{}{
	"xrplcluster.com": {},
	"s1.ripple.com":   {},
	"s2.ripple.com":   {},
	"xrpl.ws":         {},
}

// ValidateXRPAddress reports whether address is a well-formed XRP r-address
func ValidateXRPAddress(address string) bool {
	return xrpAddressPattern.MatchString(address)
}

// IsTrustedEndpoint reports whether endpoint is a wss:// URL whose host is on
// the XRPL allowlist.
func IsTrustedEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	if u.Scheme != "wss" {
		return false
	}

	_, trusted := trustedXRPLDomains[u.Hostname()]
	return trusted
}

// GenerateRequestID returns a unique id for correlating requests and responses
func GenerateRequestID() string {
	return uuid.NewString()
}

// MaskAddress shortens a wallet address for logging, keeping the first and
// last four characters.
func MaskAddress(address string) string {
	if len(address) <= 8 {
		return "***"
	}
	return address[:4] + "..." + address[len(address)-4:]
}

// SanitizeError maps an error to a generic message safe for logs and status
// lines, without leaking connection internals.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	var dnsErr *net.DNSError
	var tlsErr *tls.CertificateVerificationError

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "connection refused"
	case errors.Is(err, syscall.ECONNRESET):
		return "connection reset"
	case errors.Is(err, syscall.EPIPE):
		return "connection broken"
	case errors.Is(err, os.ErrDeadlineExceeded):
		return "request timed out"
	case errors.As(err, &dnsErr):
		return "DNS resolution failed"
	case errors.As(err, &tlsErr):
		return "certificate verification failed"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "request timed out"
	}

	return "an error occurred"
}
