package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Verifier authenticates a raw webhook body against its request headers.
type Verifier interface {
	Verify(header http.Header, body []byte) error
}

// DefaultSignatureHeader carries the hex HMAC-SHA256 of the body.
const DefaultSignatureHeader = "X-Mailflow-Signature"

// HMACVerifier checks a hex-encoded HMAC-SHA256 of the raw body. The header
// value may carry a "sha256=" prefix.
type HMACVerifier struct {
	secret []byte
	header string
}

// NewHMACVerifier creates a verifier reading header, or
// DefaultSignatureHeader when header is empty.
func NewHMACVerifier(secret, header string) *HMACVerifier {
	if header == "" {
		header = DefaultSignatureHeader
	}
	return &HMACVerifier{secret: []byte(secret), header: header}
}

func (v *HMACVerifier) Verify(header http.Header, body []byte) error {
	got := strings.TrimPrefix(strings.TrimSpace(header.Get(v.header)), "sha256=")
	if got == "" {
		return fmt.Errorf("%w: missing %s header", ErrSignatureVerification, v.header)
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrSignatureVerification)
	}
	if !hmac.Equal(sig, Sign(v.secret, body)) {
		return ErrSignatureVerification
	}
	return nil
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// DefaultSvixTolerance bounds the age of a signed Svix timestamp.
const DefaultSvixTolerance = 5 * time.Minute

// SvixVerifier checks Svix-style signatures as sent by Resend: the
// signed content is "{svix-id}.{svix-timestamp}.{body}" and svix-signature
// holds space-separated "v1,{base64}" entries.
type SvixVerifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSvixVerifier creates a verifier from a "whsec_"-prefixed secret.
func NewSvixVerifier(secret string) (*SvixVerifier, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, fmt.Errorf("webhook: decode svix secret: %w", err)
	}
	return &SvixVerifier{key: key, tolerance: DefaultSvixTolerance, now: time.Now}, nil
}

// WithClock overrides the clock used for the timestamp tolerance check.
func (v *SvixVerifier) WithClock(now func() time.Time) *SvixVerifier {
	v.now = now
	return v
}

func (v *SvixVerifier) Verify(header http.Header, body []byte) error {
	id := firstHeader(header, "svix-id", "webhook-id")
	ts := firstHeader(header, "svix-timestamp", "webhook-timestamp")
	sigs := firstHeader(header, "svix-signature", "webhook-signature")
	if id == "" || ts == "" || sigs == "" {
		return fmt.Errorf("%w: missing svix headers", ErrSignatureVerification)
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrSignatureVerification)
	}
	if age := v.now().Sub(time.Unix(sec, 0)); age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureVerification)
	}

	signed := make([]byte, 0, len(id)+len(ts)+len(body)+2)
	signed = append(signed, id...)
	signed = append(signed, '.')
	signed = append(signed, ts...)
	signed = append(signed, '.')
	signed = append(signed, body...)
	expected := Sign(v.key, signed)

	for _, entry := range strings.Fields(sigs) {
		version, encoded, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		sig, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrSignatureVerification
}

func firstHeader(h http.Header, names ...string) string {
	for _, n := range names {
		if v := h.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// NewVerifier picks the verification scheme for provider. An empty secret
// yields a nil Verifier: verification is disabled, never faked. header
// names the HMAC signature header and is ignored for Svix.
func NewVerifier(provider, secret, header string) (Verifier, error) {
	if secret == "" {
		return nil, nil
	}
	if provider == "resend" && strings.HasPrefix(secret, "whsec_") {
		return NewSvixVerifier(secret)
	}
	return NewHMACVerifier(secret, header), nil
}
