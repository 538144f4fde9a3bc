// Package signature verifies inbound gateway webhook signatures.
//
// Every check is a pure function of the secret, the raw request body and the
// signature header. Computed and provided signatures are compared in constant
// time.
package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

// Algorithm names a signature scheme.
type Algorithm string

const (
	HMACSHA512Hex    Algorithm = "hmac-sha512-hex"
	HMACSHA256Hex    Algorithm = "hmac-sha256-hex"
	HMACSHA256Base64 Algorithm = "hmac-sha256-base64"
	HMACMD5Hex       Algorithm = "hmac-md5-hex"
	StripeV1         Algorithm = "stripe-v1"
	SharedSecret     Algorithm = "shared-secret"
)

// Scheme is a fully configured verification strategy for one gateway.
type Scheme struct {
	Algorithm Algorithm
	Secret    string
	// Tolerance bounds the age of timestamped signatures. Zero disables the check.
	Tolerance time.Duration
}

// Validate reports configuration errors up front so a misconfigured gateway
// fails at startup, not on its first webhook.
func (s Scheme) Validate() error {
	if strings.TrimSpace(s.Secret) == "" {
		return fmt.Errorf("empty secret for %s", s.Algorithm)
	}
	switch s.Algorithm {
	case HMACSHA512Hex, HMACSHA256Hex, HMACSHA256Base64, HMACMD5Hex, StripeV1, SharedSecret:
		return nil
	}
	return fmt.Errorf("unsupported signature algorithm %q", s.Algorithm)
}

// Verify checks header against body. now is only consulted by timestamped schemes.
func (s Scheme) Verify(body []byte, header string, now time.Time) bool {
	header = strings.TrimSpace(header)
	secret := []byte(s.Secret)
	if header == "" || len(secret) == 0 {
		return false
	}

	switch s.Algorithm {
	case HMACSHA512Hex:
		return verifyHex(body, header, secret, sha512.New)
	case HMACSHA256Hex:
		return verifyHex(body, header, secret, sha256.New)
	case HMACMD5Hex:
		return verifyHex(body, header, secret, md5.New)
	case HMACSHA256Base64:
		provided, err := base64.StdEncoding.DecodeString(header)
		if err != nil {
			return false
		}
		return hmac.Equal(computeHMAC(body, secret, sha256.New), provided)
	case StripeV1:
		return verifyStripe(body, header, secret, s.Tolerance, now)
	case SharedSecret:
		return subtle.ConstantTimeCompare([]byte(header), secret) == 1
	default:
		return false
	}
}

// Sign produces the header value a gateway using this scheme would send.
// It backs the mock gateway and tests.
func (s Scheme) Sign(body []byte, now time.Time) string {
	secret := []byte(s.Secret)
	switch s.Algorithm {
	case HMACSHA512Hex:
		return hex.EncodeToString(computeHMAC(body, secret, sha512.New))
	case HMACSHA256Hex:
		return hex.EncodeToString(computeHMAC(body, secret, sha256.New))
	case HMACMD5Hex:
		return hex.EncodeToString(computeHMAC(body, secret, md5.New))
	case HMACSHA256Base64:
		return base64.StdEncoding.EncodeToString(computeHMAC(body, secret, sha256.New))
	case StripeV1:
		ts := strconv.FormatInt(now.Unix(), 10)
		mac := computeHMAC(stripeSignedPayload(ts, body), secret, sha256.New)
		return "t=" + ts + ",v1=" + hex.EncodeToString(mac)
	case SharedSecret:
		return s.Secret
	default:
		return ""
	}
}

// Verifier resolves a gateway to its scheme. The table is fixed at
// construction time.
type Verifier struct {
	schemes map[domain.Gateway]Scheme
	now     func() time.Time
}

// NewVerifier builds a verifier from a gateway → scheme table.
func NewVerifier(schemes map[domain.Gateway]Scheme) *Verifier {
	table := make(map[domain.Gateway]Scheme, len(schemes))
	for g, s := range schemes {
		table[g.Normalize()] = s
	}
	return &Verifier{schemes: table, now: time.Now}
}

// Verify reports whether header is a valid signature of body for gateway.
// Unknown gateways never verify.
func (v *Verifier) Verify(gateway domain.Gateway, body []byte, header string) bool {
	s, ok := v.schemes[gateway.Normalize()]
	if !ok {
		return false
	}
	return s.Verify(body, header, v.now())
}

func computeHMAC(payload, secret []byte, h func() hash.Hash) []byte {
	mac := hmac.New(h, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func verifyHex(body []byte, header string, secret []byte, h func() hash.Hash) bool {
	provided, err := hex.DecodeString(strings.ToLower(header))
	if err != nil {
		return false
	}
	return hmac.Equal(computeHMAC(body, secret, h), provided)
}

func stripeSignedPayload(ts string, body []byte) []byte {
	out := make([]byte, 0, len(ts)+1+len(body))
	out = append(out, ts...)
	out = append(out, '.')
	return append(out, body...)
}

// verifyStripe handles "t=<unix>,v1=<hex>[,v1=<hex>...]". Any matching v1
// signature is accepted, which allows secret rotation on the gateway side.
func verifyStripe(body []byte, header string, secret []byte, tolerance time.Duration, now time.Time) bool {
	var ts string
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			if sig, err := hex.DecodeString(v); err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if ts == "" || len(sigs) == 0 {
		return false
	}

	if tolerance > 0 {
		unix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return false
		}
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	expected := computeHMAC(stripeSignedPayload(ts, body), secret, sha256.New)
	matched := false
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			matched = true
		}
	}
	return matched
}
