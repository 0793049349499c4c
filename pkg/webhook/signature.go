package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix>,v1=<hex>[,v1=<hex>...]". Each v1 is the
// hex HMAC-SHA256 of "<t>.<raw body>" under the shared secret, not of the body
// alone, so the timestamp is authenticated too. Several v1 entries allow
// secret rotation.
const SignatureHeader = "Payment-Signature"

// DefaultTolerance is the accepted distance between the signed timestamp and now.
const DefaultTolerance = 5 * time.Minute

// Signature is a parsed SignatureHeader value.
type Signature struct {
	Timestamp time.Time
	V1        [][]byte
}

// ParseSignatureHeader parses a SignatureHeader value. Unknown schemes are
// ignored so the provider can add new ones without breaking verification.
func ParseSignatureHeader(header string) (Signature, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Signature{}, ErrMissingSignature
	}

	var sig Signature
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return Signature{}, fmt.Errorf("%w: %q", ErrMalformedHeader, part)
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Signature{}, fmt.Errorf("%w: timestamp %q", ErrMalformedHeader, value)
			}
			sig.Timestamp = time.Unix(ts, 0)
		case "v1":
			mac, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			sig.V1 = append(sig.V1, mac)
		}
	}
	if sig.Timestamp.IsZero() {
		return Signature{}, fmt.Errorf("%w: no timestamp", ErrMalformedHeader)
	}
	if len(sig.V1) == 0 {
		return Signature{}, fmt.Errorf("%w: no v1 signature", ErrMalformedHeader)
	}
	return sig, nil
}

// Sign returns a SignatureHeader value for payload signed at ts.
func Sign(secret []byte, ts time.Time, payload []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(computeMAC(secret, ts.Unix(), payload)))
}

// Verify authenticates payload against header. The signature is checked
// before the timestamp, so an unauthenticated request is never reported as
// a skew error. A zero tolerance disables the timestamp check.
func Verify(secret []byte, header string, payload []byte, now time.Time, tolerance time.Duration) error {
	sig, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}

	expected := computeMAC(secret, sig.Timestamp.Unix(), payload)
	matched := false
	for _, mac := range sig.V1 {
		if hmac.Equal(expected, mac) {
			matched = true
			break
		}
	}
	if !matched {
		return ErrInvalidSignature
	}

	if tolerance > 0 {
		skew := now.Sub(sig.Timestamp)
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return fmt.Errorf("%w: %s", ErrTimestampSkew, skew.Round(time.Second))
		}
	}
	return nil
}

func computeMAC(secret []byte, ts int64, payload []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte("."))
	h.Write(payload)
	return h.Sum(nil)
}
