// file: internals/features/payment/payments/service/signature.go
package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kapalku_backend/internals/features/payment/payments/dto"
	helper "kapalku_backend/internals/helpers"
)

const (
	HeaderSignature = "X-Callback-Signature"
	HeaderTimestamp = "X-Callback-Timestamp"

	DefaultSignatureTolerance = 5 * time.Minute
)

/*
SignatureVerifier checks an inbound notification before any state is read.

  - header HMAC: hex(HMAC-SHA256(secret, timestamp + "." + body)), timestamp in
    unix seconds, must lie within Tolerance of now (replay window)
  - body signature_key: SHA512(order_id + status_code + gross_amount + server key),
    Midtrans' own scheme

A check is skipped only when its secret is not configured. With neither
configured every notification is rejected.
*/
type SignatureVerifier struct {
	HMACSecret []byte
	ServerKey  string
	Tolerance  time.Duration
	now        func() time.Time
}

func NewSignatureVerifier(hmacSecret, serverKey string, tolerance time.Duration) *SignatureVerifier {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return &SignatureVerifier{
		HMACSecret: []byte(hmacSecret),
		ServerKey:  serverKey,
		Tolerance:  tolerance,
		now:        time.Now,
	}
}

// WithClock is for tests.
func (v *SignatureVerifier) WithClock(now func() time.Time) *SignatureVerifier {
	v.now = now
	return v
}

// Verify returns nil or an error wrapping ErrAuthenticationFailure. The
// detailed reason only goes to the security log.
func (v *SignatureVerifier) Verify(body []byte, signature, timestamp string, n *dto.MidtransNotification) error {
	if reason := v.check(body, signature, timestamp, n); reason != "" {
		helper.SecurityLog().WithFields(map[string]any{
			"order_id": n.OrderID,
			"reason":   reason,
		}).Warn("webhook signature rejected")
		return fmt.Errorf("webhook rejected: %w", helper.ErrAuthenticationFailure)
	}
	return nil
}

func (v *SignatureVerifier) check(body []byte, signature, timestamp string, n *dto.MidtransNotification) string {
	if len(v.HMACSecret) == 0 && v.ServerKey == "" {
		return "no verification secret configured"
	}
	if len(v.HMACSecret) > 0 {
		if signature == "" || timestamp == "" {
			return "missing signature headers"
		}
		sec, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
		if err != nil {
			return "malformed timestamp"
		}
		skew := v.now().Sub(time.Unix(sec, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > v.Tolerance {
			return "timestamp outside tolerance"
		}
		want := ComputeHMAC(v.HMACSecret, timestamp, body)
		if !constantTimeHexEqual(want, signature) {
			return "hmac mismatch"
		}
	}

	if v.ServerKey != "" {
		if n.SignatureKey == "" {
			return "missing signature_key"
		}
		want := MidtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, v.ServerKey)
		if !constantTimeHexEqual(want, n.SignatureKey) {
			return "signature_key mismatch"
		}
	}
	return ""
}

func ComputeHMAC(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func MidtransSignature(orderID, statusCode, grossAmount, serverKey string) string {
	h := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(h[:])
}

func constantTimeHexEqual(want, got string) bool {
	got = strings.ToLower(strings.TrimSpace(got))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
