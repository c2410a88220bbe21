package service

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kapalku_backend/internals/features/payment/payments/dto"
	helper "kapalku_backend/internals/helpers"
)

const (
	testHMACSecret = "whsec_test"
	testServerKey  = "SB-Mid-server-test"
)

var fixedNow = time.Date(2026, 10, 1, 3, 0, 0, 0, time.UTC)

func signedNotification(order string) (dto.MidtransNotification, []byte) {
	n := dto.MidtransNotification{
		OrderID:           order,
		StatusCode:        "200",
		GrossAmount:       "150000.00",
		TransactionStatus: "settlement",
		TransactionID:     "tx-1",
	}
	n.SignatureKey = MidtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, testServerKey)
	body := []byte(`{"order_id":"` + order + `","transaction_status":"settlement"}`)
	return n, body
}

func newVerifier() *SignatureVerifier {
	return NewSignatureVerifier(testHMACSecret, testServerKey, 0).WithClock(func() time.Time { return fixedNow })
}

func TestVerifyAcceptsValidSignatures(t *testing.T) {
	n, body := signedNotification("ORD-1")
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	sig := ComputeHMAC([]byte(testHMACSecret), ts, body)

	require.NoError(t, newVerifier().Verify(body, sig, ts, &n))
	// hex case does not matter
	require.NoError(t, newVerifier().Verify(body, strings.ToUpper(sig), ts, &n))
}

func TestVerifyRejects(t *testing.T) {
	n, body := signedNotification("ORD-1")
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	sig := ComputeHMAC([]byte(testHMACSecret), ts, body)

	stale := strconv.FormatInt(fixedNow.Add(-6*time.Minute).Unix(), 10)
	future := strconv.FormatInt(fixedNow.Add(6*time.Minute).Unix(), 10)

	tampered := n
	tampered.GrossAmount = "1.00"

	cases := []struct {
		name string
		body []byte
		sig  string
		ts   string
		n    dto.MidtransNotification
	}{
		{"missing headers", body, "", "", n},
		{"malformed timestamp", body, sig, "yesterday", n},
		{"stale timestamp", body, ComputeHMAC([]byte(testHMACSecret), stale, body), stale, n},
		{"future timestamp", body, ComputeHMAC([]byte(testHMACSecret), future, body), future, n},
		{"body changed", append(body, ' '), sig, ts, n},
		{"wrong secret", body, ComputeHMAC([]byte("other"), ts, body), ts, n},
		{"body signature tampered", body, sig, ts, tampered},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nn := tc.n
			err := newVerifier().Verify(tc.body, tc.sig, tc.ts, &nn)
			require.Error(t, err)
			assert.True(t, errors.Is(err, helper.ErrAuthenticationFailure))
			// reason stays in the security log
			assert.NotContains(t, err.Error(), "hmac")
		})
	}
}

func TestVerifyWithinToleranceWindow(t *testing.T) {
	n, body := signedNotification("ORD-2")
	ts := strconv.FormatInt(fixedNow.Add(-4*time.Minute).Unix(), 10)
	sig := ComputeHMAC([]byte(testHMACSecret), ts, body)
	assert.NoError(t, newVerifier().Verify(body, sig, ts, &n))
}

func TestVerifySkipsUnconfiguredChecks(t *testing.T) {
	n, body := signedNotification("ORD-3")

	// body signature only
	v := NewSignatureVerifier("", testServerKey, 0)
	assert.NoError(t, v.Verify(body, "", "", &n))

	n.SignatureKey = ""
	assert.Error(t, v.Verify(body, "", "", &n))
}

func TestVerifyRejectsWhenNothingConfigured(t *testing.T) {
	n := dto.MidtransNotification{OrderID: "ORD-4", TransactionStatus: "settlement"}
	err := NewSignatureVerifier("", "", 0).Verify([]byte(`{"order_id":"ORD-4"}`), "", "", &n)
	require.Error(t, err)
	assert.True(t, errors.Is(err, helper.ErrAuthenticationFailure))
}

func TestMidtransSignatureMatchesKnownVector(t *testing.T) {
	// sha512("ORD-1" + "200" + "150000.00" + "key")
	got := MidtransSignature("ORD-1", "200", "150000.00", "key")
	assert.Len(t, got, 128)
	assert.Equal(t, got, MidtransSignature("ORD-1", "200", "150000.00", "key"))
	assert.NotEqual(t, got, MidtransSignature("ORD-1", "200", "150000.01", "key"))
}

func TestIdempotencyKey(t *testing.T) {
	n := dto.MidtransNotification{OrderID: "ORD-1", TransactionID: "tx-9", TransactionStatus: "Settlement"}
	assert.Equal(t, "ORD-1|tx-9|settlement", KeyFor(&n))

	n.TransactionID = ""
	assert.Equal(t, "ORD-1|-|settlement", KeyFor(&n))

	review := dto.MidtransNotification{OrderID: "ORD-1", TransactionID: "tx-9", TransactionStatus: "capture", FraudStatus: "challenge"}
	accept := review
	accept.FraudStatus = "accept"
	assert.NotEqual(t, KeyFor(&review), KeyFor(&accept))
}
