package webhook

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"evt_1"}`)
	v := NewVerifier("whsec_test", time.Minute).WithClock(func() time.Time { return now })
	good := Sign("whsec_test", now, body)

	tests := []struct {
		name   string
		body   []byte
		header string
		want   error
	}{
		{"valid", body, good, nil},
		{"missing header", body, "", ErrMissingSignature},
		{"tampered body", []byte(`{"id":"evt_2"}`), good, ErrSignatureMismatch},
		{"wrong secret", body, Sign("other", now, body), ErrSignatureMismatch},
		{"stale", body, Sign("whsec_test", now.Add(-2*time.Minute), body), ErrStaleTimestamp},
		{"future", body, Sign("whsec_test", now.Add(2*time.Minute), body), ErrStaleTimestamp},
		{"no timestamp", body, "v1=abcd", ErrMalformedHeader},
		{"no signature", body, "t=1700000000", ErrMalformedHeader},
		{"bad hex", body, "t=1700000000,v1=zz", ErrMalformedHeader},
		{"garbage", body, "nonsense", ErrMalformedHeader},
		{"rotated secret", body, Sign("old", now, body) + "," + strings.SplitN(good, ",", 2)[1], nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.body, tt.header)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	a := IdempotencyKey("stripe", "evt_1")
	assert.Equal(t, a, IdempotencyKey("stripe", "evt_1"))
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, IdempotencyKey("stripe", "evt_2"))
	assert.NotEqual(t, a, IdempotencyKey("paypal", "evt_1"))
}

func TestReadBodyCapsSize(t *testing.T) {
	req := httptest.NewRequest("POST", "/", bytes.NewReader(make([]byte, MaxBodyBytes+1)))
	_, err := ReadBody(req)
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	req = httptest.NewRequest("POST", "/", strings.NewReader("ok"))
	body, err := ReadBody(req)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
}
