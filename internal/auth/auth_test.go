package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	token, err := Issue("s3cret", "upskill-idp", "user_1", RoleEducator, time.Hour)
	require.NoError(t, err)

	id, err := NewVerifier("s3cret", "upskill-idp").Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user_1", id.UserID)
	assert.True(t, id.IsEducator())
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("s3cret", "upskill-idp")

	expired, _ := Issue("s3cret", "upskill-idp", "user_1", "", -time.Minute)
	wrongKey, _ := Issue("other", "upskill-idp", "user_1", "", time.Hour)
	wrongIssuer, _ := Issue("s3cret", "someone-else", "user_1", "", time.Hour)
	noSubject, _ := Issue("s3cret", "upskill-idp", "", "", time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user_1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"alg none":     none,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestFromRequest(t *testing.T) {
	v := NewVerifier("s3cret", "")
	req := httptest.NewRequest("GET", "/", nil)
	_, err := v.FromRequest(req)
	assert.ErrorIs(t, err, ErrMissingToken)

	token, _ := Issue("s3cret", "", "user_1", "", time.Hour)
	req.Header.Set("Authorization", "Bearer "+token)
	id, err := v.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "user_1", id.UserID)
	assert.False(t, id.IsEducator())
}

func TestContextIdentity(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	ctx := WithIdentity(context.Background(), &Identity{UserID: "u"})
	assert.Equal(t, "u", FromContext(ctx).UserID)
}
