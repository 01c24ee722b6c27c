package http

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"quiz-attempt-service/internal/domain"
)

func TestAuthenticatorRoundTrip(t *testing.T) {
	auth := NewAuthenticator("s3cret")
	token, err := auth.Issue(instructor, time.Hour)
	require.NoError(t, err)

	p, err := auth.Parse(token)
	require.NoError(t, err)
	require.Equal(t, instructor, p)

	_, err = NewAuthenticator("other").Parse(token)
	require.Error(t, err)

	expired, err := auth.Issue(instructor, -time.Minute)
	require.NoError(t, err)
	_, err = auth.Parse(expired)
	require.Error(t, err)
}

func TestAuthenticatorDefaultsRoleAndRejectsOtherAlgorithms(t *testing.T) {
	auth := NewAuthenticator("s3cret")
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	p, err := auth.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, domain.Principal{ID: "u1", Role: domain.RoleLearner}, p)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.Parse(unsigned)
	require.Error(t, err)
}
