package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestIssuer() *Issuer {
	return NewIssuer(testSecret, 24*time.Hour, 12*time.Hour)
}

func TestIssuePartialAndVerify(t *testing.T) {
	iss := newTestIssuer()

	s, err := iss.IssuePartial("usr_1", "alice@example.com", "user")
	require.NoError(t, err)

	claims, err := iss.Verify(s)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
	assert.False(t, claims.TwoFactorVerified)
}

func TestIssueFullCarriesStepUpClaim(t *testing.T) {
	iss := newTestIssuer()

	s, err := iss.IssueFull("usr_2", "bob@example.com", "approver")
	require.NoError(t, err)

	claims, err := iss.Verify(s)
	require.NoError(t, err)
	assert.True(t, claims.TwoFactorVerified)
	assert.Equal(t, "approver", claims.Role)
}

func TestFullTokenExpiresBeforePartial(t *testing.T) {
	iss := newTestIssuer()

	partial, err := iss.IssuePartial("usr_1", "a@b.c", "user")
	require.NoError(t, err)
	full, err := iss.IssueFull("usr_1", "a@b.c", "user")
	require.NoError(t, err)

	pc, err := iss.Verify(partial)
	require.NoError(t, err)
	fc, err := iss.Verify(full)
	require.NoError(t, err)

	assert.True(t, fc.ExpiresAt.Before(pc.ExpiresAt.Time),
		"full token should expire before partial token")
}

func TestVerifyExpired(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	iss := NewIssuer(testSecret, 24*time.Hour, 12*time.Hour).WithClock(func() time.Time { return past })

	s, err := iss.IssuePartial("usr_1", "a@b.c", "user")
	require.NoError(t, err)

	// Verify with a real clock: the token is now 48h old with a 24h TTL.
	_, err = NewIssuer(testSecret, 24*time.Hour, 12*time.Hour).Verify(s)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyWrongKey(t *testing.T) {
	iss := newTestIssuer()
	other := NewIssuer([]byte("another-secret-key-of-enough-len"), 24*time.Hour, 12*time.Hour)

	s, err := iss.IssuePartial("usr_1", "a@b.c", "user")
	require.NoError(t, err)

	_, err = other.Verify(s)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyMalformed(t *testing.T) {
	iss := newTestIssuer()

	for _, s := range []string{"", "garbage", "a.b.c"} {
		_, err := iss.Verify(s)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", s)
	}
}
