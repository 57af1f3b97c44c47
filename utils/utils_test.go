package utils

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelhub/travelhub/config"
)

func TestMain(m *testing.M) {
	config.Override(config.AppConfig{JWTSecret: "utils-test-secret", TokenTTLHours: 1})
	os.Exit(m.Run())
}

func TestTokenRoundTrip(t *testing.T) {
	token, expiresAt, err := GenerateToken(42, "alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.EqualValues(t, 42, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID)

	other, _, err := GenerateToken(42, "alice")
	require.NoError(t, err)
	otherClaims, err := ParseToken(other)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, otherClaims.ID, "every token gets its own id")

	_, err = ParseToken(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: 42,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "forged",
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("another-secret"))
	require.NoError(t, err)
	_, err = ParseToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: 42,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "old",
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(config.Get().JWTSecret))
	require.NoError(t, err)
	_, err = ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHelpers(t *testing.T) {
	hash, err := HashPassword("secret123")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "secret123"))
	assert.False(t, CheckPassword(hash, "secret124"))
	assert.False(t, CheckPassword("", "secret123"))

	assert.True(t, ValidUsername("tokyo_eats-1"))
	assert.True(t, ValidUsername("東京"))
	assert.False(t, ValidUsername("a"))
	assert.False(t, ValidUsername("has space"))
	assert.False(t, ValidUsername(strings.Repeat("x", 33)))

	assert.True(t, ValidPassword("abcdef"))
	assert.False(t, ValidPassword("abcde"))
	assert.False(t, ValidPassword("abc def"))
	assert.False(t, ValidPassword(strings.Repeat("x", 73)))

	assert.True(t, ValidEmail("a@b.co"))
	assert.False(t, ValidEmail("@b.co"))
	assert.False(t, ValidEmail("a@"))
	assert.False(t, ValidEmail("a b@c.d"))
}

func TestSanitizers(t *testing.T) {
	assert.Equal(t, `<p>hi</p>`, Sanitize(`<p onclick="x()">hi</p><script>alert(1)</script>`))
	assert.Equal(t, "Fish & Chips", PlainText("  <b>Fish &amp; Chips</b> "))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "東京", Truncate("東京タワー", 2))
	assert.Equal(t, "abc", Truncate("abc", 5))
}

func TestUnique(t *testing.T) {
	assert.Equal(t, []uint{3, 1, 2}, Unique([]uint{3, 1, 3, 2, 1}))
	assert.Empty(t, Unique([]string{}))
}

func TestNewPage(t *testing.T) {
	p := NewPage([]int{1, 2}, 2, 5, 11)
	assert.Equal(t, 3, p.Pagination.TotalPages)
	assert.EqualValues(t, 11, p.Pagination.Total)

	empty := NewPage([]int{}, 1, 5, 0)
	assert.Equal(t, 0, empty.Pagination.TotalPages)
}

func TestOAuthStateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	SaveState(ctx, "state-1", "/places/3", time.Minute)

	returnTo, ok := ConsumeState(ctx, "state-1")
	require.True(t, ok)
	assert.Equal(t, "/places/3", returnTo)

	_, ok = ConsumeState(ctx, "state-1")
	assert.False(t, ok)

	SaveState(ctx, "state-2", "", time.Nanosecond)
	time.Sleep(time.Millisecond)
	_, ok = ConsumeState(ctx, "state-2")
	assert.False(t, ok, "expired state")
}

func TestTokenBlacklistInMemory(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsTokenBlacklisted(ctx, "jti-1"))

	BlacklistToken(ctx, "jti-1", time.Now().Add(time.Minute))
	assert.True(t, IsTokenBlacklisted(ctx, "jti-1"))

	BlacklistToken(ctx, "jti-2", time.Now().Add(-time.Minute))
	assert.False(t, IsTokenBlacklisted(ctx, "jti-2"), "already expired tokens are not stored")
}

func TestCacheIsNoopWithoutRedis(t *testing.T) {
	ctx := context.Background()
	CacheSetJSON(ctx, CacheHeroSlides, []int{1}, time.Minute)
	_, ok := CacheGetBytes(ctx, CacheHeroSlides)
	assert.False(t, ok)
	InvalidateByPrefix(ctx, CachePostsList)
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "room=lobby&token=REDACTED", redactToken("room=lobby&token=abc.def"))
	assert.Equal(t, "page=2", redactToken("page=2"))
}
