package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avagate/internal/util"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestValidator(t *testing.T, cfg Config) (*Validator, *Metrics) {
	t.Helper()
	if cfg.Secret == nil {
		cfg.Secret = testSecret
	}
	m := NewMetrics(prometheus.NewRegistry())
	v, err := NewValidator(cfg, WithClock(fixedClock(testNow)), WithValidatorMetrics(m))
	require.NoError(t, err)
	return v, m
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(Config{Secret: testSecret, Issuer: "avagate"},
		WithSignerClock(fixedClock(testNow)),
		WithSignerMetrics(NewMetrics(nil)),
	)
	require.NoError(t, err)
	return s
}

// handRolled builds a token without the signer so the wire format is pinned.
func handRolled(secret []byte, headerJSON, payloadJSON string) string {
	enc := base64.RawURLEncoding
	input := enc.EncodeToString([]byte(headerJSON)) + "." + enc.EncodeToString([]byte(payloadJSON))
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return input + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestValidator_RoundTrip(t *testing.T) {
	t.Parallel()

	v, m := newTestValidator(t, Config{})
	s := newTestSigner(t)

	raw, err := s.Issue("alice", []string{"read", "write"}, time.Hour)
	require.NoError(t, err)
	assert.Len(t, strings.Split(raw, "."), 3)

	tok, err := v.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", tok.Subject)
	assert.Equal(t, []string{"read", "write"}, tok.Scopes)
	assert.Equal(t, "avagate", tok.Issuer)
	assert.True(t, tok.ExpiresAt.Equal(testNow.Add(time.Hour)))
	assert.True(t, tok.IssuedAt.Equal(testNow))
	assert.True(t, tok.HasScope("read"))
	assert.False(t, tok.HasScope("admin"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.validationsTotal.WithLabelValues("valid")))
}

func TestValidator_HandRolledToken(t *testing.T) {
	t.Parallel()

	v, _ := newTestValidator(t, Config{})
	exp := testNow.Add(time.Minute).Unix()

	raw := handRolled(testSecret, `{"alg":"HS256","typ":"JWT"}`,
		`{"sub":"bob","scope":"orders:read orders:write","scopes":["orders:read","admin"],"exp":`+itoa(exp)+`}`)

	tok, err := v.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "bob", tok.Subject)
	assert.Equal(t, []string{"orders:read", "orders:write", "admin"}, tok.Scopes)
	assert.True(t, tok.IssuedAt.IsZero())
}

func TestValidator_TamperedSignature(t *testing.T) {
	t.Parallel()

	v, m := newTestValidator(t, Config{})
	raw, err := newTestSigner(t).Issue("alice", []string{"read"}, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	forged := handRolled([]byte("another-secret-of-enough-length!"), `{"alg":"HS256"}`,
		`{"sub":"mallory","scopes":["admin"],"exp":9999999999}`)
	forgedParts := strings.Split(forged, ".")

	tests := []struct {
		name  string
		token string
	}{
		{"payload swapped", parts[0] + "." + forgedParts[1] + "." + parts[2]},
		{"wrong key", forged},
		{"signature truncated", parts[0] + "." + parts[1] + "." + parts[2][:10]},
		{"signature flipped", parts[0] + "." + parts[1] + "." + flipFirst(parts[2])},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, util.ErrInvalidToken)
			assert.ErrorIs(t, err, ErrBadSignature)
			assert.Equal(t, util.KindInvalidToken, util.KindOf(err))
		})
	}

	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(m.validationsTotal.WithLabelValues("bad_signature")))
}

func TestValidator_EverySignatureCharacterCounts(t *testing.T) {
	t.Parallel()

	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

	v, _ := newTestValidator(t, Config{})
	raw, err := newTestSigner(t).Issue("alice", []string{"read"}, time.Hour)
	require.NoError(t, err)

	head, last := raw[:len(raw)-1], raw[len(raw)-1]
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] == last {
			continue
		}
		_, err := v.Validate(head + string(alphabet[i]))
		assert.ErrorIs(t, err, ErrBadSignature, "last character %q -> %q", last, alphabet[i])
	}

	for _, suffix := range []string{"=", "==", "A"} {
		_, err := v.Validate(raw + suffix)
		assert.ErrorIs(t, err, util.ErrInvalidToken, "suffix %q", suffix)
	}

	_, err = v.Validate(raw)
	assert.NoError(t, err)
}

func TestValidator_NonCanonicalSegments(t *testing.T) {
	t.Parallel()

	v, _ := newTestValidator(t, Config{})
	raw, err := newTestSigner(t).Issue("alice", nil, time.Hour)
	require.NoError(t, err)
	parts := strings.Split(raw, ".")

	_, err = v.Validate(parts[0] + "=." + parts[1] + "." + parts[2])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestValidator_Expired(t *testing.T) {
	t.Parallel()

	s := newTestSigner(t)
	raw, err := s.Issue("alice", nil, time.Minute)
	require.NoError(t, err)

	v, _ := newTestValidator(t, Config{})

	_, err = v.ValidateAt(raw, testNow.Add(time.Minute-time.Second))
	assert.NoError(t, err)

	_, err = v.ValidateAt(raw, testNow.Add(time.Minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrExpiredToken)
	assert.NotErrorIs(t, err, util.ErrInvalidToken)
	assert.Equal(t, util.KindExpiredToken, util.KindOf(err))
}

func TestValidator_ClockSkew(t *testing.T) {
	t.Parallel()

	raw, err := newTestSigner(t).Issue("alice", nil, time.Minute)
	require.NoError(t, err)

	v, _ := newTestValidator(t, Config{ClockSkew: 30 * time.Second})

	_, err = v.ValidateAt(raw, testNow.Add(time.Minute+29*time.Second))
	assert.NoError(t, err)

	_, err = v.ValidateAt(raw, testNow.Add(time.Minute+30*time.Second))
	assert.ErrorIs(t, err, util.ErrExpiredToken)
}

func TestValidator_Malformed(t *testing.T) {
	t.Parallel()

	v, _ := newTestValidator(t, Config{})
	exp := itoa(testNow.Add(time.Hour).Unix())

	tests := []struct {
		name   string
		token  string
		reason error
	}{
		{"empty", "", ErrMalformed},
		{"two segments", "a.b", ErrMalformed},
		{"four segments", "a.b.c.d", ErrMalformed},
		{"header not base64", "!!!.e30.sig", ErrMalformed},
		{"header not json", base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".e30.c2ln", ErrMalformed},
		{"alg none", handRolled(testSecret, `{"alg":"none"}`, `{"sub":"a","exp":`+exp+`}`), ErrUnsupportedAlgorithm},
		{"alg RS256", handRolled(testSecret, `{"alg":"RS256"}`, `{"sub":"a","exp":`+exp+`}`), ErrUnsupportedAlgorithm},
		{"payload not json", handRolled(testSecret, `{"alg":"HS256"}`, `not json`), ErrMalformed},
		{"exp not a number", handRolled(testSecret, `{"alg":"HS256"}`, `{"sub":"a","exp":"soon"}`), ErrMalformed},
		{"missing sub", handRolled(testSecret, `{"alg":"HS256"}`, `{"exp":`+exp+`}`), ErrMissingClaim},
		{"missing exp", handRolled(testSecret, `{"alg":"HS256"}`, `{"sub":"a"}`), ErrMissingClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, util.ErrInvalidToken)
			assert.ErrorIs(t, err, tt.reason)
		})
	}
}

func TestValidator_Issuer(t *testing.T) {
	t.Parallel()

	raw, err := newTestSigner(t).Issue("alice", nil, time.Hour)
	require.NoError(t, err)

	v, _ := newTestValidator(t, Config{Issuer: "avagate"})
	_, err = v.Validate(raw)
	assert.NoError(t, err)

	other, _ := newTestValidator(t, Config{Issuer: "someone-else"})
	_, err = other.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidIssuer)
	assert.ErrorIs(t, err, util.ErrInvalidToken)
}

func TestNewValidator_Config(t *testing.T) {
	t.Parallel()

	_, err := NewValidator(Config{Secret: []byte("short")})
	assert.ErrorIs(t, err, ErrWeakSecret)

	_, err = NewValidator(Config{Secret: testSecret, ClockSkew: -time.Second})
	assert.Error(t, err)

	_, err = NewSigner(Config{})
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestSigner_IssueValidation(t *testing.T) {
	t.Parallel()

	s := newTestSigner(t)

	_, err := s.Issue("", nil, time.Hour)
	assert.ErrorIs(t, err, ErrMissingClaim)

	_, err = s.Issue("alice", nil, 0)
	assert.Error(t, err)
}

func TestExtractBearer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"BEARER   abc  ", "abc", true},
		{"Bearer", "", true},
		{"Bearer ", "", true},
		{"", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearerabc", "", false},
	}

	for _, tt := range tests {
		token, ok := ExtractBearer(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

func TestToken_Scopes(t *testing.T) {
	t.Parallel()

	tok := &Token{Scopes: []string{"a", "b"}}
	assert.True(t, tok.HasAllScopes("a", "b"))
	assert.False(t, tok.HasAllScopes("a", "c"))
	assert.Equal(t, []string{"c"}, tok.MissingScopes("a", "c"))

	var none *Token
	assert.False(t, none.HasScope("a"))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// flipFirst changes the first character, which carries six significant bits.
func flipFirst(s string) string {
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}
