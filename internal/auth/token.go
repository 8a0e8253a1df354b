package auth

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Token is a validated bearer credential.
type Token struct {
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// HasScope reports whether the token carries scope.
func (t *Token) HasScope(scope string) bool {
	if t == nil {
		return false
	}
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasAllScopes reports whether the token carries every scope.
func (t *Token) HasAllScopes(scopes ...string) bool {
	for _, s := range scopes {
		if !t.HasScope(s) {
			return false
		}
	}
	return true
}

// MissingScopes returns the scopes the token does not carry.
func (t *Token) MissingScopes(scopes ...string) []string {
	var missing []string
	for _, s := range scopes {
		if !t.HasScope(s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// header is the protected JOSE header.
type header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ,omitempty"`
}

// Claims is the wire form of the token payload.
type Claims struct {
	Subject   string       `json:"sub,omitempty"`
	Scope     string       `json:"scope,omitempty"`
	Scopes    []string     `json:"scopes,omitempty"`
	ExpiresAt *NumericDate `json:"exp,omitempty"`
	IssuedAt  *NumericDate `json:"iat,omitempty"`
	Issuer    string       `json:"iss,omitempty"`
}

// NumericDate is a JSON number of seconds since the Unix epoch.
type NumericDate struct {
	time.Time
}

// NewNumericDate truncates t to whole seconds.
func NewNumericDate(t time.Time) *NumericDate {
	return &NumericDate{Time: time.Unix(t.Unix(), 0)}
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *NumericDate) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("numeric date: %w", err)
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("numeric date: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("numeric date: %s is not finite", n)
	}
	sec, frac := math.Modf(f)
	d.Time = time.Unix(int64(sec), int64(frac*1e9))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d NumericDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Unix())
}

// scopes merges the space separated scope claim with the scopes array.
func (c *Claims) scopes() []string {
	out := make([]string, 0, len(c.Scopes))
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range strings.Fields(c.Scope) {
		add(s)
	}
	for _, s := range c.Scopes {
		add(s)
	}
	return out
}

func (c *Claims) token() *Token {
	t := &Token{
		Subject: c.Subject,
		Scopes:  c.scopes(),
		Issuer:  c.Issuer,
	}
	if c.ExpiresAt != nil {
		t.ExpiresAt = c.ExpiresAt.Time
	}
	if c.IssuedAt != nil {
		t.IssuedAt = c.IssuedAt.Time
	}
	return t
}
