package scope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockedPatterns(t *testing.T) {
	t.Parallel()

	p := New([]string{"example.org", "*.ru", ".internal", "  "})
	cases := []struct {
		host    string
		blocked bool
	}{
		{"example.org", true},
		{"EXAMPLE.org", true},
		{"sub.example.org", false},
		{"example.ru", true},
		{"sub.domain.ru", true},
		{"ru", true},
		{"db.internal", true},
		{"example.com", false},
		{"", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.blocked, p.Blocked(tc.host), tc.host)
	}
}

func TestNilPolicyAllowsEverything(t *testing.T) {
	t.Parallel()

	var p *Policy
	require.False(t, p.Blocked("anything"))
	require.True(t, p.Allow("https://anything.example/"))
}

func TestAllow(t *testing.T) {
	t.Parallel()

	p := New([]string{"*.ru"})
	require.True(t, p.Allow("https://example.com/a"))
	require.False(t, p.Allow("https://example.ru/a"))
	require.False(t, p.Allow("mailto:someone@example.com"))
	require.False(t, p.Allow("ftp://example.com/file"))
	require.False(t, p.Allow("http://"))
}
