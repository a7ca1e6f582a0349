package discovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"example.com":                          "https://example.com",
		"  Example.COM  ":                      "https://example.com",
		"http://example.com/blog/post?x=1#top": "http://example.com",
		"https://example.com:8443/path":        "https://example.com:8443",
		"//cdn.example.com/x":                  "https://cdn.example.com",
		"blog.example.co.uk/feed":              "https://blog.example.co.uk",
	}
	for in, want := range cases {
		got, err := NormalizeDomain(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got.String(), in)
	}
}

func TestNormalizeDomainRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "https://", "ftp://example.com", "exa mple.com", "http://%zz"} {
		_, err := NormalizeDomain(in)
		require.Error(t, err, in)
		require.True(t, errors.Is(err, ErrInvalidDomain), in)
	}
}

func TestSameSiteIgnoresWWW(t *testing.T) {
	t.Parallel()

	require.True(t, sameSite("www.example.com", "example.com"))
	require.True(t, sameSite("Example.com", "WWW.example.com"))
	require.False(t, sameSite("blog.example.com", "example.com"))
}
