package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTPS://Shop.Example:443/tv?b=2&a=1#top": "https://shop.example/tv?a=1&b=2",
		"http://shop.example:80/tv":               "http://shop.example/tv",
		"  https://shop.example/tv  ":             "https://shop.example/tv",
		"http://shop.example:8080/tv":             "http://shop.example:8080/tv",
	}
	for in, want := range cases {
		require.Equal(t, want, CanonicalURL(in), in)
	}
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	base, err := Origin("https://shop.example/some/listing?page=2")
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/", base.String())

	require.Equal(t, "https://shop.example/tv/oled", ResolveURL(base, "/tv/oled"))
	require.Equal(t, "https://cdn.example/x", ResolveURL(base, "https://cdn.example/x"))
	require.Empty(t, ResolveURL(base, "#reviews"))
	require.Empty(t, ResolveURL(base, "JavaScript:void(0)"))
	require.Empty(t, ResolveURL(base, "   "))

	_, err = Origin("/relative/only")
	require.Error(t, err)
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	got, err := PageURL("https://shop.example/tv", 1)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/tv", got)

	got, err = PageURL("https://shop.example/tv?sort=price", 3)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/tv?page=3&sort=price", got)
}

func TestSessionMarkIfNew(t *testing.T) {
	t.Parallel()

	s := NewSession("s")
	require.True(t, s.MarkIfNew("https://shop.example/tv#x"))
	require.False(t, s.MarkIfNew("HTTPS://SHOP.EXAMPLE/tv"))
	require.True(t, s.Seen("https://shop.example:443/tv"))
	require.False(t, s.MarkIfNew(""))
	require.Equal(t, 1, s.VisitedCount())
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultOptions().Validate())

	opts := DefaultOptions()
	opts.MaxPages = 0
	require.Error(t, opts.Validate())

	opts = DefaultOptions()
	opts.MaxDepth = -1
	require.Error(t, opts.Validate())

	opts = DefaultOptions()
	opts.EmptyStreakLimit = 0
	require.Error(t, opts.Validate())
}
