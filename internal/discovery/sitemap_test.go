package discovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSitemapURLSet(t *testing.T) {
	t.Parallel()

	body := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url>
    <loc>https://example.com/blog/first-post</loc>
    <lastmod>2024-03-01T10:00:00+00:00</lastmod>
    <changefreq>Weekly</changefreq>
    <priority>0.8</priority>
  </url>
  <url><loc> https://example.com/blog/second-post </loc><lastmod>2024-02-01</lastmod><priority>7</priority></url>
  <url><loc></loc></url>
</urlset>`)

	page, err := parseSitemap(body)
	require.NoError(t, err)
	require.Empty(t, page.nested)
	require.Len(t, page.docs, 2)

	first := page.docs[0]
	require.Equal(t, "https://example.com/blog/first-post", first.URL)
	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), *first.LastModified)
	require.Equal(t, 0.8, *first.Priority)
	require.Equal(t, "weekly", first.ChangeFrequency)

	second := page.docs[1]
	require.Equal(t, "https://example.com/blog/second-post", second.URL)
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *second.LastModified)
	require.Nil(t, second.Priority, "out-of-range priority is dropped")
}

func TestParseSitemapIndex(t *testing.T) {
	t.Parallel()

	body := []byte(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/post-sitemap.xml</loc></sitemap>
  <sitemap><loc>https://example.com/page-sitemap.xml</loc></sitemap>
</sitemapindex>`)

	page, err := parseSitemap(body)
	require.NoError(t, err)
	require.Empty(t, page.docs)
	require.Equal(t, []string{
		"https://example.com/post-sitemap.xml",
		"https://example.com/page-sitemap.xml",
	}, page.nested)
}

func TestParseSitemapRejectsOtherDocuments(t *testing.T) {
	t.Parallel()

	_, err := parseSitemap([]byte(`<html><body>nope</body></html>`))
	require.True(t, errors.Is(err, ErrParse))

	_, err = parseSitemap([]byte(`<urlset><url><loc>https://example.com/a`))
	require.True(t, errors.Is(err, ErrParse))
}

func TestParseSitemapDeclaredLatin1(t *testing.T) {
	t.Parallel()

	body := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><urlset><url><loc>https://example.com/blog/caf\xe9-culture</loc></url></urlset>")
	page, err := parseSitemap(body)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/blog/café-culture", page.docs[0].URL)
}

func TestScanLocsToleratesBrokenMarkup(t *testing.T) {
	t.Parallel()

	body := []byte(`garbage <urlset>
<url><loc><![CDATA[ https://example.com/blog/cdata-post ]]></loc>
<url><LOC>https://example.com/blog/a?x=1&amp;y=2</LOC>
<sitemap><loc>https://example.com/nested-sitemap.xml.gz</loc>
<loc>   </loc>`)

	page := scanLocs(body)
	require.Equal(t, []string{"https://example.com/nested-sitemap.xml.gz"}, page.nested)
	require.Len(t, page.docs, 2)
	require.Equal(t, "https://example.com/blog/cdata-post", page.docs[0].URL)
	require.Equal(t, "https://example.com/blog/a?x=1&y=2", page.docs[1].URL)
}

func TestParseLastModLayouts(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"2024-03-01T10:00:00Z",
		"2024-03-01T10:00:00.123456789Z",
		"2024-03-01T10:00+01:00",
		"2024-03-01T10:00:00",
		"2024-03-01",
		"Fri, 01 Mar 2024 10:00:00 +0000",
	} {
		require.NotNil(t, parseLastMod(raw), raw)
	}
	require.Nil(t, parseLastMod(""))
	require.Nil(t, parseLastMod("yesterday"))
}
