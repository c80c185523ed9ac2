package analyzer

import (
	"context"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const healthyHTML = `<!doctype html>
<html><head>
<title>Acme Plumbing Lyon - Emergency repairs since 1998</title>
<meta name="description" content="Acme Plumbing fixes leaks, boilers and bathrooms across Lyon with same-day emergency call-outs.">
<meta name="viewport" content="width=device-width, initial-scale=1">
<script async src="https://www.googletagmanager.com/gtag/js?id=G-TEST"></script>
<script>window.dataLayer = window.dataLayer || []; function gtag(){dataLayer.push(arguments);} gtag('config', 'G-TEST');</script>
<script id="Cookiebot" src="https://consent.cookiebot.com/uc.js"></script>
<script src="https://plausible.io/js/script.js"></script>
</head><body>
<h1>Acme Plumbing</h1>
<img src="/van.jpg" alt="van">
<p>Call us on <a href="tel:+33478000000">+33 4 78 00 00 00</a> or write to <a href="mailto:hello@acme.example?subject=Hi">us</a>.</p>
<p>12 rue de la République, 69002 Lyon</p>
<iframe src="https://www.youtube.com/embed/xyz"></iframe>
<footer>
  <a href="/privacy-policy">Privacy</a> <a href="/terms">Terms of service</a> <a href="/contact">Contact</a>
  <a href="https://www.facebook.com/acmeplumbing">Facebook</a>
  <a href="https://www.facebook.com/sharer/sharer.php?u=x">Share</a>
  <a href="https://instagram.com/acme.plumbing">Instagram</a>
  <p>VAT no. FR 12 345678901</p>
</footer>
<script>var hidden = "contact-me@hidden.example";</script>
</body></html>`

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestFacetsOnHealthyHTML(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	probe := newHTMLProbe(mustDoc(t, healthyHTML))

	seo, err := seoFacet(ctx, probe)
	require.NoError(t, err)
	assert.True(t, seo.HasTitle)
	assert.Equal(t, 49, seo.TitleLength)
	assert.True(t, seo.HasMetaDescription)
	assert.Greater(t, seo.MetaDescriptionLength, 70)
	assert.Equal(t, 1, seo.H1Count)

	tracking, err := trackingFacet(ctx, probe)
	require.NoError(t, err)
	assert.True(t, tracking.GoogleAnalytics)
	assert.False(t, tracking.FacebookPixel)
	assert.Equal(t, []string{"plausible"}, tracking.Other)

	compliance, err := complianceFacet(ctx, probe)
	require.NoError(t, err)
	assert.True(t, compliance.CookieBanner)
	assert.True(t, compliance.PrivacyPolicy)
	assert.True(t, compliance.TermsOfService)
	assert.Equal(t, []string{"youtube"}, compliance.RiskyEmbeds)

	legal, err := legalFacet(ctx, probe)
	require.NoError(t, err)
	assert.True(t, legal.HasVATNumber)
	assert.Equal(t, "FR12345678901", legal.VATNumber)
	assert.True(t, legal.HasAddress)
	assert.True(t, legal.HasContact)
	assert.Equal(t, []string{"hello@acme.example"}, legal.Emails)
	assert.Contains(t, legal.Phones, "+33478000000")

	social, err := socialFacet(ctx, probe)
	require.NoError(t, err)
	assert.Equal(t, 2, social.Count)
	assert.Equal(t, "https://www.facebook.com/acmeplumbing", social.Links["facebook"])
	assert.Contains(t, social.Links, "instagram")

	perf, err := performanceFacet(ctx, probe, 800)
	require.NoError(t, err)
	assert.Equal(t, 1, perf.ImageCount)
	assert.Equal(t, 0, perf.BrokenImageCount)
	assert.True(t, perf.Responsive)
	assert.EqualValues(t, 800, perf.LoadTimeMs)
}

func TestFacetsOnBareHTML(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	probe := newHTMLProbe(mustDoc(t, `<html><body><p>Welcome</p><img alt="logo"></body></html>`))

	seo, err := seoFacet(ctx, probe)
	require.NoError(t, err)
	assert.False(t, seo.HasTitle)
	assert.Zero(t, seo.H1Count)

	tracking, err := trackingFacet(ctx, probe)
	require.NoError(t, err)
	assert.False(t, tracking.Any())

	compliance, err := complianceFacet(ctx, probe)
	require.NoError(t, err)
	assert.False(t, compliance.CookieBanner)
	assert.False(t, compliance.PrivacyPolicy)
	assert.Empty(t, compliance.RiskyEmbeds)

	legal, err := legalFacet(ctx, probe)
	require.NoError(t, err)
	assert.False(t, legal.HasVATNumber)
	assert.False(t, legal.HasContact)

	social, err := socialFacet(ctx, probe)
	require.NoError(t, err)
	assert.Zero(t, social.Count)
	assert.Nil(t, social.Links)

	perf, err := performanceFacet(ctx, probe, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, perf.BrokenImageCount)
	assert.False(t, perf.Responsive)
}

func TestFindBusinessID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want string
	}{
		{"VAT: GB 123 4567 89", "GB123456789"},
		{"USt-IdNr.: DE123456789", "DE123456789"},
		{"P. IVA 01234567890", "01234567890"},
		{"Registered office DE987654321 Berlin", "DE987654321"},
		{"Company number 12345678", "12345678"},
		{"Open every day from 9 to 5", ""},
		{"Private parking available", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, findBusinessID(tt.text), tt.text)
	}
}

func TestSocialPlatform(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://www.linkedin.com/company/acme":               "linkedin",
		"https://www.linkedin.com/shareArticle?url=x":         "",
		"https://x.com/acme":                                  "twitter",
		"https://twitter.com/intent/tweet?text=hi":            "",
		"https://m.youtube.com/@acme":                         "youtube",
		"https://www.youtube.com/embed/abc":                   "",
		"https://www.tiktok.com/@acme":                        "tiktok",
		"https://facebook.com/":                               "",
		"https://notfacebook.com/acme":                        "",
		"/relative/facebook.com/acme":                         "",
		"https://business.facebook.com/acme":                  "facebook",
	}
	for href, want := range tests {
		assert.Equal(t, want, socialPlatform(href), href)
	}
}

func TestMixedContent(t *testing.T) {
	t.Parallel()

	assert.True(t, hasMixedContent(mustDoc(t, `<img src="http://cdn.example/a.png">`)))
	assert.True(t, hasMixedContent(mustDoc(t, `<link rel="stylesheet" href="http://cdn.example/a.css">`)))
	assert.False(t, hasMixedContent(mustDoc(t, `<img src="https://cdn.example/a.png"><a href="http://plain.example">x</a>`)))
}

func TestVisibleTextSkipsScripts(t *testing.T) {
	t.Parallel()

	text := visibleText(mustDoc(t, `<body><p>Hello</p><script>var secret = 1;</script><style>p{}</style><div>World</div></body>`))
	assert.Contains(t, text, "Hello")
	assert.Contains(t, text, "World")
	assert.NotContains(t, text, "secret")
}
