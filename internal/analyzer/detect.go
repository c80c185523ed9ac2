package analyzer

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

type tracker struct {
	name    string
	markers []string
	globals []string
	set     func(*prospect.TrackingFacet)
}

// Fixed providers set their flag; the rest land in TrackingFacet.Other.
var trackers = []tracker{
	{"google-analytics", []string{"google-analytics.com/analytics.js", "google-analytics.com/ga.js", "googletagmanager.com/gtag/js", "gtag('config'", `gtag("config"`, "ga('create'"},
		[]string{"ga", "gtag"}, func(t *prospect.TrackingFacet) { t.GoogleAnalytics = true }},
	{"google-tag-manager", []string{"googletagmanager.com/gtm.js", "googletagmanager.com/ns.html", "gtm-"},
		[]string{"google_tag_manager"}, func(t *prospect.TrackingFacet) { t.GoogleTagManager = true }},
	{"facebook-pixel", []string{"connect.facebook.net", "fbq(", "facebook.com/tr?"},
		[]string{"fbq"}, func(t *prospect.TrackingFacet) { t.FacebookPixel = true }},
	{"linkedin-insight", []string{"snap.licdn.com", "_linkedin_partner_id", "px.ads.linkedin.com"},
		[]string{"lintrk"}, func(t *prospect.TrackingFacet) { t.LinkedInInsight = true }},
	{"tiktok-pixel", []string{"analytics.tiktok.com", "ttq.load"},
		[]string{"ttq"}, func(t *prospect.TrackingFacet) { t.TikTokPixel = true }},
	{"hotjar", []string{"static.hotjar.com", "hotjar.com/c/hotjar"},
		[]string{"hj"}, func(t *prospect.TrackingFacet) { t.Hotjar = true }},
	{"matomo", []string{"matomo.js", "piwik.js", "_paq.push"},
		[]string{"_paq", "Matomo"}, func(t *prospect.TrackingFacet) { t.Matomo = true }},
	{"plausible", []string{"plausible.io/js"}, []string{"plausible"}, nil},
	{"segment", []string{"cdn.segment.com"}, nil, nil},
	{"clarity", []string{"clarity.ms/tag"}, []string{"clarity"}, nil},
	{"mixpanel", []string{"cdn.mxpnl.com", "mixpanel.init"}, []string{"mixpanel"}, nil},
	{"hubspot", []string{"js.hs-scripts.com", "js.hs-analytics.net"}, []string{"_hsq"}, nil},
	{"bing-ads", []string{"bat.bing.com"}, []string{"uetq"}, nil},
	{"heap", []string{"cdn.heapanalytics.com"}, nil, nil},
	{"cloudflare-insights", []string{"static.cloudflareinsights.com"}, nil, nil},
}

var trackerGlobals = func() []string {
	var out []string
	for _, tr := range trackers {
		out = append(out, tr.globals...)
	}
	return out
}()

func matchTrackers(haystack string) prospect.TrackingFacet {
	var t prospect.TrackingFacet
	other := map[string]struct{}{}
	for _, tr := range trackers {
		if !containsAny(haystack, tr.markers) {
			continue
		}
		if tr.set != nil {
			tr.set(&t)
		} else {
			other[tr.name] = struct{}{}
		}
	}
	t.Other = sortedKeys(other)
	return t
}

func applyTrackerGlobal(t *prospect.TrackingFacet, global string) {
	for _, tr := range trackers {
		for _, g := range tr.globals {
			if g != global {
				continue
			}
			if tr.set != nil {
				tr.set(t)
				return
			}
			if !contains(t.Other, tr.name) {
				t.Other = append(t.Other, tr.name)
				sort.Strings(t.Other)
			}
			return
		}
	}
}

// scriptHaystack gathers everything a tracker or consent manager may leave behind.
func scriptHaystack(doc *goquery.Document) string {
	var b strings.Builder
	doc.Find("script, noscript, iframe[src], img[src], link[href]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"src", "href", "data-src"} {
			if v, ok := s.Attr(attr); ok {
				b.WriteString(v)
				b.WriteByte('\n')
			}
		}
		if goquery.NodeName(s) == "script" || goquery.NodeName(s) == "noscript" {
			b.WriteString(s.Text())
			b.WriteByte('\n')
		}
	})
	return b.String()
}

var consentManagers = []string{
	"cookiebot", "onetrust", "cookielaw.org", "cookieyes", "iubenda", "didomi", "quantcast.mgr",
	"cookie-law-info", "complianz", "tarteaucitron", "axeptio", "usercentrics", "klaro", "osano",
	"termly", "cookieconsent", "cookie-script.com", "consentmanager.net", "borlabs-cookie",
}

func hasConsentManager(haystack string) bool {
	return containsAny(haystack, consentManagers)
}

var consentWords = []string{"accept", "consent", "agree", "akzeptieren", "accepter", "accetta", "aceptar"}

func hasCookieBannerElement(doc *goquery.Document) bool {
	found := false
	doc.Find("[id], [class]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		class, _ := s.Attr("class")
		marker := strings.ToLower(id + " " + class)
		if !strings.Contains(marker, "cookie") && !strings.Contains(marker, "consent") && !strings.Contains(marker, "gdpr") {
			return true
		}
		if containsAny(strings.ToLower(s.Text()), consentWords) || s.Find("button").Length() > 0 {
			found = true
			return false
		}
		return true
	})
	return found
}

var embedProviders = []struct {
	name    string
	markers []string
}{
	{"youtube", []string{"youtube.com/embed", "youtube.com/iframe_api"}},
	{"google-maps", []string{"google.com/maps", "maps.googleapis.com", "maps.google."}},
	{"vimeo", []string{"player.vimeo.com"}},
	{"facebook", []string{"facebook.com/plugins", "connect.facebook.net"}},
	{"twitter", []string{"platform.twitter.com"}},
	{"instagram", []string{"instagram.com/embed", "instagram.com/p/"}},
	{"recaptcha", []string{"google.com/recaptcha", "gstatic.com/recaptcha"}},
	{"google-fonts", []string{"fonts.googleapis.com"}},
}

// riskyEmbeds lists third parties that set cookies or receive visitor IPs on load.
func riskyEmbeds(doc *goquery.Document) []string {
	found := map[string]struct{}{}
	doc.Find("iframe[src], script[src], link[href], embed[src]").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			src, _ = s.Attr("href")
		}
		src = strings.ToLower(src)
		for _, p := range embedProviders {
			if containsAny(src, p.markers) {
				found[p.name] = struct{}{}
			}
		}
	})
	return sortedKeys(found)
}

var (
	privacyMarkers = []string{"privacy", "datenschutz", "confidentialit", "privacidad", "privacidade", "gdpr", "rgpd", "dsgvo", "informativa"}
	termsMarkers   = []string{"terms", "conditions", "agb", "cgv", "cgu", "terminos", "términos", "condizioni", "voorwaarden", "nutzungsbedingungen"}
	contactMarkers = []string{"contact", "kontakt", "contatti", "contacto", "contato", "impressum"}
)

func linkLabel(s *goquery.Selection) string {
	href, _ := s.Attr("href")
	return strings.ToLower(href + " " + s.Text())
}

func hasContactPath(doc *goquery.Document) bool {
	if doc.Find(`form input[type="email"], form textarea`).Length() > 0 {
		return true
	}
	found := false
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = containsAny(linkLabel(s), contactMarkers)
		return !found
	})
	return found
}

var (
	labeledIDPattern = regexp.MustCompile(`(?i)\b(?:vat|tva|iva|btw|mwst|ust-?id(?:nr)?|uid|p\.\s?iva|partita iva|nif|cif|siret|siren|kvk|abn|company (?:no|number|registration))\b[^0-9A-Za-z]{0,15}(?:(?:no|nr|number|n°|id)\.?[^0-9A-Za-z]{0,5})?((?:[A-Z]{2} ?)?[0-9][0-9 .\-]{6,16}[0-9A-Z])`)
	euVATPattern     = regexp.MustCompile(`\b(?:AT|BE|BG|CY|CZ|DE|DK|EE|EL|ES|FI|FR|GB|HR|HU|IE|IT|LT|LU|LV|MT|NL|PL|PT|RO|SE|SI|SK)U?[0-9]{8,12}(?:B[0-9]{2})?\b`)
	idCleaner        = strings.NewReplacer(" ", "", ".", "", "-", "")
)

// findBusinessID returns the first VAT-equivalent identifier in text, normalized.
func findBusinessID(text string) string {
	if m := labeledIDPattern.FindStringSubmatch(text); len(m) == 2 {
		return strings.ToUpper(idCleaner.Replace(m[1]))
	}
	if m := euVATPattern.FindString(text); m != "" {
		return m
	}
	return ""
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\(?[0-9][0-9 ().\-/]{7,18}[0-9]`)
	assetSuffix  = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}
)

const maxContacts = 10

func findEmails(doc *goquery.Document, text string) []string {
	set := map[string]struct{}{}
	add := func(e string) {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || hasAnySuffix(e, assetSuffix) || len(set) >= maxContacts {
			return
		}
		set[e] = struct{}{}
	}
	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		add(addr)
	})
	for _, m := range emailPattern.FindAllString(text, -1) {
		add(m)
	}
	return sortedKeys(set)
}

func findPhones(doc *goquery.Document, text string) []string {
	set := map[string]struct{}{}
	add := func(p string) {
		p = strings.TrimSpace(p)
		digits := countDigits(p)
		if digits < 8 || digits > 15 || len(set) >= maxContacts {
			return
		}
		set[p] = struct{}{}
	}
	doc.Find(`a[href^="tel:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(strings.TrimPrefix(href, "tel:"))
	})
	for _, m := range phonePattern.FindAllString(text, -1) {
		add(m)
	}
	return sortedKeys(set)
}

var streetPattern = regexp.MustCompile(`(?i)(?:\b\d{1,5}[a-z]?,?\s+(?:rue|avenue|av\.|boulevard|bd|chemin|place|allée|via|viale|piazza|calle|avenida|street|st\.|road|rd\.|lane|drive|way)\b)|(?:\b(?:rue|avenue|boulevard|via|viale|piazza|calle|avenida|rua|plaza)\s+[\p{L}' .\-]{2,40},?\s*\d{1,5}\b)|(?:\p{L}+(?:straße|strasse|str\.|weg|platz|gasse|laan|straat)\s+\d{1,4})`)

func hasPostalAddress(doc *goquery.Document, text string) bool {
	if doc.Find("address").Length() > 0 {
		return true
	}
	if doc.Find(`[itemtype*="PostalAddress"]`).Length() > 0 {
		return true
	}
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = strings.Contains(s.Text(), "PostalAddress")
		return !found
	})
	return found || streetPattern.MatchString(text)
}

var socialHosts = []struct {
	platform string
	hosts    []string
	exclude  []string
}{
	{"facebook", []string{"facebook.com", "fb.com"}, []string{"/sharer", "/share", "/plugins", "/tr", "/dialog"}},
	{"instagram", []string{"instagram.com"}, []string{"/embed"}},
	{"linkedin", []string{"linkedin.com"}, []string{"/sharearticle", "/sharing", "/shareArticle"}},
	{"twitter", []string{"twitter.com", "x.com"}, []string{"/intent", "/share", "/home"}},
	{"youtube", []string{"youtube.com", "youtu.be"}, []string{"/embed", "/iframe_api"}},
	{"tiktok", []string{"tiktok.com"}, []string{"/embed"}},
}

// socialPlatform maps a profile link to its platform, ignoring share widgets.
func socialPlatform(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	path := strings.ToLower(u.Path)
	for _, s := range socialHosts {
		for _, h := range s.hosts {
			if host != h && !strings.HasSuffix(host, "."+h) {
				continue
			}
			if path == "" || path == "/" {
				return ""
			}
			for _, ex := range s.exclude {
				if strings.HasPrefix(path, strings.ToLower(ex)) {
					return ""
				}
			}
			return s.platform
		}
	}
	return ""
}

func hasMixedContent(doc *goquery.Document) bool {
	found := false
	doc.Find("img[src], script[src], iframe[src], video[src], audio[src], source[src], embed[src], link[rel=stylesheet][href]").
		EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src, ok := s.Attr("src")
			if !ok {
				src, _ = s.Attr("href")
			}
			found = strings.HasPrefix(strings.ToLower(strings.TrimSpace(src)), "http://")
			return !found
		})
	return found
}

// staticImages counts <img> tags and those that cannot load because they have no source.
func staticImages(doc *goquery.Document) (total, broken int) {
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		total++
		for _, attr := range []string{"src", "srcset", "data-src", "data-srcset"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return
			}
		}
		broken++
	})
	return total, broken
}

func hasViewportMeta(doc *goquery.Document) bool {
	return strings.Contains(strings.ToLower(metaContent(doc, "viewport")), "width=device-width")
}

func metaContent(doc *goquery.Document, name string) string {
	var content string
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		n, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(n), name) {
			return true
		}
		content, _ = s.Attr("content")
		return false
	})
	return content
}

// visibleText concatenates body text nodes outside script, style and template.
func visibleText(doc *goquery.Document) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, s *goquery.Selection) {
			switch goquery.NodeName(s) {
			case "#text":
				if t := strings.TrimSpace(s.Text()); t != "" {
					b.WriteString(t)
					b.WriteByte('\n')
				}
			case "script", "style", "noscript", "template", "#comment":
			default:
				walk(s)
			}
		})
	}
	walk(doc.Find("body"))
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
