package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

func performanceFacet(ctx context.Context, probe Probe, loadTimeMs int64) (prospect.PerformanceFacet, error) {
	total, broken, err := probe.Images(ctx)
	if err != nil {
		return prospect.PerformanceFacet{}, fmt.Errorf("count images: %w", err)
	}
	responsive, err := probe.Responsive(ctx)
	if err != nil {
		return prospect.PerformanceFacet{}, fmt.Errorf("check viewport: %w", err)
	}
	return prospect.PerformanceFacet{
		LoadTimeMs:       loadTimeMs,
		ImageCount:       total,
		BrokenImageCount: broken,
		Responsive:       responsive,
	}, nil
}

func seoFacet(ctx context.Context, probe Probe) (prospect.SEOFacet, error) {
	doc, err := probe.Document(ctx)
	if err != nil {
		return prospect.SEOFacet{}, err
	}
	title := collapseSpace(doc.Find("title").First().Text())
	desc := collapseSpace(metaContent(doc, "description"))
	return prospect.SEOFacet{
		Title:                 title,
		HasTitle:              title != "",
		TitleLength:           utf8.RuneCountInString(title),
		HasMetaDescription:    desc != "",
		MetaDescriptionLength: utf8.RuneCountInString(desc),
		H1Count:               doc.Find("h1").Length(),
	}, nil
}

func trackingFacet(ctx context.Context, probe Probe) (prospect.TrackingFacet, error) {
	doc, err := probe.Document(ctx)
	if err != nil {
		return prospect.TrackingFacet{}, err
	}
	haystack := strings.ToLower(scriptHaystack(doc))
	t := matchTrackers(haystack)

	globals, err := probe.Globals(ctx, trackerGlobals)
	if err != nil {
		// The static scan already ran; globals only add precision.
		return t, nil
	}
	for _, g := range globals {
		applyTrackerGlobal(&t, g)
	}
	return t, nil
}

func complianceFacet(ctx context.Context, probe Probe) (prospect.ComplianceFacet, error) {
	doc, err := probe.Document(ctx)
	if err != nil {
		return prospect.ComplianceFacet{}, err
	}
	haystack := strings.ToLower(scriptHaystack(doc))
	c := prospect.ComplianceFacet{
		CookieBanner: hasConsentManager(haystack) || hasCookieBannerElement(doc),
		RiskyEmbeds:  riskyEmbeds(doc),
	}
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := linkLabel(s)
		if !c.PrivacyPolicy && containsAny(label, privacyMarkers) {
			c.PrivacyPolicy = true
		}
		if !c.TermsOfService && containsAny(label, termsMarkers) {
			c.TermsOfService = true
		}
		return !(c.PrivacyPolicy && c.TermsOfService)
	})
	return c, nil
}

func legalFacet(ctx context.Context, probe Probe) (prospect.LegalFacet, error) {
	text, err := probe.Text(ctx)
	if err != nil {
		return prospect.LegalFacet{}, err
	}
	doc, err := probe.Document(ctx)
	if err != nil {
		return prospect.LegalFacet{}, err
	}

	l := prospect.LegalFacet{}
	if id := findBusinessID(text); id != "" {
		l.VATNumber = id
		l.HasVATNumber = true
	}
	l.Emails = findEmails(doc, text)
	l.Phones = findPhones(doc, text)
	l.HasAddress = hasPostalAddress(doc, text)
	l.HasContact = len(l.Emails) > 0 || len(l.Phones) > 0 || hasContactPath(doc)
	return l, nil
}

func socialFacet(ctx context.Context, probe Probe) (prospect.SocialFacet, error) {
	doc, err := probe.Document(ctx)
	if err != nil {
		return prospect.SocialFacet{}, err
	}
	links := map[string]string{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		platform := socialPlatform(href)
		if platform == "" {
			return
		}
		if _, seen := links[platform]; !seen {
			links[platform] = strings.TrimSpace(href)
		}
	})
	if len(links) == 0 {
		return prospect.SocialFacet{}, nil
	}
	return prospect.SocialFacet{Links: links, Count: len(links)}, nil
}

func transportFacet(ctx context.Context, probe Probe, finalURL string) (prospect.TransportFacet, error) {
	t := prospect.TransportFacet{HTTPS: isHTTPS(finalURL)}
	if !t.HTTPS {
		return t, nil
	}
	doc, err := probe.Document(ctx)
	if err != nil {
		return t, err
	}
	t.MixedContent = hasMixedContent(doc)
	return t, nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
