package analyzer

import "github.com/JakeFAU/prospect-crawler/internal/prospect"

const (
	maxScore = 100

	// FailedScore is the constant score of an unreachable site.
	FailedScore = 10

	shortTitleChars       = 30
	shortDescriptionChars = 70
	slowPageMs            = 3000
)

// Deduction is one named penalty from the scoring table.
type Deduction struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

type rule struct {
	Deduction
	applies func(a prospect.SiteAssessment) bool
}

// The order and weights are a ranking contract with downstream consumers.
var rules = []rule{
	{Deduction{"MissingTitle", 20}, func(a prospect.SiteAssessment) bool { return !a.SEO.HasTitle }},
	{Deduction{"MissingMetaDescription", 15}, func(a prospect.SiteAssessment) bool { return !a.SEO.HasMetaDescription }},
	{Deduction{"MissingH1", 15}, func(a prospect.SiteAssessment) bool { return a.SEO.H1Count == 0 }},
	{Deduction{"ShortTitle", 5}, func(a prospect.SiteAssessment) bool {
		return a.SEO.HasTitle && a.SEO.TitleLength < shortTitleChars
	}},
	{Deduction{"ShortMetaDescription", 5}, func(a prospect.SiteAssessment) bool {
		return a.SEO.HasMetaDescription && a.SEO.MetaDescriptionLength < shortDescriptionChars
	}},
	{Deduction{"SlowPage", 15}, func(a prospect.SiteAssessment) bool { return a.Performance.LoadTimeMs > slowPageMs }},
	{Deduction{"BrokenImages", 10}, func(a prospect.SiteAssessment) bool { return a.Performance.BrokenImageCount > 0 }},
	{Deduction{"NoTracking", 20}, func(a prospect.SiteAssessment) bool { return !a.Tracking.Any() }},
	{Deduction{"NoCookieConsent", 10}, func(a prospect.SiteAssessment) bool {
		c := a.Compliance
		return !c.CookieBanner && (a.Tracking.Any() || len(c.RiskyEmbeds) > 0 || !c.PrivacyPolicy)
	}},
	{Deduction{"NoLegalIdentifier", 15}, func(a prospect.SiteAssessment) bool { return !a.Legal.HasVATNumber }},
	{Deduction{"NoSocialPresence", 10}, func(a prospect.SiteAssessment) bool { return a.Social.Count == 0 }},
	{Deduction{"NotResponsive", 10}, func(a prospect.SiteAssessment) bool { return !a.Performance.Responsive }},
	{Deduction{"InsecureTransport", 15}, func(a prospect.SiteAssessment) bool {
		return !a.Transport.HTTPS || a.Transport.MixedContent
	}},
}

// Deductions returns the triggered penalties in table order. Inaccessible
// sites carry none; their score is FailedScore.
func Deductions(a prospect.SiteAssessment) []Deduction {
	if !a.IsAccessible {
		return nil
	}
	var out []Deduction
	for _, r := range rules {
		if r.applies(a) {
			out = append(out, r.Deduction)
		}
	}
	return out
}

// Score computes the overall 0-100 score. It reads nothing but a.
func Score(a prospect.SiteAssessment) int {
	if !a.IsAccessible {
		return FailedScore
	}
	score := maxScore
	for _, d := range Deductions(a) {
		score -= d.Weight
	}
	return clamp(score, 0, maxScore)
}

// Table returns every deduction in order.
func Table() []Deduction {
	out := make([]Deduction, len(rules))
	for i, r := range rules {
		out[i] = r.Deduction
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
