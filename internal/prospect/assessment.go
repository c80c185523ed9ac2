package prospect

// Analysis modes recorded on an assessment.
const (
	ModeBrowser = "browser"
	ModeHTTP    = "http"
)

// PerformanceFacet captures load behaviour of the page.
type PerformanceFacet struct {
	LoadTimeMs       int64 `json:"load_time_ms"`
	ImageCount       int   `json:"image_count"`
	BrokenImageCount int   `json:"broken_image_count"`
	Responsive       bool  `json:"responsive"`
}

// SEOFacet captures on-page search signals.
type SEOFacet struct {
	Title                 string `json:"title,omitempty"`
	HasTitle              bool   `json:"has_title"`
	TitleLength           int    `json:"title_length"`
	HasMetaDescription    bool   `json:"has_meta_description"`
	MetaDescriptionLength int    `json:"meta_description_length"`
	H1Count               int    `json:"h1_count"`
}

// TrackingFacet flags analytics and advertising pixels found on the page.
type TrackingFacet struct {
	GoogleAnalytics  bool     `json:"google_analytics"`
	GoogleTagManager bool     `json:"google_tag_manager"`
	FacebookPixel    bool     `json:"facebook_pixel"`
	LinkedInInsight  bool     `json:"linkedin_insight"`
	TikTokPixel      bool     `json:"tiktok_pixel"`
	Hotjar           bool     `json:"hotjar"`
	Matomo           bool     `json:"matomo"`
	Other            []string `json:"other,omitempty"`
}

// Any reports whether at least one tracker was detected.
func (t TrackingFacet) Any() bool {
	return t.GoogleAnalytics || t.GoogleTagManager || t.FacebookPixel || t.LinkedInInsight ||
		t.TikTokPixel || t.Hotjar || t.Matomo || len(t.Other) > 0
}

// ComplianceFacet captures privacy-compliance signals.
type ComplianceFacet struct {
	CookieBanner   bool     `json:"cookie_banner"`
	PrivacyPolicy  bool     `json:"privacy_policy"`
	TermsOfService bool     `json:"terms_of_service"`
	RiskyEmbeds    []string `json:"risky_embeds,omitempty"`
}

// LegalFacet captures legal-disclosure signals.
type LegalFacet struct {
	VATNumber    string   `json:"vat_number,omitempty"`
	HasVATNumber bool     `json:"has_vat_number"`
	HasAddress   bool     `json:"has_address"`
	HasContact   bool     `json:"has_contact"`
	Emails       []string `json:"emails,omitempty"`
	Phones       []string `json:"phones,omitempty"`
}

// SocialFacet maps platform name to the profile URL found on the page.
type SocialFacet struct {
	Links map[string]string `json:"links,omitempty"`
	Count int               `json:"count"`
}

// TransportFacet captures transport security.
type TransportFacet struct {
	HTTPS        bool `json:"https"`
	MixedContent bool `json:"mixed_content"`
}

// SiteAssessment is the structured result of analyzing one website.
type SiteAssessment struct {
	URL            string           `json:"url"`
	FinalURL       string           `json:"final_url,omitempty"`
	StatusCode     int              `json:"status_code"`
	IsAccessible   bool             `json:"is_accessible"`
	AnalyzedWith   string           `json:"analyzed_with,omitempty"`
	Performance    PerformanceFacet `json:"performance"`
	SEO            SEOFacet         `json:"seo"`
	Tracking       TrackingFacet    `json:"tracking"`
	Compliance     ComplianceFacet  `json:"compliance"`
	Legal          LegalFacet       `json:"legal"`
	Social         SocialFacet      `json:"social"`
	Transport      TransportFacet   `json:"transport"`
	DegradedFacets []string         `json:"degraded_facets,omitempty"`
	Error          string           `json:"error,omitempty"`
	OverallScore   int              `json:"overall_score"`
}
