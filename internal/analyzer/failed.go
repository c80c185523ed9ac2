package analyzer

import "github.com/JakeFAU/prospect-crawler/internal/prospect"

// FailedAssessment is the fixed result for a site that could not be loaded:
// no facets, not accessible, and the constant FailedScore.
func FailedAssessment(url, reason string) prospect.SiteAssessment {
	return prospect.SiteAssessment{
		URL:          url,
		IsAccessible: false,
		Error:        reason,
		OverallScore: FailedScore,
	}
}

func failedWithStatus(url, finalURL, mode string, status int, reason string) prospect.SiteAssessment {
	a := FailedAssessment(url, reason)
	a.FinalURL = finalURL
	a.StatusCode = status
	a.AnalyzedWith = mode
	return a
}
