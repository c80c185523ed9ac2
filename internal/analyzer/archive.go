package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// Archive writes assessments as JSON for the external report renderer.
type Archive struct {
	store  prospect.BlobStore
	prefix string
	clock  prospect.Clock
}

// NewArchive returns an Archive writing under prefix.
func NewArchive(store prospect.BlobStore, prefix string, clock prospect.Clock) *Archive {
	return &Archive{store: store, prefix: strings.Trim(prefix, "/"), clock: clock}
}

// Path is the object path for an assessment: <prefix>/<domain>/<yyyymmdd>.json.
func (a *Archive) Path(assessment prospect.SiteAssessment) string {
	domain := strings.TrimPrefix(hostname(assessment.URL), "www.")
	if domain == "" {
		domain = "unknown"
	}
	return path.Join(a.prefix, domain, a.clock.Now().Format("20060102")+".json")
}

// Save stores the assessment and returns its URI.
func (a *Archive) Save(ctx context.Context, assessment prospect.SiteAssessment) (string, error) {
	body, err := json.MarshalIndent(assessment, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal assessment: %w", err)
	}
	uri, err := a.store.PutObject(ctx, a.Path(assessment), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive assessment: %w", err)
	}
	return uri, nil
}
