package analyzer

import (
	"context"

	"github.com/PuerkitoBio/goquery"
)

// Probe answers facet queries against one loaded page. Implementations must be
// safe for concurrent use since all facets query the same page at once.
type Probe interface {
	// Document returns a parsed DOM snapshot. Callers must not mutate it.
	Document(ctx context.Context) (*goquery.Document, error)
	// Text returns the human-visible page text.
	Text(ctx context.Context) (string, error)
	// Globals reports which of the given window globals are defined. Static
	// probes return nil.
	Globals(ctx context.Context, names []string) ([]string, error)
	// Images counts images and those that failed to load.
	Images(ctx context.Context) (total, broken int, err error)
	// Responsive reports whether the page adapts to small viewports.
	Responsive(ctx context.Context) (bool, error)
}
