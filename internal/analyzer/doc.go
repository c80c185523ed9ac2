// Package analyzer renders or fetches a business website, extracts the six
// assessment facets concurrently under independent budgets, and scores the
// result on a fixed 0-100 deduction table.
//
// Two engines produce the same assessment shape: BrowserAnalyzer drives
// headless Chrome through the render pool, and HTTPAnalyzer fetches the page
// with colly and pattern-matches the static HTML. New picks one, falling back
// to HTTP when no browser can be provisioned.
package analyzer
