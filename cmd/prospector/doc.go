// Package main hosts the prospector service entrypoint.
//
// Architecture overview:
//   - Zones: a zone is one source x category x location. Zones live in Postgres (or memory for local runs) with a
//     priority score and a lease flag. Each cycle recovers zones stuck in the leased state, selects the highest
//     priority zones that are due for a revisit and runs them in bounded batches.
//   - Discovery: source adapters (a browser-driven maps adapter, configurable colly directory scrapers, static seed
//     lists) return the businesses of a zone.
//   - Analysis: every business website is scored by the analyzer, either in a pooled headless Chrome or with a plain
//     HTTP fetch when no browser is available. Facet failures degrade to defaults; unreachable sites get a fixed score.
//   - Leads: businesses are merged into one lead per website domain and category; created and enriched leads are
//     published to Pub/Sub, assessments are archived to the configured blob store.
//   - Operations: cobra commands (serve, cycle, analyze, zones), viper config with PROSPECTOR_ env overrides, zap
//     logs, Prometheus metrics on /metrics.
//
// Quick checklist:
//   - Configure PROSPECTOR_DB_DSN for Postgres, PROSPECTOR_PUBSUB_PROJECT_ID for events and
//     PROSPECTOR_STORAGE_BACKEND=gcs with PROSPECTOR_STORAGE_GCS_BUCKET for archives.
//   - Seed zones: prospector zones seed --source maps --category plumber --location "Austin, TX".
//   - Run locally: prospector serve --config config.yaml, or prospector cycle for a single pass.
package main
