// Package prospect defines the domain types and capability interfaces shared by
// the zone scheduler, the job runner, the website analyzer and the lead
// deduplicator.
package prospect
