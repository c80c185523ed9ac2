package prospect

import "time"

// Default topic names for published events.
const (
	TopicLeadUpserted   = "lead.upserted"
	TopicCycleCompleted = "cycle.completed"
)

// LeadEvent is published when a lead is created or enriched.
type LeadEvent struct {
	LeadID       string    `json:"lead_id"`
	UniqueKey    string    `json:"unique_key"`
	BusinessName string    `json:"business_name"`
	WebsiteURL   string    `json:"website_url"`
	Category     string    `json:"category"`
	Score        int       `json:"score"`
	Source       string    `json:"source"`
	Created      bool      `json:"created"`
	Enriched     bool      `json:"enriched"`
	At           time.Time `json:"at"`
}
