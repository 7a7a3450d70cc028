package model

import "time"

// LifecycleStage tracks where a client sits in the funnel.
type LifecycleStage string

const (
	StageLead     LifecycleStage = "lead"
	StageCustomer LifecycleStage = "customer"
	StageChurned  LifecycleStage = "churned"
)

// OptIns holds per-channel consent flags.
type OptIns struct {
	Email    bool `json:"email,omitempty"`
	SMS      bool `json:"sms,omitempty"`
	WhatsApp bool `json:"whatsapp,omitempty"`
}

// Client is the canonical unified identity for one real-world contact.
// Email is unique when present; phone is indexed but not uniquely
// constrained. Tags are always deduplicated. Metadata merges are additive.
type Client struct {
	ID          string         `json:"id"`
	Email       string         `json:"email,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	FullName    string         `json:"full_name,omitempty"`
	CRMID       string         `json:"crm_id,omitempty"`
	ChatID      string         `json:"chat_id,omitempty"`
	PaymentID   string         `json:"payment_id,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	OptIns      OptIns         `json:"opt_ins"`
	Stage       LifecycleStage `json:"stage"`
	TotalSpend  float64        `json:"total_spend"`
	FirstSource string         `json:"first_source,omitempty"`
	Campaign    string         `json:"campaign,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	LastSyncAt  time.Time      `json:"last_sync_at"`
}

// EventAction describes what the merge engine did to a client.
type EventAction string

const (
	ActionCreated EventAction = "created"
	ActionUpdated EventAction = "updated"
)

// LeadEvent is one audit row appended for every create or update. The
// idempotency key short-circuits replays of the same source event.
type LeadEvent struct {
	ID             string      `json:"id"`
	ClientID       string      `json:"client_id"`
	Source         Source      `json:"source"`
	Action         EventAction `json:"action"`
	IdempotencyKey string      `json:"idempotency_key"`
	CreatedAt      time.Time   `json:"created_at"`
}
