package models

import "time"

// Well-known field names produced by message templates. Only Amount,
// Currency and Memo carry meaning for registration; the rest are surfaced
// for display.
const (
	FieldCardNo     = "cardno"
	FieldApprovalNo = "approvalno"
	FieldHolder     = "holder"
	FieldVendor     = "vendor"
	FieldAmount     = "amount"
	FieldAccum      = "accum"
	FieldCurrency   = "currency"
	FieldInstalment = "instalment"
	FieldDate       = "date"
	FieldTime       = "time"
)

// SMSMessage is one raw message in an import request.
type SMSMessage struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address"`
	Body      string    `json:"body"`
}

// ImportRequest carries a batch of raw messages for triage.
type ImportRequest struct {
	Messages []SMSMessage `json:"messages"`
}

// ImportResponse summarizes a triage run.
type ImportResponse struct {
	Imported int `json:"imported"`
	Parsed   int `json:"parsed"`
}

// Provider is the API view of a provider definition.
type Provider struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	IconName string `json:"icon_name,omitempty"`
	Account  string `json:"account_uid,omitempty"`
	Active   bool   `json:"active"`
	LastSync string `json:"last_sync,omitempty"`
}

// ProvidersResponse is returned by the providers endpoint.
type ProvidersResponse struct {
	Providers []Provider `json:"providers"`
}

// ActivateRequest binds a provider to a target account.
type ActivateRequest struct {
	AccountUID string `json:"account_uid"`
}

// Keyword is the API view of a keyword rule.
type Keyword struct {
	UID      string `json:"uid"`
	Keyword  string `json:"keyword"`
	Priority int    `json:"priority"`
	Account  string `json:"account_uid"`
}

// KeywordsResponse is returned by the keywords endpoint, ordered by
// ascending priority.
type KeywordsResponse struct {
	Keywords []Keyword `json:"keywords"`
}

// PriorityUpdate is one entry of a batch reorder.
type PriorityUpdate struct {
	UID      string `json:"uid"`
	Priority int    `json:"priority"`
}

// ReorderRequest reassigns keyword priorities as one atomic batch.
type ReorderRequest struct {
	Updates []PriorityUpdate `json:"updates"`
}

// InboxEntry is the API view of one triaged message.
type InboxEntry struct {
	UID            string            `json:"uid"`
	MessageID      string            `json:"message_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Address        string            `json:"address"`
	Body           string            `json:"body"`
	ProviderUID    string            `json:"provider_uid,omitempty"`
	State          string            `json:"state"`
	Parsed         bool              `json:"parsed"`
	Amount         string            `json:"amount,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	Memo           string            `json:"memo,omitempty"`
	Fields         map[string]string `json:"fields,omitempty"`
	KeywordUID     string            `json:"keyword_uid,omitempty"`
	Completed      bool              `json:"completed"`
	TransactionUID string            `json:"transaction_uid,omitempty"`
}

// InboxResponse is returned by the inbox endpoint.
type InboxResponse struct {
	Entries []InboxEntry `json:"entries"`
}

// RegisterResponse is returned after creating a transaction from an inbox
// entry.
type RegisterResponse struct {
	TransactionUID string `json:"transaction_uid"`
}

// ReloadResponse reports the outcome of a configuration reload.
type ReloadResponse struct {
	Status  string `json:"status"` // "loaded" or "current"
	Version string `json:"version"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Providers int    `json:"providers"`
	Version   string `json:"version"`
}
