package webhook

import (
	"fmt"
)

// Header names used by GitHub deliveries.
const (
	HeaderEvent     = "X-GitHub-Event"
	HeaderSignature = "X-Hub-Signature"
	HeaderDelivery  = "X-GitHub-Delivery"

	// AgentPrefix is the user agent prefix of GitHub's webhook sender.
	AgentPrefix = "GitHub-Hookshot/"
)

// Request is a read-only snapshot of one webhook delivery.
type Request struct {
	Method    string
	UserAgent string
	Event     string
	Signature string
	Delivery  string
	Body      []byte
}

// Reason identifies which authentication check rejected a delivery.
type Reason string

const (
	ReasonWrongMethod      Reason = "wrong_method"
	ReasonUnknownAgent     Reason = "unknown_agent"
	ReasonUnsupportedEvent Reason = "unsupported_event"
	ReasonMalformedPayload Reason = "malformed_payload"
	ReasonBadSignature     Reason = "bad_signature"
	ReasonWrongBranch      Reason = "wrong_branch"
)

// RejectionError is returned by Authenticate when a check fails.
type RejectionError struct {
	Reason Reason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("webhook rejected: %s", e.Reason)
}

// Config holds webhook server configuration.
type Config struct {
	Listen      string
	Path        string
	MaxBodySize int64
}

// HealthResponse is the JSON response of the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
