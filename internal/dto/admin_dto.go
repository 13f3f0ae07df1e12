package dto

type GrantRequest struct {
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

type RefundRequest struct {
	// Reason switches the compensation to a reversal when set.
	Reason string `json:"reason"`
}

type FeatureRequest struct {
	Value string `json:"value"`
	Type  string `json:"type"` // string, bool, int, json
}

type SweepResponse struct {
	Sweep        string `json:"sweep"`
	Transitioned int    `json:"transitioned"`
	Error        string `json:"error,omitempty"`
}
