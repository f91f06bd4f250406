package domain

// PaymentResult is the processor's verdict on an initiation request.
type PaymentResult struct {
	Accepted  bool   `json:"accepted"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
