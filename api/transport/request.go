package transport

import "encoding/json"

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateDocumentRequest carries the kind-specific payload of a catalog write.
type CreateDocumentRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type LogisticsRequest struct {
	Pickup      string `json:"pickup"`
	Destination string `json:"destination"`
	Notes       string `json:"notes"`
}

type LoanRequest struct {
	Amount  float64 `json:"amount"`
	Purpose string  `json:"purpose"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type PurchaseRequest struct {
	ProductID string `json:"product_id"`
}
