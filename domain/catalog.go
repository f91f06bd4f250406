package domain

import (
	"encoding/json"
	"time"
)

// Coordinates is a geocoded point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Product is a farmer listing.
type Product struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

// LogisticsRequest asks a transport partner to move produce.
type LogisticsRequest struct {
	ID                string       `json:"id"`
	FarmerID          string       `json:"farmer_id"`
	Pickup            string       `json:"pickup"`
	Destination       string       `json:"destination"`
	PickupCoords      *Coordinates `json:"pickup_coords,omitempty"`
	DestinationCoords *Coordinates `json:"destination_coords,omitempty"`
	Notes             string       `json:"notes,omitempty"`
	Status            Status       `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
}

// LoanRequest is a micro-loan application.
type LoanRequest struct {
	ID        string    `json:"id"`
	FarmerID  string    `json:"farmer_id"`
	Amount    float64   `json:"amount"`
	Purpose   string    `json:"purpose"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type productPayload struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

type logisticsPayload struct {
	Pickup            string       `json:"pickup"`
	Destination       string       `json:"destination"`
	PickupCoords      *Coordinates `json:"pickup_coords,omitempty"`
	DestinationCoords *Coordinates `json:"destination_coords,omitempty"`
	Notes             string       `json:"notes,omitempty"`
}

type loanPayload struct {
	Amount  float64 `json:"amount"`
	Purpose string  `json:"purpose"`
}

// Document wraps the product into a catalog envelope.
func (p Product) Document() (Document, error) {
	payload, err := json.Marshal(productPayload{Name: p.Name, Description: p.Description, Price: p.Price})
	if err != nil {
		return Document{}, err
	}
	return Document{ID: p.ID, Kind: KindProduct, OwnerID: p.OwnerID, Payload: payload, CreatedAt: p.CreatedAt}, nil
}

func (r LogisticsRequest) Document() (Document, error) {
	payload, err := json.Marshal(logisticsPayload{
		Pickup:            r.Pickup,
		Destination:       r.Destination,
		PickupCoords:      r.PickupCoords,
		DestinationCoords: r.DestinationCoords,
		Notes:             r.Notes,
	})
	if err != nil {
		return Document{}, err
	}
	status := r.Status
	if status == "" {
		status = StatusPending
	}
	return Document{ID: r.ID, Kind: KindLogistics, OwnerID: r.FarmerID, Status: status, Payload: payload, CreatedAt: r.CreatedAt}, nil
}

func (r LoanRequest) Document() (Document, error) {
	payload, err := json.Marshal(loanPayload{Amount: r.Amount, Purpose: r.Purpose})
	if err != nil {
		return Document{}, err
	}
	status := r.Status
	if status == "" {
		status = StatusPending
	}
	return Document{ID: r.ID, Kind: KindLoan, OwnerID: r.FarmerID, Status: status, Payload: payload, CreatedAt: r.CreatedAt}, nil
}

// Product decodes a product document.
func (d Document) Product() (Product, error) {
	if d.Kind != KindProduct {
		return Product{}, ErrInvalidPayload
	}
	var p productPayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return Product{}, WrapError(ErrCodeValidation, "malformed product payload", err)
	}
	return Product{ID: d.ID, OwnerID: d.OwnerID, Name: p.Name, Description: p.Description, Price: p.Price, CreatedAt: d.CreatedAt}, nil
}

func (d Document) LogisticsRequest() (LogisticsRequest, error) {
	if d.Kind != KindLogistics {
		return LogisticsRequest{}, ErrInvalidPayload
	}
	var p logisticsPayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return LogisticsRequest{}, WrapError(ErrCodeValidation, "malformed logistics payload", err)
	}
	return LogisticsRequest{
		ID:                d.ID,
		FarmerID:          d.OwnerID,
		Pickup:            p.Pickup,
		Destination:       p.Destination,
		PickupCoords:      p.PickupCoords,
		DestinationCoords: p.DestinationCoords,
		Notes:             p.Notes,
		Status:            d.Status,
		CreatedAt:         d.CreatedAt,
	}, nil
}

func (d Document) LoanRequest() (LoanRequest, error) {
	if d.Kind != KindLoan {
		return LoanRequest{}, ErrInvalidPayload
	}
	var p loanPayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return LoanRequest{}, WrapError(ErrCodeValidation, "malformed loan payload", err)
	}
	return LoanRequest{ID: d.ID, FarmerID: d.OwnerID, Amount: p.Amount, Purpose: p.Purpose, Status: d.Status, CreatedAt: d.CreatedAt}, nil
}
