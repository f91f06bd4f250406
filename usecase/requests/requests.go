// Package requests drives logistics and loan requests through their
// pending -> approved|rejected lifecycle on top of the catalog engine.
package requests

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/usecase"
)

// Catalog is the part of the sync engine the controllers need.
type Catalog interface {
	View() domain.SessionView
	Create(ctx context.Context, kind domain.CollectionKind, payload json.RawMessage, idempotencyKey string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, kind domain.CollectionKind, id string, next domain.Status) (*domain.Document, bool, error)
}

type Config struct {
	// GeocodeTimeout caps the time spent enriching a logistics request.
	GeocodeTimeout time.Duration
}

type UseCase struct {
	catalog   Catalog
	geocoder  usecase.Geocoder
	publisher usecase.EventPublisher
	logger    *zap.Logger
	cfg       Config
}

func New(catalog Catalog, geocoder usecase.Geocoder, publisher usecase.EventPublisher, logger *zap.Logger, cfg Config) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GeocodeTimeout <= 0 {
		cfg.GeocodeTimeout = 5 * time.Second
	}
	return &UseCase{
		catalog:   catalog,
		geocoder:  geocoder,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// SubmitLogistics files a pending logistics request. Pickup and destination
// are geocoded best effort; a geocoder failure leaves coordinates empty.
func (uc *UseCase) SubmitLogistics(ctx context.Context, req domain.LogisticsRequest, idempotencyKey string) (*domain.LogisticsRequest, error) {
	if !uc.catalog.View().Capabilities.CanRequestLogistics {
		return nil, domain.ErrForbidden
	}
	req.FarmerID = uc.catalog.View().IdentityID
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.PickupCoords == nil {
		req.PickupCoords = uc.resolve(ctx, req.Pickup)
	}
	if req.DestinationCoords == nil {
		req.DestinationCoords = uc.resolve(ctx, req.Destination)
	}

	doc, err := req.Document()
	if err != nil {
		return nil, err
	}
	created, err := uc.catalog.Create(ctx, domain.KindLogistics, doc.Payload, idempotencyKey)
	if err != nil {
		return nil, err
	}
	out, err := created.LogisticsRequest()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitLoan files a pending loan request.
func (uc *UseCase) SubmitLoan(ctx context.Context, req domain.LoanRequest, idempotencyKey string) (*domain.LoanRequest, error) {
	if !uc.catalog.View().Capabilities.CanRequestLoan {
		return nil, domain.ErrForbidden
	}
	doc, err := req.Document()
	if err != nil {
		return nil, err
	}
	created, err := uc.catalog.Create(ctx, domain.KindLoan, doc.Payload, idempotencyKey)
	if err != nil {
		return nil, err
	}
	out, err := created.LoanRequest()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (uc *UseCase) Approve(ctx context.Context, kind domain.CollectionKind, id string) (*domain.Document, error) {
	return uc.Decide(ctx, kind, id, domain.StatusApproved)
}

func (uc *UseCase) Reject(ctx context.Context, kind domain.CollectionKind, id string) (*domain.Document, error) {
	return uc.Decide(ctx, kind, id, domain.StatusRejected)
}

// Decide applies an admin decision. Only terminal statuses are accepted.
func (uc *UseCase) Decide(ctx context.Context, kind domain.CollectionKind, id string, status domain.Status) (*domain.Document, error) {
	if !kind.HasStatus() {
		return nil, domain.WrapError(domain.ErrCodeValidation, string(kind)+" has no lifecycle", nil)
	}
	if !status.Terminal() {
		return nil, domain.ErrInvalidTransition
	}
	doc, changed, err := uc.catalog.UpdateStatus(ctx, kind, id, status)
	if err != nil {
		return nil, err
	}
	if changed {
		uc.notify(ctx, doc)
	}
	return doc, nil
}

func (uc *UseCase) resolve(ctx context.Context, address string) *domain.Coordinates {
	if uc.geocoder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, uc.cfg.GeocodeTimeout)
	defer cancel()
	coords, err := uc.geocoder.Resolve(ctx, address)
	if err != nil {
		uc.logger.Warn("geocoding failed", zap.String("address", address), zap.Error(err))
		return nil
	}
	return coords
}

type decisionNotice struct {
	DocumentID string                `json:"document_id"`
	Kind       domain.CollectionKind `json:"kind"`
	OwnerID    string                `json:"owner_id"`
	Status     domain.Status         `json:"status"`
	Version    int64                 `json:"version"`
	DecidedBy  string                `json:"decided_by"`
}

func (uc *UseCase) notify(ctx context.Context, doc *domain.Document) {
	if uc.publisher == nil {
		return
	}
	err := uc.publisher.Publish(ctx, usecase.TopicRequestDecided, decisionNotice{
		DocumentID: doc.ID,
		Kind:       doc.Kind,
		OwnerID:    doc.OwnerID,
		Status:     doc.Status,
		Version:    doc.Version,
		DecidedBy:  uc.catalog.View().IdentityID,
	})
	if err != nil {
		uc.logger.Warn("decision notification not published", zap.String("document_id", doc.ID), zap.Error(err))
	}
}
