// Package checkout lets a buyer start payment for a listed product.
package checkout

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/usecase"
)

type Catalog interface {
	View() domain.SessionView
	Lookup(ctx context.Context, kind domain.CollectionKind, id string) (*domain.Document, error)
}

// Receipt is the outcome of a purchase attempt.
type Receipt struct {
	ProductID string               `json:"product_id"`
	SellerID  string               `json:"seller_id"`
	Amount    float64              `json:"amount"`
	Payment   domain.PaymentResult `json:"payment"`
}

type UseCase struct {
	catalog   Catalog
	payments  usecase.PaymentProcessor
	publisher usecase.EventPublisher
	logger    *zap.Logger
}

func New(catalog Catalog, payments usecase.PaymentProcessor, publisher usecase.EventPublisher, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{catalog: catalog, payments: payments, publisher: publisher, logger: logger}
}

// Purchase initiates payment of the product's listed price. The idempotency
// key is mandatory so a retried request cannot charge twice.
func (uc *UseCase) Purchase(ctx context.Context, productID, idempotencyKey string) (*Receipt, error) {
	view := uc.catalog.View()
	if !view.Active() || !view.Capabilities.CanPurchase {
		return nil, domain.ErrForbidden
	}
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, domain.WrapError(domain.ErrCodeValidation, "idempotency key is required", nil)
	}
	if uc.payments == nil {
		return nil, domain.WrapError(domain.ErrCodeRemoteUnavailable, "payments are not configured", nil)
	}

	doc, err := uc.catalog.Lookup(ctx, domain.KindProduct, productID)
	if err != nil {
		return nil, err
	}
	product, err := doc.Product()
	if err != nil {
		return nil, err
	}
	if product.Price <= 0 {
		return nil, domain.WrapError(domain.ErrCodeValidation, "product has no price", nil)
	}

	result, err := uc.payments.Initiate(ctx, product.Price, view.IdentityID, view.IdentityID+"/"+idempotencyKey)
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{ProductID: product.ID, SellerID: product.OwnerID, Amount: product.Price, Payment: result}

	uc.logger.Info("purchase initiated",
		zap.String("product_id", product.ID),
		zap.String("buyer_id", view.IdentityID),
		zap.Bool("accepted", result.Accepted))
	if uc.publisher != nil && result.Accepted {
		if err := uc.publisher.Publish(ctx, usecase.TopicPaymentInitiated, receipt); err != nil {
			uc.logger.Warn("payment notification not published", zap.Error(err))
		}
	}
	return receipt, nil
}
