package services

import (
	"context"
	"encoding/json"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/internal/infrastructure/buffer"
	"github.com/fastygo/agriconnect/usecase"
)

type BufferBridge struct {
	processor *BufferProcessor
}

func NewBufferBridge(processor *BufferProcessor) *BufferBridge {
	return &BufferBridge{processor: processor}
}

// BufferDocument persists a keyed document write for replay. Writes without an
// idempotency key are never buffered since replaying them could duplicate data.
func (b *BufferBridge) BufferDocument(ctx context.Context, operation string, doc *domain.Document, idempotencyKey string) error {
	if b.processor == nil || doc == nil || idempotencyKey == "" {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	priority := 3
	if doc.Kind.HasStatus() {
		priority = 2
	}
	item := buffer.Item{
		ID:             doc.ID,
		UserID:         doc.OwnerID,
		Entity:         buffer.EntityDocument,
		Operation:      operation,
		IdempotencyKey: idempotencyKey,
		Data:           payload,
		Priority:       priority,
	}
	return b.processor.BufferOperation(ctx, item)
}

var _ usecase.OperationBuffer = (*BufferBridge)(nil)
