package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
)

const documentColumns = `id::text, kind, owner_id::text, status, version, payload, created_at, updated_at`

type documentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository creates a Postgres-backed DocumentRepository implementation.
func NewDocumentRepository(pool *pgxpool.Pool) repository.DocumentRepository {
	return &documentRepository{pool: pool}
}

func (r *documentRepository) Get(ctx context.Context, id string) (*domain.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrDocumentNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, remote("load document", err)
	}
	return doc, nil
}

func (r *documentRepository) List(ctx context.Context, filter repository.DocumentFilter) ([]domain.Document, error) {
	docs, err := listDocuments(ctx, r.pool, filter)
	if err != nil {
		return nil, remote("list documents", err)
	}
	return docs, nil
}

func listDocuments(ctx context.Context, q querier, filter repository.DocumentFilter) ([]domain.Document, error) {
	const query = `
	SELECT ` + documentColumns + `
	FROM documents
	WHERE ($1 = '' OR kind = $1)
	  AND ($2 = '' OR owner_id::text = $2)
	  AND ($3 = '' OR status = $3)
	ORDER BY created_at ASC, id ASC
	`
	rows, err := q.Query(ctx, query, string(filter.Kind), filter.OwnerID, string(filter.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *documentRepository) Insert(ctx context.Context, doc *domain.Document) error {
	if doc == nil || doc.Kind == "" || doc.OwnerID == "" {
		return domain.ErrInvalidPayload
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	const query = `
	INSERT INTO documents (id, kind, owner_id, status, version, payload, created_at, updated_at)
	VALUES ($1, $2, $3, $4, 1, $5, COALESCE($6, NOW()), NOW())
	ON CONFLICT (id) DO NOTHING
	RETURNING version, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		doc.ID,
		string(doc.Kind),
		doc.OwnerID,
		string(doc.Status),
		[]byte(doc.Payload),
		nullTime(doc.CreatedAt),
	).Scan(&doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// replay of an idempotent write
		stored, getErr := r.Get(ctx, doc.ID)
		if getErr != nil {
			return getErr
		}
		if stored.OwnerID != doc.OwnerID || stored.Kind != doc.Kind {
			return domain.WrapError(domain.ErrCodeConflict, "document id already taken", nil)
		}
		*doc = *stored
		return nil
	}
	return remote("insert document", err)
}

func (r *documentRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrDocumentNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return remote("delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id string, from, to domain.Status) (*domain.Document, error) {
	const query = `
	UPDATE documents
	SET status = $3,
		version = version + 1,
		updated_at = NOW()
	WHERE id = $1 AND status = $2
	RETURNING ` + documentColumns

	row := r.pool.QueryRow(ctx, query, id, string(from), string(to))
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return nil, domain.ErrStaleWrite
		}
		return nil, remote("update document status", err)
	}
	return doc, nil
}

func (r *documentRepository) AppendEvent(ctx context.Context, event domain.Event) error {
	const query = `
	INSERT INTO document_events (id, document_id, name, version, actor_id, payload, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
	`
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.DocumentID,
		event.Name,
		event.Version,
		event.ActorID,
		[]byte(event.Payload),
		marshalMap(event.Metadata),
		nullTime(event.CreatedAt),
	)
	return remote("append document event", err)
}

func scanDocument(row interface {
	Scan(dest ...interface{}) error
}) (*domain.Document, error) {
	var (
		doc     domain.Document
		kind    string
		status  string
		payload []byte
	)

	if err := row.Scan(
		&doc.ID,
		&kind,
		&doc.OwnerID,
		&status,
		&doc.Version,
		&payload,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}

	doc.Kind = domain.CollectionKind(kind)
	doc.Status = domain.Status(status)
	doc.Payload = make(json.RawMessage, len(payload))
	copy(doc.Payload, payload)
	return &doc, nil
}
