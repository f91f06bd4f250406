package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
)

// ChannelName is the NOTIFY channel the documents trigger publishes a kind on.
func ChannelName(kind domain.CollectionKind) string {
	return "catalog_" + string(kind)
}

type changeFeed struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewChangeFeed returns a change feed backed by LISTEN/NOTIFY on the documents table.
func NewChangeFeed(pool *pgxpool.Pool, logger *zap.Logger) repository.ChangeFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &changeFeed{pool: pool, logger: logger}
}

func (f *changeFeed) Subscribe(ctx context.Context, filter repository.DocumentFilter, onChange func(domain.ChangeEvent)) (repository.FeedSubscription, error) {
	if filter.Kind == "" || onChange == nil {
		return nil, domain.ErrInvalidPayload
	}

	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, remote("acquire feed connection", err)
	}

	channel := ChannelName(filter.Kind)
	// LISTEN before the snapshot query so nothing committed in between is lost.
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, remote("listen on "+channel, err)
	}

	docs, err := listDocuments(ctx, conn, filter)
	if err != nil {
		releaseListener(conn)
		return nil, remote("load feed snapshot", err)
	}

	onChange(domain.ChangeEvent{Type: domain.ChangeSnapshot, Kind: filter.Kind, Documents: docs})

	listenCtx, cancel := context.WithCancel(context.Background())
	sub := &feedSubscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.listen(listenCtx, conn, filter, onChange, f.logger.With(zap.String("channel", channel)))
	return sub, nil
}

type feedSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *feedSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *feedSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *feedSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *feedSubscription) listen(ctx context.Context, conn *pgxpool.Conn, filter repository.DocumentFilter, onChange func(domain.ChangeEvent), logger *zap.Logger) {
	defer close(s.done)
	defer releaseListener(conn)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			s.err = remote("change feed interrupted", err)
			s.mu.Unlock()
			logger.Warn("change feed lost", zap.Error(err))
			return
		}

		var event domain.ChangeEvent
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			logger.Warn("dropping malformed change notification", zap.Error(err))
			continue
		}
		event.Kind = event.Document.Kind

		if !filter.Match(event.Document) {
			if event.Type != domain.ChangeUpdate {
				continue
			}
			// the document left the filter; subscribers must drop it
			event.Type = domain.ChangeDelete
		}
		onChange(event)
	}
}

func releaseListener(conn *pgxpool.Conn) {
	if conn == nil {
		return
	}
	if !conn.Conn().IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, _ = conn.Exec(ctx, "UNLISTEN *")
		cancel()
	}
	conn.Release()
}
