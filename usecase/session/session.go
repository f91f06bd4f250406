// Package session composes admission, catalog sync and the request and
// checkout controllers for a single client.
package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/repository"
	"github.com/fastygo/agriconnect/usecase"
	"github.com/fastygo/agriconnect/usecase/admission"
	"github.com/fastygo/agriconnect/usecase/catalog"
	"github.com/fastygo/agriconnect/usecase/checkout"
	"github.com/fastygo/agriconnect/usecase/requests"
)

type Metrics interface {
	admission.Metrics
	catalog.Metrics
}

// Dependencies are shared by every client session. Optional collaborators may
// be nil.
type Dependencies struct {
	Profiles  repository.ProfileRepository
	Feed      repository.ChangeFeed
	Documents repository.DocumentRepository
	Buffer    usecase.OperationBuffer
	Snapshots catalog.SnapshotStore
	Geocoder  usecase.Geocoder
	Push      usecase.PushTokenIssuer
	Payments  usecase.PaymentProcessor
	Publisher usecase.EventPublisher
	Metrics   Metrics
	Logger    *zap.Logger
}

type Config struct {
	Admission admission.Config
	Catalog   catalog.Config
	Requests  requests.Config
}

// Session holds no state shared with other sessions besides the stores in
// Dependencies.
type Session struct {
	Admission *admission.Machine
	Catalog   *catalog.Engine
	Requests  *requests.UseCase
	Checkout  *checkout.UseCase

	closeOnce sync.Once
}

// New wires a session onto gateway. The gateway must be dedicated to this
// session: its identity changes drive admission.
func New(gateway usecase.IdentityGateway, deps Dependencies, cfg Config) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var catalogMetrics catalog.Metrics
	var admissionMetrics admission.Metrics
	if deps.Metrics != nil {
		catalogMetrics, admissionMetrics = deps.Metrics, deps.Metrics
	}

	engine := catalog.New(deps.Feed, deps.Documents, deps.Buffer, deps.Snapshots, catalogMetrics, logger.Named("catalog"), cfg.Catalog)
	machine := admission.New(gateway, deps.Profiles, engine, deps.Push, deps.Publisher, admissionMetrics, logger.Named("admission"), cfg.Admission)

	return &Session{
		Admission: machine,
		Catalog:   engine,
		Requests:  requests.New(engine, deps.Geocoder, deps.Publisher, logger.Named("requests"), cfg.Requests),
		Checkout:  checkout.New(engine, deps.Payments, deps.Publisher, logger.Named("checkout")),
	}
}

func (s *Session) View() domain.SessionView {
	return s.Admission.View()
}

// Close drops all access and tears down every subscription. It is safe to
// call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Admission.Close()
		s.Catalog.Deactivate()
	})
}
