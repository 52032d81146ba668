package service

import (
	"context"
	"runtime"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/alerting"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/pricing"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/repository"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/search"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Service defines the business logic operations
type Service interface {
	// Device protocol
	AuthenticateDevice(ctx context.Context, deviceID, apiKey string) (*models.Device, error)
	IngestTelemetry(ctx context.Context, device *models.Device, in TelemetryInput) error
	IngestEvent(ctx context.Context, device *models.Device, in EventInput) error
	Heartbeat(ctx context.Context, device *models.Device, in HeartbeatInput) (time.Time, error)
	RecordReceipt(ctx context.Context, device *models.Device, in ReceiptInput) (*ReceiptResult, error)
	PullCommand(ctx context.Context, device *models.Device) (*models.Command, error)
	AckCommand(ctx context.Context, device *models.Device, in CommandAckInput) error
	VerifyPin(ctx context.Context, device *models.Device, in PinVerifyInput) (*models.Operator, error)
	SyncOperators(ctx context.Context, device *models.Device) (*OperatorDirectory, error)

	// Owner API
	AuthenticateAPIKey(ctx context.Context, key string) (*models.APIKey, error)
	ProvisionDevice(ctx context.Context, actor Actor, in ProvisionDeviceInput) (*ProvisionedDevice, error)
	RotateDeviceKey(ctx context.Context, actor Actor, deviceID string) (*ProvisionedDevice, error)
	ListDevices(ctx context.Context, actor Actor) ([]*models.Device, error)
	CreateCommand(ctx context.Context, actor Actor, deviceID string, in CreateCommandInput) (*models.Command, error)
	ListCommands(ctx context.Context, actor Actor, deviceID string, limit int) ([]*models.Command, error)
	UpsertAlertRule(ctx context.Context, actor Actor, in AlertRuleInput) (*models.AlertRule, error)
	ListAlertRules(ctx context.Context, actor Actor) ([]*models.AlertRule, error)
	CreateOperator(ctx context.Context, actor Actor, in OperatorInput) (*models.Operator, error)
	ListOperators(ctx context.Context, actor Actor) ([]*models.Operator, error)
	DeactivateOperator(ctx context.Context, actor Actor, id uint) error
	CreatePrice(ctx context.Context, actor Actor, in PriceInput) (*models.Price, error)
	ShiftSummaries(ctx context.Context, actor Actor, date string) ([]*models.ShiftSummary, error)

	// Administration
	CreateOwner(ctx context.Context, in OwnerInput) (*models.Owner, error)
	GenerateAPIKey(ctx context.Context, in APIKeyInput) (string, *models.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	DeleteAPIKey(ctx context.Context, id uint) error

	// Scheduled maintenance
	DetectOffline(ctx context.Context) (int, error)
	ExpireCommands(ctx context.Context) (int64, error)

	Shutdown() error
}

// DeviceVerifier authenticates devices and drops cached credentials on rotation
type DeviceVerifier interface {
	Verify(ctx context.Context, deviceID, apiKey string) (*models.Device, error)
	Invalidate(ctx context.Context, deviceID string)
}

// AlertEvaluator reacts to an applied telemetry sample
type AlertEvaluator interface {
	Evaluate(ctx context.Context, in alerting.Input) ([]alerting.Alert, error)
}

// service is an implementation of the Service interface
type service struct {
	repo       repository.Repository
	verifier   DeviceVerifier
	evaluator  AlertEvaluator
	prices     *pricing.Resolver
	publisher  alerting.Publisher
	indexer    search.Indexer
	background *BackgroundProcessor
	cfg        *config.Config
	shiftLoc   *time.Location
	log        *logrus.Logger
	now        func() time.Time
}

// ServiceConfig holds the collaborators of the service
type ServiceConfig struct {
	Repository repository.Repository
	Verifier   DeviceVerifier
	Evaluator  AlertEvaluator
	Publisher  alerting.Publisher
	Indexer    search.Indexer
	Config     *config.Config
	Logger     *logrus.Logger
	Workers    int
	QueueSize  int
	Clock      func() time.Time
}

// NewService creates a new service instance
func NewService(sc ServiceConfig) (Service, error) {
	return newService(sc)
}

func newService(sc ServiceConfig) (*service, error) {
	if sc.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if sc.Verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if sc.Evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if sc.Config == nil {
		return nil, errors.New("config is required")
	}
	if sc.Logger == nil {
		sc.Logger = logrus.New()
	}
	if sc.Indexer == nil {
		sc.Indexer = search.NoopIndexer{}
	}
	if sc.Clock == nil {
		sc.Clock = time.Now
	}
	if sc.Workers == 0 {
		sc.Workers = runtime.NumCPU() * 2
		if sc.Workers < 4 {
			sc.Workers = 4
		}
	}
	if sc.QueueSize == 0 {
		sc.QueueSize = 10000
	}

	loc, err := sc.Config.Shift.Location()
	if err != nil {
		return nil, err
	}

	return &service{
		repo:       sc.Repository,
		verifier:   sc.Verifier,
		evaluator:  sc.Evaluator,
		prices:     pricing.NewResolver(sc.Repository, sc.Config.Pricing),
		publisher:  sc.Publisher,
		indexer:    sc.Indexer,
		background: NewBackgroundProcessor(sc.Logger, sc.Workers, sc.QueueSize),
		cfg:        sc.Config,
		shiftLoc:   loc,
		log:        sc.Logger,
		now:        func() time.Time { return sc.Clock().UTC() },
	}, nil
}

// Shutdown waits for queued background work, then stops the workers
func (s *service) Shutdown() error {
	s.log.Info("Shutting down service...")
	return s.background.Stop(30 * time.Second)
}

// goBackground hands fn to the worker pool. The device response never waits on it.
func (s *service) goBackground(name string, fn func(ctx context.Context) error) {
	if err := s.background.Submit(Task{Name: name, Run: fn}); err != nil && !errors.Is(err, errQueueFull) {
		s.log.WithError(err).WithField("task", name).Warn("Background task not run")
	}
}

// waitBackground blocks until queued work has run. Tests use it to observe side effects.
func (s *service) waitBackground() {
	s.background.Wait()
}

// publish sends a domain event in the background when a publisher is configured
func (s *service) publish(eventType, key string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	s.goBackground("publish:"+eventType, func(ctx context.Context) error {
		return s.publisher.Publish(ctx, eventType, key, payload)
	})
}

// notFound converts the repository sentinel into the service one
func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
