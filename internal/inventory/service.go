package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListItems(ctx context.Context, scope Scope) ([]InventoryItem, error)
	ListMoves(ctx context.Context, filter MoveFilter) ([]StockMove, error)
	ListReservations(ctx context.Context, tenantID, orderRef string) ([]Reservation, error)
	GetReceipt(ctx context.Context, tenantID string, id uuid.UUID) (Receipt, error)
	GetShipment(ctx context.Context, tenantID string, id uuid.UUID) (Shipment, error)
	GetWave(ctx context.Context, tenantID string, id uuid.UUID) (PickWave, error)
	GetTransfer(ctx context.Context, tenantID string, id uuid.UUID) (TransferOrder, error)
	GetAdjustment(ctx context.Context, tenantID string, id uuid.UUID) (Adjustment, error)
	ListTenants(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, tenantID string, claimStatuses []ReservationStatus) (LedgerSnapshot, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder receives ledger outcomes.
type MetricsRecorder interface {
	MoveApplied(reason string, qty float64)
	ReservationChanged(status string, count int)
	OperationFailed(op, kind string)
}

// ServiceConfig groups policy switches.
type ServiceConfig struct {
	// CarryReservationOnPick moves a reservation's claim to the staging row
	// together with the picked qty. When false the claim is dropped at the
	// source and the staging row holds the qty unreserved.
	CarryReservationOnPick bool
	// StrictWaves fails CreateWave on reservations that are not reserved
	// instead of skipping them.
	StrictWaves bool
	// RejectOverQuantity refuses receive/ship/transfer quantities beyond the
	// line's remaining qty.
	RejectOverQuantity bool
}

// DefaultServiceConfig returns the production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{CarryReservationOnPick: true}
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
	metrics     MetricsRecorder
	logger      *slog.Logger
	tracer      trace.Tracer
	validate    *validator.Validate
	cfg         ServiceConfig
	now         func() time.Time
	newID       func() uuid.UUID
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig, integration IntegrationHandler) *Service {
	return &Service{
		repo:        repo,
		audit:       audit,
		integration: integration,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:      otel.Tracer("github.com/odyssey-erp/stockledger/internal/inventory"),
		validate:    newValidator(),
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.New,
	}
}

// SetLogger replaces the discard logger.
func (s *Service) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics attaches a metrics recorder.
func (s *Service) SetMetrics(metrics MetricsRecorder) {
	s.metrics = metrics
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("qtyscale", validQtyScale)
	return v
}

// maxQtyScale matches the NUMERIC(20,6) quantity columns.
const maxQtyScale = 6

// validQtyScale reads the raw decimal off the parent struct since the custom
// type func has already turned the field into a float64.
func validQtyScale(fl validator.FieldLevel) bool {
	parent := reflect.Indirect(fl.Parent())
	if parent.Kind() != reflect.Struct {
		return false
	}
	field := parent.FieldByName(fl.StructFieldName())
	if !field.IsValid() {
		return false
	}
	d, ok := field.Interface().(decimal.Decimal)
	if !ok {
		return false
	}
	return d.Exponent() >= -maxQtyScale || d.Equal(d.Truncate(maxQtyScale))
}

func (s *Service) check(input any) error {
	if input == nil {
		return nil
	}
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// txScope carries the transaction handle and the moves written through it.
type txScope struct {
	tx           TxRepository
	moves        []StockMove
	reservations map[ReservationStatus]int
}

func (sc *txScope) reservationChanged(status ReservationStatus) {
	if sc.reservations == nil {
		sc.reservations = make(map[ReservationStatus]int)
	}
	sc.reservations[status]++
}

// execute validates input, runs fn in one ledger transaction and performs
// post-commit side effects once it committed.
func (s *Service) execute(ctx context.Context, op string, input any, attrs []attribute.KeyValue, fn func(context.Context, *txScope) error) error {
	ctx, span := s.tracer.Start(ctx, "inventory."+op, trace.WithAttributes(attrs...))
	defer span.End()

	err := s.check(input)
	var committed *txScope
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			sc := &txScope{tx: tx}
			if err := fn(ctx, sc); err != nil {
				return err
			}
			committed = sc
			return nil
		})
	}
	if err != nil {
		s.fail(ctx, span, op, err)
		return err
	}
	span.SetAttributes(attribute.Int("inventory.moves", len(committed.moves)))
	s.afterCommit(ctx, committed)
	return nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	kind := ErrorKind(err)
	if s.metrics != nil {
		s.metrics.OperationFailed(op, kind)
	}
	level := slog.LevelDebug
	if kind == "retryable" || kind == "internal" {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "inventory operation failed", slog.String("op", op), slog.String("kind", kind), slog.Any("error", err))
}

func (s *Service) afterCommit(ctx context.Context, sc *txScope) {
	if s.metrics != nil {
		for _, move := range sc.moves {
			s.metrics.MoveApplied(string(move.Reason), move.Qty.InexactFloat64())
		}
		for status, count := range sc.reservations {
			s.metrics.ReservationChanged(string(status), count)
		}
	}
	if s.integration == nil || len(sc.moves) == 0 {
		return
	}
	evt := MovesPostedEvent{Moves: sc.moves, PostedAt: s.now()}
	if err := s.integration.HandleMovesPosted(ctx, evt); err != nil {
		s.logger.Warn("publish stock moves", slog.Int("moves", len(sc.moves)), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, tenantID, action, entity string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID.String(),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func tenantAttrs(tenantID string, kv ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{attribute.String("inventory.tenant", tenantID)}, kv...)
}
