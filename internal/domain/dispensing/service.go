package dispensing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/internal/domain/inventory"
	"github.com/ehr/pharmacy/internal/domain/medication"
	"github.com/ehr/pharmacy/internal/platform/auth"
	"github.com/ehr/pharmacy/internal/platform/db"
)

var (
	ErrRequestNotFound     = errors.New("medication request not found")
	ErrUnlinkedMedication  = errors.New("medication request is not linked to a known medication")
	ErrAlreadyDispensed    = errors.New("medication request has already been dispensed")
	ErrInsufficientStock   = errors.New("insufficient stock for this medication")
	ErrConcurrentStockRace = errors.New("stock changed while dispensing, retry")
)

// Config toggles compatibility behavior.
type Config struct {
	// AllowRedispense lets an already dispensed request consume stock again.
	AllowRedispense bool
}

type Result struct {
	RequestID       uuid.UUID `json:"request_id"`
	Status          string    `json:"status"`
	InventoryItemID uuid.UUID `json:"inventory_item_id"`
	BatchNumber     *string   `json:"batch_number,omitempty"`
	NewQuantity     int       `json:"new_quantity"`
}

type Service struct {
	requests medication.MedicationRequestRepository
	items    inventory.InventoryRepository
	tx       db.Transactor
	cfg      Config
	logger   zerolog.Logger
}

func NewService(
	requests medication.MedicationRequestRepository,
	items inventory.InventoryRepository,
	tx db.Transactor,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	return &Service{requests: requests, items: items, tx: tx, cfg: cfg, logger: logger}
}

// Dispense hands out one unit for a request from its medication's
// first-expiring batch and marks the request dispensed. The decrement and
// the status change commit together.
func (s *Service) Dispense(ctx context.Context, requestID uuid.UUID) (*Result, error) {
	var res *Result
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		mr, err := s.requests.GetByIDForUpdate(ctx, requestID)
		if errors.Is(err, db.ErrNotFound) {
			return ErrRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("load medication request: %w", err)
		}
		if mr.MedicationRef == nil {
			return ErrUnlinkedMedication
		}
		if mr.IsDispensed() && !s.cfg.AllowRedispense {
			return ErrAlreadyDispensed
		}

		item, err := s.items.FindDispensable(ctx, *mr.MedicationRef)
		if errors.Is(err, db.ErrNotFound) {
			return ErrInsufficientStock
		}
		if err != nil {
			return fmt.Errorf("find inventory: %w", err)
		}

		qty, err := s.items.DecrementIfQuantity(ctx, item.ID, item.Quantity)
		if errors.Is(err, inventory.ErrStockChanged) {
			return ErrConcurrentStockRace
		}
		if err != nil {
			return err
		}

		if err := s.requests.UpdateStatus(ctx, mr.ID, medication.StatusDispensed); err != nil {
			return fmt.Errorf("update request status: %w", err)
		}

		res = &Result{
			RequestID:       mr.ID,
			Status:          medication.StatusDispensed,
			InventoryItemID: item.ID,
			BatchNumber:     item.BatchNumber,
			NewQuantity:     qty,
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("request_id", requestID.String()).Msg("dispense rejected")
		return nil, err
	}

	s.logger.Info().
		Str("request_id", res.RequestID.String()).
		Str("inventory_item_id", res.InventoryItemID.String()).
		Int("new_quantity", res.NewQuantity).
		Str("dispensed_by", auth.UserIDFromContext(ctx)).
		Msg("medication dispensed")
	return res, nil
}
