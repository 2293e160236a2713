package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pharmacy/internal/domain/medication"
	"github.com/ehr/pharmacy/internal/platform/db"
)

var ErrMedicationNotFound = errors.New("medication not found")

// ValidationError marks input the caller must fix.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type Service struct {
	items       InventoryRepository
	medications medication.MedicationRepository
	logger      zerolog.Logger
}

func NewService(items InventoryRepository, medications medication.MedicationRepository, logger zerolog.Logger) *Service {
	return &Service{items: items, medications: medications, logger: logger}
}

// AddStockInput accepts medicationId/expiryDate/batchNumber as well as the
// snake_case spellings.
type AddStockInput struct {
	MedicationID string `json:"medication_id"`
	Quantity     int    `json:"quantity"`
	ExpiryDate   string `json:"expiry_date,omitempty"`
	BatchNumber  string `json:"batch_number,omitempty"`

	LegacyMedicationID string `json:"medicationId,omitempty"`
	LegacyExpiryDate   string `json:"expiryDate,omitempty"`
	LegacyBatchNumber  string `json:"batchNumber,omitempty"`
}

func (in *AddStockInput) normalize() {
	if in.MedicationID == "" {
		in.MedicationID = in.LegacyMedicationID
	}
	if in.ExpiryDate == "" {
		in.ExpiryDate = in.LegacyExpiryDate
	}
	if in.BatchNumber == "" {
		in.BatchNumber = in.LegacyBatchNumber
	}
	in.MedicationID = strings.TrimSpace(in.MedicationID)
	in.ExpiryDate = strings.TrimSpace(in.ExpiryDate)
	in.BatchNumber = strings.TrimSpace(in.BatchNumber)
}

type AddStockResult struct {
	Item   *InventoryItem `json:"item"`
	Merged bool           `json:"merged"`
}

// AddStock receives units for a medication batch. A repeat delivery of the
// same batch sums into the existing row.
func (s *Service) AddStock(ctx context.Context, in AddStockInput) (*AddStockResult, error) {
	in.normalize()
	if in.MedicationID == "" || in.Quantity <= 0 {
		return nil, &ValidationError{Msg: "medication id and a positive quantity are required"}
	}
	medID, err := uuid.Parse(in.MedicationID)
	if err != nil {
		return nil, &ValidationError{Msg: "invalid medication id"}
	}

	item := &InventoryItem{MedicationID: medID, Quantity: in.Quantity}
	if in.ExpiryDate != "" {
		exp, err := parseExpiry(in.ExpiryDate)
		if err != nil {
			return nil, &ValidationError{Msg: "invalid expiry date"}
		}
		item.ExpiryDate = &exp
	}
	if in.BatchNumber != "" {
		b := in.BatchNumber
		item.BatchNumber = &b
	}

	med, err := s.medications.GetByID(ctx, medID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrMedicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load medication: %w", err)
	}

	merged, err := s.items.AddStock(ctx, item)
	if err != nil {
		return nil, err
	}
	item.MedicationName = med.Name

	s.logger.Info().
		Str("inventory_item_id", item.ID.String()).
		Str("medication_id", medID.String()).
		Str("batch_number", item.Batch()).
		Int("added", in.Quantity).
		Int("quantity", item.Quantity).
		Bool("merged", merged).
		Msg("stock added")
	return &AddStockResult{Item: item, Merged: merged}, nil
}

// parseExpiry accepts a calendar date or a full timestamp and truncates to the day.
func parseExpiry(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	return s.items.GetByID(ctx, id)
}

func (s *Service) ListItems(ctx context.Context, medicationID *uuid.UUID, limit, offset int) ([]*InventoryItem, int, error) {
	return s.items.List(ctx, medicationID, limit, offset)
}

func (s *Service) DeleteItem(ctx context.Context, id uuid.UUID) error {
	if err := s.items.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Warn().Str("inventory_item_id", id.String()).Msg("inventory item deleted")
	return nil
}
