package main

import (
	"context"
	"fmt"

	"github.com/ehr/pharmacy/internal/config"
	"github.com/ehr/pharmacy/internal/domain/identity"
	"github.com/ehr/pharmacy/internal/domain/inventory"
	"github.com/ehr/pharmacy/internal/domain/medication"
	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/internal/platform/memstore"
)

// stores is the repository set selected by STORE.
type stores struct {
	name        string
	patients    identity.PatientRepository
	medications medication.MedicationRepository
	requests    medication.MedicationRequestRepository
	inventory   inventory.InventoryRepository
	tx          db.Transactor
	pinger      db.Pinger
	close       func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memoryStores(memstore.New()), nil
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		return &stores{
			name:        config.StorePostgres,
			patients:    identity.NewPatientRepo(pool),
			medications: medication.NewMedicationRepo(pool),
			requests:    medication.NewMedicationRequestRepo(pool),
			inventory:   inventory.NewInventoryRepo(pool),
			tx:          db.NewTransactor(pool),
			pinger:      pool,
			close:       pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func memoryStores(s *memstore.Store) *stores {
	return &stores{
		name:        config.StoreMemory,
		patients:    s.Patients(),
		medications: s.Medications(),
		requests:    s.Requests(),
		inventory:   s.Inventory(),
		tx:          s,
		pinger:      s,
		close:       func() {},
	}
}
