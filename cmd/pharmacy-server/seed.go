package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/pharmacy/internal/config"
	"github.com/ehr/pharmacy/internal/domain/inventory"
	"github.com/ehr/pharmacy/internal/domain/medication"
)

const (
	systemSNOMED = "http://snomed.info/sct"
	systemRxNorm = "http://www.nlm.nih.gov/research/umls/rxnorm"
)

type demoBatch struct {
	Quantity    int
	ExpiryDate  string
	BatchNumber string
}

type demoMedication struct {
	Name   string
	System string
	Code   string
	Batch  demoBatch
}

// demoCatalog is the clinic's starter formulary: supplements coded the way
// the nutrition front end sends them, plus common RxNorm products.
var demoCatalog = []demoMedication{
	{"Vitamin D3 2000 IU", systemSNOMED, "VITD", demoBatch{100, "2028-12-31", "VD3-BATCH-001"}},
	{"Omega-3 Fish Oil 1000mg", systemSNOMED, "OMEGA3", demoBatch{150, "2027-11-15", "OMEGA3-BATCH-002"}},
	{"Probiotic 50 Billion CFU", systemSNOMED, "PROBIO", demoBatch{80, "2026-09-01", "PROBIO-BATCH-003"}},
	{"Magnesium Citrate Powder", systemSNOMED, "MAGCIT", demoBatch{120, "2029-05-20", "MAGCIT-BATCH-004"}},
	{"Turmeric Curcumin Capsules", systemSNOMED, "TURMER", demoBatch{90, "2028-07-10", "TURMER-BATCH-005"}},
	{"Multivitamin", systemSNOMED, "MULTI", demoBatch{200, "2027-03-01", "MULTI-BATCH-006"}},
	{"Amoxicillin 500mg Capsule", systemRxNorm, "834064", demoBatch{300, "2025-10-01", "AMOX-BATCH-010"}},
	{"Lisinopril 10mg Tablet", systemRxNorm, "841689", demoBatch{250, "2026-01-15", "LISI-BATCH-011"}},
	{"Metformin 500 mg Oral Tablet", systemRxNorm, "860907", demoBatch{400, "2025-08-20", "MET-BATCH-012"}},
	{"Atorvastatin 20mg Tablet", systemRxNorm, "833672", demoBatch{180, "2027-04-10", "ATOR-BATCH-013"}},
	{"Amlodipine Besylate 5mg Tablet", systemRxNorm, "833023", demoBatch{220, "2026-06-01", "AMLO-BATCH-014"}},
	{"Ibuprofen 200 mg Oral Tablet", systemRxNorm, "856196", demoBatch{350, "2025-12-01", "IBU-BATCH-015"}},
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// seedFHIRID derives a stable external id from a medication name.
func seedFHIRID(name string) string {
	return "med-seed-" + strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo medication catalog and stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Store == config.StoreMemory {
				return fmt.Errorf("seed writes to Postgres; use `serve --seed` with STORE=%s", config.StoreMemory)
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			svc, err := newServices(cfg, st, logger)
			if err != nil {
				return err
			}
			meds, batches, err := seedCatalog(ctx, svc, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d medication(s) and %d batch(es).\n", meds, batches)
			return nil
		},
	}
}

// seedCatalog creates missing catalog entries and receives one batch for
// each. Entries that already exist are skipped together with their stock.
func seedCatalog(ctx context.Context, svc *services, logger zerolog.Logger) (int, int, error) {
	var created, batches int
	for _, d := range demoCatalog {
		med, err := svc.medication.CreateMedication(ctx, medication.CreateMedicationInput{
			Name:   d.Name,
			System: d.System,
			Code:   d.Code,
			FHIRID: seedFHIRID(d.Name),
		})
		switch {
		case errors.Is(err, medication.ErrDuplicateCoding), errors.Is(err, medication.ErrDuplicateMedicationFHIRID):
			logger.Warn().Str("medication", d.Name).Msg("medication already exists, skipping")
			continue
		case err != nil:
			return created, batches, fmt.Errorf("create %s: %w", d.Name, err)
		}
		created++

		if _, err := svc.inventory.AddStock(ctx, inventory.AddStockInput{
			MedicationID: med.ID.String(),
			Quantity:     d.Batch.Quantity,
			ExpiryDate:   d.Batch.ExpiryDate,
			BatchNumber:  d.Batch.BatchNumber,
		}); err != nil {
			return created, batches, fmt.Errorf("stock %s: %w", d.Name, err)
		}
		batches++
	}
	return created, batches, nil
}
