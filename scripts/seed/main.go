package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/schoolfees/schoolfees/internal/app"
	"github.com/schoolfees/schoolfees/internal/billing"
	"github.com/schoolfees/schoolfees/internal/feeconfig"
	"github.com/schoolfees/schoolfees/internal/guardians"
	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/platform/cache"
	"github.com/schoolfees/schoolfees/internal/school"
)

const actor = "seed"

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer redisClient.Close()

	backend, err := app.OpenBackend(ctx, cfg, redisClient, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer backend.Close()

	engine := ledger.NewEngine(func() time.Time { return time.Now().UTC() })
	billingSvc := billing.NewService(backend.Store, engine, billing.NewCache(redisClient, cfg.MetricsCacheTTL), backend.Audit, logger)
	ledgerSvc := ledger.NewService(backend.Store, engine, app.NewLocker(cfg, redisClient), backend.Audit, logger)
	feeSvc := feeconfig.NewService(backend.Store, engine, backend.Audit, logger)
	guardianSvc := guardians.NewService(backend.Store, backend.Audit, logger)

	fmt.Println("→ Seeding subscription plans...")
	if err := billingSvc.SeedPlans(ctx); err != nil {
		log.Fatalf("seed plans: %v", err)
	}

	fmt.Println("→ Onboarding demo school...")
	onboarded, err := billingSvc.OnboardSchool(ctx, billing.OnboardInput{
		Name:           "Greenfield Academy",
		Slug:           fmt.Sprintf("greenfield-%d", time.Now().Unix()),
		CurrentSession: "2025/2026",
		CurrentTerm:    "first",
	}, actor)
	if err != nil {
		log.Fatalf("onboard school: %v", err)
	}
	schoolID := onboarded.School.ID

	fmt.Println("→ Seeding fee configuration...")
	structureID, err := seedFeeConfig(ctx, feeSvc, schoolID)
	if err != nil {
		log.Fatalf("seed fee configuration: %v", err)
	}

	fmt.Println("→ Seeding students and guardians...")
	if err := seedFamilies(ctx, ledgerSvc, guardianSvc, schoolID); err != nil {
		log.Fatalf("seed families: %v", err)
	}

	fmt.Println("→ Generating fee records...")
	res, err := feeSvc.GenerateRecords(ctx, structureID, actor)
	if err != nil {
		log.Fatalf("generate records: %v", err)
	}

	fmt.Printf("✓ Seed complete at %s: school %s, %d fee records\n", time.Now().Format(time.RFC3339), schoolID, len(res.Created))
}

func seedFeeConfig(ctx context.Context, svc *feeconfig.Service, schoolID string) (string, error) {
	category, err := svc.CreateCategory(ctx, feeconfig.CategoryInput{
		SchoolID:          schoolID,
		Name:              "Tuition",
		IsCompulsory:      true,
		ApplicableClasses: []string{"JSS1", "JSS2"},
		AcademicYear:      "2025/2026",
	})
	if err != nil {
		return "", err
	}
	structure, err := svc.CreateStructure(ctx, feeconfig.StructureInput{
		SchoolID:          schoolID,
		CategoryID:        category.ID,
		ClassName:         "JSS1",
		AcademicYear:      "2025/2026",
		Amount:            school.Money(15_000_000),
		DueDate:           school.Date{Time: time.Now().UTC().AddDate(0, 1, 0)},
		LateFeeAmount:     school.Money(500_000),
		LateFeeType:       school.LateFeeFixed,
		AllowInstallments: true,
	})
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = svc.CreatePlan(ctx, feeconfig.PlanInput{
		SchoolID:           schoolID,
		Name:               "Three instalments",
		InstallmentAmounts: []school.Money{5_000_000, 5_000_000, 5_000_000},
		DueDates: []school.Date{
			{Time: now.AddDate(0, 1, 0)},
			{Time: now.AddDate(0, 2, 0)},
			{Time: now.AddDate(0, 3, 0)},
		},
		ProcessingFee: school.Money(100_000),
	})
	return structure.ID, err
}

func seedFamilies(ctx context.Context, students *ledger.Service, registry *guardians.Service, schoolID string) error {
	families := []struct {
		parent   string
		email    string
		children []string
	}{
		{parent: "Ngozi Okafor", email: "ngozi.okafor@example.com", children: []string{"Chidi Okafor", "Amara Okafor"}},
		{parent: "Tunde Bello", email: "tunde.bello@example.com", children: []string{"Kemi Bello"}},
	}
	due := school.Date{Time: time.Now().UTC().AddDate(0, 0, 21)}
	for i, fam := range families {
		parent, err := registry.CreateParentAccount(ctx, guardians.CreateParentInput{SchoolID: schoolID, Name: fam.parent, Email: fam.email})
		if err != nil {
			return err
		}
		for j, name := range fam.children {
			student, err := students.CreateStudent(ctx, ledger.StudentInput{
				SchoolID:        schoolID,
				Name:            name,
				Class:           "JSS1",
				AdmissionNumber: fmt.Sprintf("GFA/%03d", i*10+j+1),
				Fees:            []ledger.FeeInput{{Type: "Uniform", Amount: school.Money(2_500_000), DueDate: due}},
				Actor:           actor,
			})
			if err != nil {
				return err
			}
			if _, err := registry.Assign(ctx, guardians.AssignInput{StudentID: student.ID, ParentID: parent.ID, Actor: actor}); err != nil {
				return err
			}
		}
	}
	return nil
}
