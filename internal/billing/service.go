package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
)

// Service manages subscriptions and serves cached dashboard metrics.
type Service struct {
	store    store.Store
	engine   ledger.Engine
	cache    *Cache
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service. cache and audit may be nil.
func NewService(st store.Store, engine ledger.Engine, cache *Cache, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, engine: engine, cache: cache, audit: audit, logger: logger, validate: validator.New()}
}

// SeedPlans upserts the default plans.
func (s *Service) SeedPlans(ctx context.Context) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, p := range DefaultPlans() {
			if err := tx.UpsertPlan(ctx, p); err != nil {
				return fmt.Errorf("billing: seed plan %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// Plans lists subscription plans.
func (s *Service) Plans(ctx context.Context) ([]school.SubscriptionPlan, error) {
	var out []school.SubscriptionPlan
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.ListPlans(ctx)
		out = rows
		return err
	})
	return out, err
}

// OnboardSchool creates a school and starts a trial on the requested plan, basic when
// none is named.
func (s *Service) OnboardSchool(ctx context.Context, in OnboardInput, actor string) (Onboarded, error) {
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return Onboarded{}, fmt.Errorf("billing: %w: %s", shared.ErrValidation, err.Error())
	}
	now := s.engine.Clock()
	planID := in.PlanID
	if planID == "" {
		planID = "basic"
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = "NGN"
	}
	out := Onboarded{
		School: school.School{
			ID:             uuid.NewString(),
			Name:           strings.TrimSpace(in.Name),
			Slug:           strings.ToLower(in.Slug),
			Currency:       currency,
			CurrentSession: in.CurrentSession,
			CurrentTerm:    in.CurrentTerm,
			PlanID:         planID,
			CreatedAt:      now,
		},
	}
	out.Subscription = school.SchoolSubscription{
		ID:                 uuid.NewString(),
		SchoolID:           out.School.ID,
		PlanID:             planID,
		Interval:           school.IntervalMonthly,
		Status:             school.SubscriptionTrialing,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(TrialPeriod),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetPlan(ctx, planID); err != nil {
			return fmt.Errorf("billing: plan %s: %w", planID, err)
		}
		if err := tx.CreateSchool(ctx, out.School); err != nil {
			return err
		}
		return tx.CreateSubscription(ctx, out.Subscription)
	})
	if err != nil {
		return Onboarded{}, err
	}
	s.bump(ctx)
	s.record(ctx, actor, "billing.onboard", out.School.ID, map[string]any{"plan_id": planID})
	return out, nil
}

// Subscription returns a school's subscription.
func (s *Service) Subscription(ctx context.Context, schoolID string) (school.SchoolSubscription, error) {
	var out school.SchoolSubscription
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sub, err := tx.GetSubscription(ctx, schoolID)
		out = sub
		return err
	})
	return out, err
}

// Subscriptions lists every school subscription.
func (s *Service) Subscriptions(ctx context.Context) ([]school.SchoolSubscription, error) {
	var out []school.SchoolSubscription
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.ListSubscriptions(ctx)
		out = rows
		return err
	})
	return out, err
}

// Schools lists every onboarded tenant.
func (s *Service) Schools(ctx context.Context) ([]school.School, error) {
	var out []school.School
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.ListSchools(ctx)
		out = rows
		return err
	})
	return out, err
}

// Subscribe starts a paid period on the plan and charges it. The plan must hold the
// school's current active students.
func (s *Service) Subscribe(ctx context.Context, in SubscribeInput, actor string) (school.SchoolSubscription, error) {
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return school.SchoolSubscription{}, fmt.Errorf("billing: %w: %s", shared.ErrValidation, err.Error())
	}
	if in.Interval == "" {
		in.Interval = school.IntervalMonthly
	}
	now := s.engine.Clock()
	var out school.SchoolSubscription
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sch, err := tx.GetSchool(ctx, in.SchoolID)
		if err != nil {
			return err
		}
		plan, err := tx.GetPlan(ctx, in.PlanID)
		if err != nil {
			return fmt.Errorf("billing: plan %s: %w", in.PlanID, err)
		}
		students, err := tx.ListStudents(ctx, store.StudentFilter{SchoolID: sch.ID, Status: school.StudentActive})
		if err != nil {
			return err
		}
		if plan.MaxStudents != school.Unlimited && len(students) > plan.MaxStudents {
			return fmt.Errorf("%w: %d students on %s (max %d)", ErrPlanLimit, len(students), plan.ID, plan.MaxStudents)
		}
		sub, err := tx.GetSubscription(ctx, sch.ID)
		exists := err == nil
		if err != nil && !store.IsNotFound(err) {
			return err
		}
		if !exists {
			sub = school.SchoolSubscription{ID: uuid.NewString(), SchoolID: sch.ID, CreatedAt: now}
		}
		sub.PlanID = plan.ID
		sub.Interval = in.Interval
		sub.Status = school.SubscriptionActive
		sub.CanceledAt = nil
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = periodEnd(now, in.Interval)
		sub.UpdatedAt = now
		if exists {
			err = tx.UpdateSubscription(ctx, sub)
		} else {
			err = tx.CreateSubscription(ctx, sub)
		}
		if err != nil {
			return err
		}
		out = sub
		return tx.CreateBillingRecord(ctx, charge(sub, plan, now))
	})
	if err != nil {
		return school.SchoolSubscription{}, err
	}
	s.bump(ctx)
	s.record(ctx, actor, "billing.subscribe", in.SchoolID, map[string]any{"plan_id": in.PlanID, "interval": in.Interval})
	return out, nil
}

// Cancel ends a school's subscription.
func (s *Service) Cancel(ctx context.Context, schoolID, actor string) (school.SchoolSubscription, error) {
	now := s.engine.Clock()
	var out school.SchoolSubscription
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sub, err := tx.GetSubscription(ctx, schoolID)
		if err != nil {
			return err
		}
		if sub.Status == school.SubscriptionCanceled {
			return ErrCanceled
		}
		sub.Status = school.SubscriptionCanceled
		sub.CanceledAt = &now
		sub.UpdatedAt = now
		out = sub
		return tx.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return school.SchoolSubscription{}, err
	}
	s.bump(ctx)
	s.record(ctx, actor, "billing.cancel", schoolID, nil)
	return out, nil
}

// RenewDue rolls every subscription whose period has ended: active ones are charged
// for a new period and expired trials become past due. It returns how many changed.
func (s *Service) RenewDue(ctx context.Context) (int, error) {
	now := s.engine.Clock()
	changed := 0
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		changed = 0
		subs, err := tx.ListSubscriptions(ctx)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if now.Before(sub.CurrentPeriodEnd) {
				continue
			}
			switch sub.Status {
			case school.SubscriptionActive:
				plan, err := tx.GetPlan(ctx, sub.PlanID)
				if err != nil {
					return fmt.Errorf("billing: plan %s: %w", sub.PlanID, err)
				}
				sub.CurrentPeriodStart = sub.CurrentPeriodEnd
				sub.CurrentPeriodEnd = periodEnd(sub.CurrentPeriodStart, sub.Interval)
				if err := tx.CreateBillingRecord(ctx, charge(sub, plan, now)); err != nil {
					return err
				}
			case school.SubscriptionTrialing:
				sub.Status = school.SubscriptionPastDue
			default:
				continue
			}
			sub.UpdatedAt = now
			if err := tx.UpdateSubscription(ctx, sub); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.bump(ctx)
		s.logger.InfoContext(ctx, "subscriptions renewed", slog.Int("count", changed))
	}
	return changed, nil
}

// History lists a school's platform charges.
func (s *Service) History(ctx context.Context, schoolID string) ([]school.BillingRecord, error) {
	var out []school.BillingRecord
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.ListBillingRecords(ctx, schoolID)
		out = rows
		return err
	})
	return out, err
}

// SchoolFeeMetrics returns the school's collection metrics, cached until the next
// bump.
func (s *Service) SchoolFeeMetrics(ctx context.Context, schoolID string) (SchoolFeeMetrics, error) {
	key, err := s.cache.BuildKey(ctx, keySchoolMetrics(schoolID)...)
	if err != nil {
		return SchoolFeeMetrics{}, err
	}
	var out SchoolFeeMetrics
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		var in FeeInputs
		err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.GetSchool(ctx, schoolID); err != nil {
				return err
			}
			var err error
			if in.Students, err = tx.ListStudents(ctx, store.StudentFilter{SchoolID: schoolID}); err != nil {
				return err
			}
			if in.Records, err = tx.ListFeeRecords(ctx, store.FeeRecordFilter{SchoolID: schoolID}); err != nil {
				return err
			}
			in.Transactions, err = tx.ListTransactions(ctx, store.TransactionFilter{SchoolID: schoolID, Status: school.TxCompleted})
			return err
		})
		if err != nil {
			return nil, err
		}
		return ComputeSchoolFeeMetrics(schoolID, in, s.engine), nil
	})
	return out, err
}

// Usage reports the school's footprint against its plan. It is never cached.
func (s *Service) Usage(ctx context.Context, schoolID string) (Usage, error) {
	now := s.engine.Clock()
	out := Usage{SchoolID: schoolID}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sub, err := tx.GetSubscription(ctx, schoolID)
		if err != nil {
			return err
		}
		plan, err := tx.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		students, err := tx.ListStudents(ctx, store.StudentFilter{SchoolID: schoolID, Status: school.StudentActive})
		if err != nil {
			return err
		}
		txs, err := tx.ListTransactions(ctx, store.TransactionFilter{SchoolID: schoolID})
		if err != nil {
			return err
		}
		out.PlanID = plan.ID
		out.MaxStudents = plan.MaxStudents
		out.CurrentStudents = len(students)
		for _, t := range txs {
			if sameMonth(t.InitiatedAt, now) {
				out.MonthlyTransactions++
			}
		}
		out.OverLimit = plan.MaxStudents != school.Unlimited && out.CurrentStudents > plan.MaxStudents
		return nil
	})
	return out, err
}

// PlatformMetrics returns subscription revenue metrics across schools.
func (s *Service) PlatformMetrics(ctx context.Context) (PlatformMetrics, error) {
	now := s.engine.Clock()
	key, err := s.cache.BuildKey(ctx, keyPlatformMetrics(now)...)
	if err != nil {
		return PlatformMetrics{}, err
	}
	var out PlatformMetrics
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		var in PlatformInputs
		err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			if in.Schools, err = tx.ListSchools(ctx); err != nil {
				return err
			}
			if in.Subscriptions, err = tx.ListSubscriptions(ctx); err != nil {
				return err
			}
			if in.Plans, err = tx.ListPlans(ctx); err != nil {
				return err
			}
			in.Charges, err = tx.ListBillingRecords(ctx, "")
			return err
		})
		if err != nil {
			return nil, err
		}
		return ComputePlatformMetrics(in, now), nil
	})
	return out, err
}

// Bump drops cached metrics. Payments call it after posting to the ledger.
func (s *Service) Bump(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) bump(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.WarnContext(ctx, "metrics cache bump failed", slog.Any("error", err))
	}
}

func periodEnd(start time.Time, interval school.BillingInterval) time.Time {
	if interval == school.IntervalYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

func charge(sub school.SchoolSubscription, plan school.SubscriptionPlan, now time.Time) school.BillingRecord {
	return school.BillingRecord{
		ID:             uuid.NewString(),
		SchoolID:       sub.SchoolID,
		SubscriptionID: sub.ID,
		Amount:         plan.Price(sub.Interval),
		Status:         ChargePaid,
		Reference:      fmt.Sprintf("SUB_%s_%s", strings.ToUpper(plan.ID), sub.CurrentPeriodStart.UTC().Format("20060102")),
		BilledAt:       now,
	}
}

func (s *Service) record(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "subscription",
		EntityID: entityID,
		Meta:     meta,
		At:       s.engine.Clock(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
