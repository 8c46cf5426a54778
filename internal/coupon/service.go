package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	couponDB "ms-coupons/internal/coupon/db"
	"ms-coupons/internal/logger"
	"ms-coupons/internal/metrics"
	"ms-coupons/internal/models"
	"ms-coupons/internal/utils"
)

const MaxBulkInstances = 1000

type Store interface {
	GetDefinition(ctx context.Context, id string) (*models.CouponDefinition, error)
	CountUserHeld(ctx context.Context, definitionID, userID string) (int, error)
	CountConsumed(ctx context.Context, definitionID string) (int, error)
	FindAvailableInstance(ctx context.Context, definitionID string) (*models.CouponInstance, error)
	InsertInstance(ctx context.Context, inst *models.CouponInstance) error
	InsertInstances(ctx context.Context, insts []models.CouponInstance) error
	AssignInstance(ctx context.Context, instanceID, userID string, at time.Time) (bool, error)
	GetInstanceByCode(ctx context.Context, code string) (*models.CouponInstance, error)
	ListInstancesByUser(ctx context.Context, userID string) ([]models.CouponInstance, error)
	InsertRedemption(ctx context.Context, rec *models.RedemptionRecord) (bool, error)
	DefinitionStats(ctx context.Context, def *models.CouponDefinition) (*models.DefinitionStats, error)
	WithDefinitionLock(ctx context.Context, definitionID string, fn couponDB.LockedFunc) error
}

// DefinitionCache returns nil, nil on a miss.
type DefinitionCache interface {
	Get(ctx context.Context, id string) (*models.CouponDefinition, error)
	Set(ctx context.Context, def *models.CouponDefinition) error
}

// StockGuard reserves campaign stock atomically across service replicas.
type StockGuard interface {
	Reserve(ctx context.Context, definitionID string, limit, consumed int) (bool, error)
	Release(ctx context.Context, definitionID string) error
}

type EventPublisher interface {
	PublishCouponClaimed(ctx context.Context, event models.CouponClaimedEvent) error
}

// ClaimService hands out coupon instances. Cache, Stock and Events are optional.
type ClaimService struct {
	Store   Store
	Cache   DefinitionCache
	Stock   StockGuard
	Events  EventPublisher
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	// Location is the campaign timezone weekday and time-window rules are read in.
	Location           *time.Location
	CodeInsertAttempts int
}

func NewClaimService(store Store, log *logger.Logger) *ClaimService {
	return &ClaimService{
		Store:              store,
		Logger:             log,
		Location:           time.UTC,
		CodeInsertAttempts: 3,
	}
}

// ---------------- CLAIM ----------------

// Claim assigns one instance of definitionID to userID. Every rule is evaluated
// against the single instant now. The only retries are code-collision re-inserts;
// a lost assignment race is resolved by inserting a fresh pre-assigned instance.
func (s *ClaimService) Claim(ctx context.Context, definitionID, userID string, now time.Time) (*models.ClaimResult, error) {
	started := time.Now()
	result, err := s.claim(ctx, definitionID, userID, now)
	s.Metrics.ObserveClaim(outcomeOf(err), time.Since(started))
	if err != nil {
		if IsBusinessError(err) {
			s.Logger.LogClaim("REJECT", definitionID, fmt.Sprintf("user=%s: %v", userID, err))
		} else {
			s.Logger.Error("CLAIM", fmt.Sprintf("claim %s for user %s failed: %v", definitionID, userID, err))
		}
		return nil, err
	}

	s.Logger.LogClaim("ASSIGN", definitionID, fmt.Sprintf("user=%s code=%s", userID, result.Code))
	s.publishClaimed(ctx, userID, *result)
	return result, nil
}

func (s *ClaimService) claim(ctx context.Context, definitionID, userID string, now time.Time) (*models.ClaimResult, error) {
	// Step 1: load definition
	def, err := s.loadDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if def == nil || !def.IsActive {
		return nil, ErrNotAvailable
	}

	// Step 2: eligibility in the campaign timezone
	if !IsEligible(def, now.In(s.location())) {
		return nil, ErrNotAvailable
	}

	// Step 3: per-user quota
	held, err := s.Store.CountUserHeld(ctx, def.ID, userID)
	if err != nil {
		return nil, transient("count user coupons", err)
	}
	if held >= def.PerUserLimit() {
		return nil, ErrQuotaExceeded
	}

	// Steps 4 and 5: campaign stock, then acquire an instance
	if def.MaxTotalRedemptions == nil {
		return s.acquire(ctx, s.Store, def, userID, now)
	}
	reserved, err := s.reserveStock(ctx, def)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return s.claimLocked(ctx, def, userID, now)
	}

	result, err := s.acquire(ctx, s.Store, def, userID, now)
	if err != nil {
		if relErr := s.Stock.Release(ctx, def.ID); relErr != nil {
			s.Logger.Warn("STOCK", fmt.Sprintf("failed to release stock unit for %s: %v", def.ID, relErr))
		}
		return nil, err
	}
	return result, nil
}

func (s *ClaimService) loadDefinition(ctx context.Context, id string) (*models.CouponDefinition, error) {
	if s.Cache != nil {
		def, err := s.Cache.Get(ctx, id)
		if err != nil {
			s.Logger.Warn("CACHE", fmt.Sprintf("definition cache read failed for %s: %v", id, err))
		} else if def != nil {
			return def, nil
		}
	}

	def, err := s.Store.GetDefinition(ctx, id)
	if err != nil {
		return nil, transient("load definition", err)
	}
	if def != nil && s.Cache != nil {
		if err := s.Cache.Set(ctx, def); err != nil {
			s.Logger.Debug("CACHE", fmt.Sprintf("definition cache write failed for %s: %v", id, err))
		}
	}
	return def, nil
}

// reserveStock takes a unit from the stock guard. It reports false without an
// error when no guard can answer, and the caller must then enforce the cap under
// the store's definition lock.
func (s *ClaimService) reserveStock(ctx context.Context, def *models.CouponDefinition) (bool, error) {
	limit := *def.MaxTotalRedemptions

	consumed, err := s.Store.CountConsumed(ctx, def.ID)
	if err != nil {
		return false, transient("count consumed stock", err)
	}
	if consumed >= limit {
		return false, ErrOutOfStock
	}
	if s.Stock == nil {
		return false, nil
	}

	ok, err := s.Stock.Reserve(ctx, def.ID, limit, consumed)
	if err != nil {
		s.Logger.Warn("STOCK", fmt.Sprintf("stock guard unavailable for %s, locking definition: %v", def.ID, err))
		return false, nil
	}
	if !ok {
		return false, ErrOutOfStock
	}
	return true, nil
}

// claimLocked re-counts consumption and acquires inside one transaction holding
// the definition's row lock.
func (s *ClaimService) claimLocked(ctx context.Context, def *models.CouponDefinition, userID string, now time.Time) (*models.ClaimResult, error) {
	var result *models.ClaimResult
	err := s.Store.WithDefinitionLock(ctx, def.ID, func(ctx context.Context, tx *couponDB.DB) error {
		consumed, err := tx.CountConsumed(ctx, def.ID)
		if err != nil {
			return transient("count consumed stock", err)
		}
		if consumed >= *def.MaxTotalRedemptions {
			return ErrOutOfStock
		}
		result, err = s.acquire(ctx, tx, def, userID, now)
		return err
	})
	switch {
	case err == nil:
		return result, nil
	case IsBusinessError(err), errors.Is(err, ErrTransientStore):
		return nil, err
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotAvailable
	default:
		return nil, transient("lock definition", err)
	}
}

func (s *ClaimService) acquire(ctx context.Context, store Store, def *models.CouponDefinition, userID string, now time.Time) (*models.ClaimResult, error) {
	inst, err := store.FindAvailableInstance(ctx, def.ID)
	if err != nil {
		return nil, transient("find available instance", err)
	}
	if inst == nil {
		inst, err = s.insertInstance(ctx, store, def, "", time.Time{})
		if err != nil {
			return nil, transient("generate instance", err)
		}
		s.Metrics.InstancesGenerated(metrics.ReasonOnDemand, 1)
	}

	assignedAt := now
	won, err := store.AssignInstance(ctx, inst.ID, userID, assignedAt)
	if err != nil {
		return nil, transient("assign instance", err)
	}
	if !won {
		// Someone else took it. Mint a new code already owned by this user.
		s.Metrics.LostRace()
		s.Logger.Debug("CLAIM", fmt.Sprintf("lost race on instance %s, minting a fresh code", inst.ID))
		inst, err = s.insertInstance(ctx, store, def, userID, assignedAt)
		if err != nil {
			return nil, transient("generate assigned instance", err)
		}
		s.Metrics.InstancesGenerated(metrics.ReasonContention, 1)
	}

	return &models.ClaimResult{
		Code:         inst.Code,
		DefinitionID: def.ID,
		InstanceID:   inst.ID,
		AssignedAt:   assignedAt,
	}, nil
}

// insertInstance stores a freshly generated instance, available when userID is
// empty and already assigned otherwise. Code collisions are re-rolled.
func (s *ClaimService) insertInstance(ctx context.Context, store Store, def *models.CouponDefinition, userID string, at time.Time) (*models.CouponInstance, error) {
	inst := &models.CouponInstance{
		ID:           utils.GenerateID(),
		DefinitionID: def.ID,
		Status:       models.InstanceStatusAvailable,
		CreatedAt:    time.Now().UTC(),
	}
	if userID != "" {
		inst.Status = models.InstanceStatusAssigned
		inst.AssignedToUserID = userID
		inst.AssignedAt = at
	}

	var err error
	for attempt := 0; attempt < s.codeAttempts(); attempt++ {
		inst.Code = utils.GenerateCouponCode(def.CodePrefix)
		err = store.InsertInstance(ctx, inst)
		if !errors.Is(err, couponDB.ErrDuplicateCode) {
			break
		}
		s.Logger.Warn("CLAIM", fmt.Sprintf("code collision on %s, regenerating", inst.Code))
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *ClaimService) publishClaimed(ctx context.Context, userID string, result models.ClaimResult) {
	if s.Events == nil {
		return
	}
	event := models.NewCouponClaimedEvent(userID, result)
	if err := s.Events.PublishCouponClaimed(ctx, event); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish claim of %s: %v", result.Code, err))
	}
}

// ---------------- INSTANCES ----------------

// GenerateInstances pre-generates count available instances for a definition.
func (s *ClaimService) GenerateInstances(ctx context.Context, definitionID string, count int) ([]string, error) {
	if count < 1 || count > MaxBulkInstances {
		return nil, ErrInvalidCount
	}
	def, err := s.Store.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, transient("load definition", err)
	}
	if def == nil {
		return nil, ErrDefinitionNotFound
	}

	now := time.Now().UTC()
	batch := make([]models.CouponInstance, count)
	for attempt := 0; attempt < s.codeAttempts(); attempt++ {
		for i := range batch {
			batch[i] = models.CouponInstance{
				ID:           utils.GenerateID(),
				DefinitionID: def.ID,
				Code:         utils.GenerateCouponCode(def.CodePrefix),
				Status:       models.InstanceStatusAvailable,
				CreatedAt:    now,
			}
		}
		err = s.Store.InsertInstances(ctx, batch)
		if !errors.Is(err, couponDB.ErrDuplicateCode) {
			break
		}
		s.Logger.Warn("CLAIM", fmt.Sprintf("code collision in bulk batch for %s, regenerating", def.ID))
	}
	if err != nil {
		return nil, transient("insert instances", err)
	}

	codes := make([]string, len(batch))
	for i, inst := range batch {
		codes[i] = inst.Code
	}
	s.Metrics.InstancesGenerated(metrics.ReasonBulk, len(codes))
	s.Logger.LogClaim("GENERATE", def.ID, fmt.Sprintf("%d instances", len(codes)))
	return codes, nil
}

// ListUserCoupons returns the instances currently assigned to userID.
func (s *ClaimService) ListUserCoupons(ctx context.Context, userID string) ([]models.CouponInstance, error) {
	insts, err := s.Store.ListInstancesByUser(ctx, userID)
	if err != nil {
		return nil, transient("list user coupons", err)
	}
	return insts, nil
}

// GetOwnedInstance returns ErrInstanceNotFound when the code is unknown or held by someone else.
func (s *ClaimService) GetOwnedInstance(ctx context.Context, userID, code string) (*models.CouponInstance, error) {
	inst, err := s.Store.GetInstanceByCode(ctx, code)
	if err != nil {
		return nil, transient("get instance", err)
	}
	if inst == nil || inst.Status != models.InstanceStatusAssigned || inst.AssignedToUserID != userID {
		return nil, ErrInstanceNotFound
	}
	return inst, nil
}

// ---------------- REDEMPTIONS ----------------

// RecordRedemption persists a point-of-sale redemption. Replays of the same
// instance are ignored and reported as false. The instance was already counted
// against stock when it was assigned, so the stock counter is not touched.
func (s *ClaimService) RecordRedemption(ctx context.Context, event models.CouponRedeemedEvent) (bool, error) {
	inst, err := s.Store.GetInstanceByCode(ctx, event.InstanceCode)
	if err != nil {
		return false, transient("get instance", err)
	}
	if inst == nil {
		return false, ErrInstanceNotFound
	}

	userID := event.UserID
	if userID == "" {
		userID = inst.AssignedToUserID
	}
	redeemedAt := event.RedeemedAt
	if redeemedAt.IsZero() {
		redeemedAt = time.Now().UTC()
	}

	inserted, err := s.Store.InsertRedemption(ctx, &models.RedemptionRecord{
		ID:           utils.GenerateID(),
		DefinitionID: inst.DefinitionID,
		InstanceID:   inst.ID,
		UserID:       userID,
		RedeemedAt:   redeemedAt,
	})
	if err != nil {
		return false, transient("insert redemption", err)
	}
	if !inserted {
		s.Logger.Debug("REDEEM", fmt.Sprintf("redemption of %s already recorded", inst.Code))
		return false, nil
	}

	s.Logger.LogClaim("REDEEM", inst.DefinitionID, fmt.Sprintf("code=%s user=%s", inst.Code, userID))
	return true, nil
}

// Stats summarises a definition's inventory.
func (s *ClaimService) Stats(ctx context.Context, definitionID string) (*models.DefinitionStats, error) {
	def, err := s.Store.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, transient("load definition", err)
	}
	if def == nil {
		return nil, ErrDefinitionNotFound
	}
	stats, err := s.Store.DefinitionStats(ctx, def)
	if err != nil {
		return nil, transient("definition stats", err)
	}
	return stats, nil
}

func (s *ClaimService) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *ClaimService) codeAttempts() int {
	if s.CodeInsertAttempts < 1 {
		return 1
	}
	return s.CodeInsertAttempts
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrNotAvailable):
		return metrics.OutcomeNotAvailable
	case errors.Is(err, ErrQuotaExceeded):
		return metrics.OutcomeQuotaExceeded
	case errors.Is(err, ErrOutOfStock):
		return metrics.OutcomeOutOfStock
	default:
		return metrics.OutcomeTransient
	}
}
