package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"ms-coupons/internal/models"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// ErrDuplicateCode is returned when an insert collides with an existing code
// on the coupon_instances unique index.
var ErrDuplicateCode = errors.New("coupon code already exists")

type DB struct {
	Bun *bun.DB

	// tx is set on the copy handed to a WithDefinitionLock callback.
	tx bun.IDB
}

// LockedFunc runs against a store bound to the locking transaction.
type LockedFunc func(ctx context.Context, store *DB) error

func (d *DB) conn() bun.IDB {
	if d.tx != nil {
		return d.tx
	}
	return d.Bun
}

// CreateTables creates the coupon tables from the bun models. Postgres deployments
// use the SQL migrations instead; this is for the seeder and tests.
func (d *DB) CreateTables(ctx context.Context) error {
	tables := []interface{}{
		(*models.CouponDefinition)(nil),
		(*models.CouponInstance)(nil),
		(*models.RedemptionRecord)(nil),
	}
	for _, m := range tables {
		if _, err := d.conn().NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ---------------- DEFINITIONS ----------------

// GetDefinition → fetch one definition, nil when absent
func (d *DB) GetDefinition(ctx context.Context, id string) (*models.CouponDefinition, error) {
	var def models.CouponDefinition
	err := d.conn().NewSelect().
		Model(&def).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// CreateDefinition → insert a campaign (admin tooling and seeding only)
func (d *DB) CreateDefinition(ctx context.Context, def *models.CouponDefinition) error {
	_, err := d.conn().NewInsert().Model(def).Exec(ctx)
	return err
}

// WithDefinitionLock runs fn in a transaction that holds a row lock on the
// definition, so capped claims for it are serialised by the store. SQLite has no
// row locks; its single writer gives the same ordering.
func (d *DB) WithDefinitionLock(ctx context.Context, definitionID string, fn LockedFunc) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var def models.CouponDefinition
		q := tx.NewSelect().
			Model(&def).
			Column("id").
			Where("id = ?", definitionID)
		if tx.Dialect().Name() == dialect.PG {
			q = q.For("NO KEY UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			return err
		}
		return fn(ctx, &DB{Bun: d.Bun, tx: tx})
	})
}

// ---------------- COUNTS ----------------

// CountUserHeld → instances the user holds for a definition plus redemptions not
// backed by one of those instances (archived or never linked). A redeemed code the
// user still holds counts once, not once as assigned and again as redeemed.
func (d *DB) CountUserHeld(ctx context.Context, definitionID, userID string) (int, error) {
	assigned, err := d.conn().NewSelect().
		Model((*models.CouponInstance)(nil)).
		Where("definition_id = ?", definitionID).
		Where("assigned_to_user_id = ?", userID).
		Where("status = ?", models.InstanceStatusAssigned).
		Count(ctx)
	if err != nil {
		return 0, err
	}
	redeemed, err := d.detachedRedemptions(definitionID).
		Where("user_id = ?", userID).
		Count(ctx)
	if err != nil {
		return 0, err
	}
	return assigned + redeemed, nil
}

// detachedRedemptions selects redemptions whose instance is not a live assigned
// instance of the definition, so a redeemed code is never counted twice.
func (d *DB) detachedRedemptions(definitionID string) *bun.SelectQuery {
	live := d.conn().NewSelect().
		Model((*models.CouponInstance)(nil)).
		Column("id").
		Where("definition_id = ?", definitionID).
		Where("status = ?", models.InstanceStatusAssigned)

	return d.conn().NewSelect().
		Model((*models.RedemptionRecord)(nil)).
		Where("definition_id = ?", definitionID).
		Where("(instance_id IS NULL OR instance_id NOT IN (?))", live)
}

// CountRedemptions → all redemptions for a definition
func (d *DB) CountRedemptions(ctx context.Context, definitionID string) (int, error) {
	return d.conn().NewSelect().
		Model((*models.RedemptionRecord)(nil)).
		Where("definition_id = ?", definitionID).
		Count(ctx)
}

// CountByStatus → instances of a definition in the given status
func (d *DB) CountByStatus(ctx context.Context, definitionID string, status models.InstanceStatus) (int, error) {
	return d.conn().NewSelect().
		Model((*models.CouponInstance)(nil)).
		Where("definition_id = ?", definitionID).
		Where("status = ?", status).
		Count(ctx)
}

// CountConsumed → assigned instances plus detached redemptions, the figure campaign caps are checked against
func (d *DB) CountConsumed(ctx context.Context, definitionID string) (int, error) {
	assigned, err := d.CountByStatus(ctx, definitionID, models.InstanceStatusAssigned)
	if err != nil {
		return 0, err
	}
	redeemed, err := d.detachedRedemptions(definitionID).Count(ctx)
	if err != nil {
		return 0, err
	}
	return assigned + redeemed, nil
}

// DefinitionStats → inventory summary for a definition
func (d *DB) DefinitionStats(ctx context.Context, def *models.CouponDefinition) (*models.DefinitionStats, error) {
	available, err := d.CountByStatus(ctx, def.ID, models.InstanceStatusAvailable)
	if err != nil {
		return nil, err
	}
	assigned, err := d.CountByStatus(ctx, def.ID, models.InstanceStatusAssigned)
	if err != nil {
		return nil, err
	}
	redeemed, err := d.CountRedemptions(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	return &models.DefinitionStats{
		CouponID:            def.ID,
		Available:           available,
		Assigned:            assigned,
		Redeemed:            redeemed,
		MaxTotalRedemptions: def.MaxTotalRedemptions,
	}, nil
}

// ---------------- INSTANCES ----------------

// FindAvailableInstance → any one available instance, nil when the pool is empty
func (d *DB) FindAvailableInstance(ctx context.Context, definitionID string) (*models.CouponInstance, error) {
	var inst models.CouponInstance
	err := d.conn().NewSelect().
		Model(&inst).
		Where("definition_id = ?", definitionID).
		Where("status = ?", models.InstanceStatusAvailable).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// InsertInstance → insert one instance; ErrDuplicateCode on a code collision.
// The conflict is absorbed by the statement so an open transaction stays usable.
func (d *DB) InsertInstance(ctx context.Context, inst *models.CouponInstance) error {
	res, err := d.conn().NewInsert().
		Model(inst).
		On("CONFLICT (code) DO NOTHING").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateCode
	}
	return nil
}

// InsertInstances → bulk insert of pre-generated instances
func (d *DB) InsertInstances(ctx context.Context, insts []models.CouponInstance) error {
	if len(insts) == 0 {
		return nil
	}
	_, err := d.conn().NewInsert().Model(&insts).Exec(ctx)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

// AssignInstance flips an instance from available to assigned, conditioned on it
// still being available. It reports false when another writer got there first.
func (d *DB) AssignInstance(ctx context.Context, instanceID, userID string, at time.Time) (bool, error) {
	res, err := d.conn().NewUpdate().
		Model((*models.CouponInstance)(nil)).
		Set("status = ?", models.InstanceStatusAssigned).
		Set("assigned_to_user_id = ?", userID).
		Set("assigned_at = ?", at).
		Where("id = ?", instanceID).
		Where("status = ?", models.InstanceStatusAvailable).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetInstanceByCode → fetch one instance by code, nil when absent
func (d *DB) GetInstanceByCode(ctx context.Context, code string) (*models.CouponInstance, error) {
	var inst models.CouponInstance
	err := d.conn().NewSelect().
		Model(&inst).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstancesByUser → instances assigned to a user, newest first
func (d *DB) ListInstancesByUser(ctx context.Context, userID string) ([]models.CouponInstance, error) {
	var insts []models.CouponInstance
	err := d.conn().NewSelect().
		Model(&insts).
		Where("assigned_to_user_id = ?", userID).
		Where("status = ?", models.InstanceStatusAssigned).
		Order("assigned_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if insts == nil {
		insts = []models.CouponInstance{}
	}
	return insts, nil
}

// ---------------- REDEMPTIONS ----------------

// InsertRedemption → record a redemption; false when the instance was already redeemed
func (d *DB) InsertRedemption(ctx context.Context, rec *models.RedemptionRecord) (bool, error) {
	_, err := d.conn().NewInsert().Model(rec).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
