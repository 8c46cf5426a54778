package models

import (
	"time"

	"github.com/uptrace/bun"
)

type InstanceStatus string

const (
	InstanceStatusAvailable InstanceStatus = "available"
	InstanceStatusAssigned  InstanceStatus = "assigned"
)

// TimeWindow is a local time-of-day range, both ends inclusive, formatted "HH:MM".
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CouponDefinition is a campaign-level offer. The allocator only reads it.
type CouponDefinition struct {
	bun.BaseModel `bun:"table:coupon_definitions"`

	ID                  string       `bun:"id,pk" json:"id"`
	MerchantID          string       `bun:"merchant_id,notnull" json:"merchant_id"`
	Title               string       `bun:"title" json:"title"`
	IsActive            bool         `bun:"is_active,notnull" json:"is_active"`
	StartsAt            *time.Time   `bun:"starts_at" json:"starts_at,omitempty"`
	ExpiresAt           *time.Time   `bun:"expires_at" json:"expires_at,omitempty"`
	DaysOfWeek          []int        `bun:"days_of_week" json:"days_of_week"`
	TimeWindows         []TimeWindow `bun:"time_windows" json:"time_windows"`
	MaxTotalRedemptions *int         `bun:"max_total_redemptions" json:"max_total_redemptions,omitempty"`
	MaxPerUser          int          `bun:"max_per_user,notnull,default:1" json:"max_per_user"`
	CodePrefix          string       `bun:"code_prefix,notnull" json:"code_prefix"`
	CreatedAt           time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// PerUserLimit returns max_per_user, treating unset values as 1.
func (d *CouponDefinition) PerUserLimit() int {
	if d.MaxPerUser <= 0 {
		return 1
	}
	return d.MaxPerUser
}

// CouponInstance is one physical redeemable code.
type CouponInstance struct {
	bun.BaseModel `bun:"table:coupon_instances"`

	ID               string         `bun:"id,pk" json:"id"`
	DefinitionID     string         `bun:"definition_id,notnull" json:"definition_id"`
	Code             string         `bun:"code,notnull,unique" json:"code"`
	Status           InstanceStatus `bun:"status,notnull" json:"status"`
	AssignedToUserID string         `bun:"assigned_to_user_id,nullzero" json:"assigned_to_user_id,omitempty"`
	AssignedAt       time.Time      `bun:"assigned_at,nullzero" json:"assigned_at,omitempty"`
	CreatedAt        time.Time      `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// RedemptionRecord is the historical fact that a user used an instance at point of sale.
type RedemptionRecord struct {
	bun.BaseModel `bun:"table:coupon_redemptions"`

	ID           string    `bun:"id,pk" json:"id"`
	DefinitionID string    `bun:"definition_id,notnull" json:"definition_id"`
	InstanceID   string    `bun:"instance_id,nullzero,unique" json:"instance_id,omitempty"`
	UserID       string    `bun:"user_id,notnull" json:"user_id"`
	RedeemedAt   time.Time `bun:"redeemed_at,notnull" json:"redeemed_at"`
}

// DefinitionStats summarises a campaign's inventory.
type DefinitionStats struct {
	CouponID            string `json:"coupon_id"`
	Available           int    `json:"available"`
	Assigned            int    `json:"assigned"`
	Redeemed            int    `json:"redeemed"`
	MaxTotalRedemptions *int   `json:"max_total_redemptions,omitempty"`
}
