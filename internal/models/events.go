package models

import (
	"time"

	"github.com/google/uuid"
)

// CouponClaimedEvent is published after an instance is assigned to a user.
type CouponClaimedEvent struct {
	EventID      string    `json:"event_id"`
	DefinitionID string    `json:"definition_id"`
	InstanceID   string    `json:"instance_id"`
	Code         string    `json:"code"`
	UserID       string    `json:"user_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}

func NewCouponClaimedEvent(userID string, result ClaimResult) CouponClaimedEvent {
	return CouponClaimedEvent{
		EventID:      uuid.NewString(),
		DefinitionID: result.DefinitionID,
		InstanceID:   result.InstanceID,
		Code:         result.Code,
		UserID:       userID,
		AssignedAt:   result.AssignedAt,
	}
}

// CouponRedeemedEvent is emitted by the point-of-sale side when a code is used.
type CouponRedeemedEvent struct {
	InstanceCode string    `json:"instance_code"`
	UserID       string    `json:"user_id"`
	RedeemedAt   time.Time `json:"redeemed_at"`
}
