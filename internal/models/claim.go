package models

import "time"

// ClaimResult is what a successful claim hands back to the caller.
type ClaimResult struct {
	Code         string
	DefinitionID string
	InstanceID   string
	AssignedAt   time.Time
}

type ClaimResponse struct {
	Code       string `json:"code"`
	CouponID   string `json:"coupon_id"`
	AssignedAt string `json:"assigned_at"`
}

func (r ClaimResult) ToResponse() ClaimResponse {
	return ClaimResponse{
		Code:       r.Code,
		CouponID:   r.DefinitionID,
		AssignedAt: r.AssignedAt.UTC().Format(time.RFC3339),
	}
}

type GenerateInstancesRequest struct {
	Count int `json:"count"`
}

type GenerateInstancesResponse struct {
	Generated int      `json:"generated"`
	Codes     []string `json:"codes"`
}
