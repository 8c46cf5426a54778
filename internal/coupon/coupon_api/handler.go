package coupon_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-coupons/internal/auth"
	"ms-coupons/internal/coupon"
	"ms-coupons/internal/coupon/qr"
	"ms-coupons/internal/logger"
	"ms-coupons/internal/models"
	"ms-coupons/internal/utils"

	"github.com/go-chi/chi/v5"
)

type CouponService interface {
	Claim(ctx context.Context, definitionID, userID string, now time.Time) (*models.ClaimResult, error)
	GenerateInstances(ctx context.Context, definitionID string, count int) ([]string, error)
	ListUserCoupons(ctx context.Context, userID string) ([]models.CouponInstance, error)
	GetOwnedInstance(ctx context.Context, userID, code string) (*models.CouponInstance, error)
	Stats(ctx context.Context, definitionID string) (*models.DefinitionStats, error)
}

type Handler struct {
	CouponService CouponService
	QRGenerator   *qr.QRGenerator
	Logger        *logger.Logger
	ClaimTimeout  time.Duration
	Now           func() time.Time
}

func NewHandler(service CouponService, qrGen *qr.QRGenerator, log *logger.Logger, claimTimeout time.Duration) *Handler {
	return &Handler{
		CouponService: service,
		QRGenerator:   qrGen,
		Logger:        log,
		ClaimTimeout:  claimTimeout,
		Now:           time.Now,
	}
}

// Mount registers citizen routes behind userAuth and admin routes behind adminAuth.
func (h *Handler) Mount(r chi.Router, userAuth, adminAuth func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(userAuth)
		r.Post("/coupons/{definitionId}/claim", h.Claim)
		r.Get("/coupons/mine", h.Mine)
		r.Get("/coupons/instances/{code}/qr", h.QR)
	})

	r.Group(func(r chi.Router) {
		r.Use(adminAuth)
		r.Post("/admin/coupons/{definitionId}/instances", h.GenerateInstances)
		r.Get("/admin/coupons/{definitionId}/stats", h.Stats)
	})
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	definitionID := chi.URLParam(r, "definitionId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("Claim: definitionId=%s user=%s", definitionID, userID))

	ctx := r.Context()
	if h.ClaimTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.ClaimTimeout)
		defer cancel()
	}

	result, err := h.CouponService.Claim(ctx, definitionID, userID, h.Now())
	if err != nil {
		h.writeServiceError(w, "Claim", err)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, result.ToResponse()); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Claim: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", "Claim: response sent successfully")
}

func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	insts, err := h.CouponService.ListUserCoupons(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, "Mine", err)
		return
	}

	out := make([]models.ClaimResponse, 0, len(insts))
	for _, inst := range insts {
		out = append(out, models.ClaimResult{
			Code:         inst.Code,
			DefinitionID: inst.DefinitionID,
			InstanceID:   inst.ID,
			AssignedAt:   inst.AssignedAt,
		}.ToResponse())
	}
	if err := utils.WriteJSON(w, http.StatusOK, out); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Mine: failed to encode response: %v", err))
	}
}

func (h *Handler) QR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	userID := auth.UserID(r.Context())

	inst, err := h.CouponService.GetOwnedInstance(r.Context(), userID, code)
	if err != nil {
		h.writeServiceError(w, "QR", err)
		return
	}

	png, err := h.QRGenerator.GeneratePNG(inst.Code)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("QR: failed to render %s: %v", inst.Code, err))
		utils.WriteError(w, http.StatusInternalServerError, "failed to render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) GenerateInstances(w http.ResponseWriter, r *http.Request) {
	definitionID := chi.URLParam(r, "definitionId")

	var req models.GenerateInstancesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.Logger.Info("API", fmt.Sprintf("GenerateInstances: definitionId=%s count=%d", definitionID, req.Count))

	codes, err := h.CouponService.GenerateInstances(r.Context(), definitionID, req.Count)
	if err != nil {
		h.writeServiceError(w, "GenerateInstances", err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, models.GenerateInstancesResponse{
		Generated: len(codes),
		Codes:     codes,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	definitionID := chi.URLParam(r, "definitionId")

	stats, err := h.CouponService.Stats(r.Context(), definitionID)
	if err != nil {
		h.writeServiceError(w, "Stats", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}

// writeServiceError maps service errors to status codes. Store details stay in the log.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Debug("API", fmt.Sprintf("%s: %v", op, err))
	}
	utils.WriteError(w, status, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, coupon.ErrNotAvailable):
		return http.StatusBadRequest, coupon.ErrNotAvailable.Error()
	case errors.Is(err, coupon.ErrQuotaExceeded):
		return http.StatusBadRequest, coupon.ErrQuotaExceeded.Error()
	case errors.Is(err, coupon.ErrOutOfStock):
		return http.StatusBadRequest, coupon.ErrOutOfStock.Error()
	case errors.Is(err, coupon.ErrInvalidCount):
		return http.StatusBadRequest, coupon.ErrInvalidCount.Error()
	case errors.Is(err, coupon.ErrDefinitionNotFound):
		return http.StatusNotFound, coupon.ErrDefinitionNotFound.Error()
	case errors.Is(err, coupon.ErrInstanceNotFound):
		return http.StatusNotFound, coupon.ErrInstanceNotFound.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, coupon.ErrTransientStore):
		return http.StatusServiceUnavailable, "service temporarily unavailable, please retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
