package coupon

import (
	"errors"
	"fmt"
)

var (
	ErrNotAvailable   = errors.New("coupon is not available")
	ErrQuotaExceeded  = errors.New("coupon limit reached for this user")
	ErrOutOfStock     = errors.New("coupon is out of stock")
	ErrTransientStore = errors.New("coupon store temporarily unavailable")

	ErrDefinitionNotFound = errors.New("coupon definition not found")
	ErrInstanceNotFound   = errors.New("coupon instance not found")
	ErrInvalidCount       = errors.New("count must be between 1 and 1000")
)

// transient tags a store failure so errors.Is matches both ErrTransientStore and the cause.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrTransientStore, err))
}

// IsBusinessError reports whether err is a terminal claim rejection rather than a store fault.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrNotAvailable) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrOutOfStock)
}
