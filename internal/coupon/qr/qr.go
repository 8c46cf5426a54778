package qr

import (
	"errors"

	"github.com/skip2/go-qrcode"
)

type QRGenerator struct {
	size int
}

func NewQRGenerator(size int) *QRGenerator {
	if size <= 0 {
		size = 256
	}
	return &QRGenerator{size: size}
}

// GeneratePNG renders the coupon code as a PNG for scanning at the point of sale.
func (q *QRGenerator) GeneratePNG(code string) ([]byte, error) {
	if code == "" {
		return nil, errors.New("empty coupon code")
	}
	return qrcode.Encode(code, qrcode.Medium, q.size)
}
