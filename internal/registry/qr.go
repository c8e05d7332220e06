package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"barlink-service/internal/models"
)

var ErrMalformedPayload = errors.New("malformed seat code")

// DefaultBarPrefix matches codes printed for the stock venue naming scheme,
// e.g. "bar1;seat_12".
const DefaultBarPrefix = "bar"

// QRParser validates scanned seat codes. The shape is fixed at
// "<prefix><digits>;seat_<digits>"; anything else is rejected before the
// registry is consulted.
type QRParser struct {
	re *regexp.Regexp
}

func NewQRParser(barPrefix string) *QRParser {
	if barPrefix == "" {
		barPrefix = DefaultBarPrefix
	}
	return &QRParser{
		re: regexp.MustCompile(fmt.Sprintf(`^%s\d+;seat_\d+$`, regexp.QuoteMeta(barPrefix))),
	}
}

func (p *QRParser) Parse(payload string) (models.SeatRef, error) {
	if !p.re.MatchString(payload) {
		return models.SeatRef{}, ErrMalformedPayload
	}
	barID, seatID, _ := strings.Cut(payload, ";")
	return models.SeatRef{BarID: barID, SeatID: seatID}, nil
}
