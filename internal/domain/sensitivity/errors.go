package sensitivity

import (
	"errors"
	"fmt"

	"github.com/veyra/demandlens/internal/domain/model"
)

// Sentinel kinds for estimation errors. ErrNoSegment wraps
// ErrInsufficientControls: a product without a segment has an empty control
// pool by definition, but the audit trail keeps the more specific reason.
var (
	ErrInsufficientControls = errors.New("insufficient control products")
	ErrInsufficientWindow   = errors.New("insufficient periods around shock")
	ErrUnsupportedMetric    = errors.New("unsupported target metric")

	ErrNoSegment = fmt.Errorf("no segment assignment: %w", ErrInsufficientControls)
)

// SkipReasonFor maps an estimation error to its audit reason code. The
// boolean is false for unknown errors, which are not skips.
func SkipReasonFor(err error) (model.SkipReason, bool) {
	switch {
	case errors.Is(err, ErrNoSegment):
		return model.SkipNoSegment, true
	case errors.Is(err, ErrInsufficientControls):
		return model.SkipInsufficientControls, true
	case errors.Is(err, ErrInsufficientWindow):
		return model.SkipInsufficientWindow, true
	default:
		return "", false
	}
}
