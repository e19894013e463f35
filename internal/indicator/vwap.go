package indicator

import (
	"fmt"
	"math"
	"time"

	"tradeforge/internal/domain"
)

// VWAPReset selects when the cumulative VWAP sums restart.
type VWAPReset string

const (
	// VWAPResetNone accumulates across the whole series.
	VWAPResetNone VWAPReset = "none"
	// VWAPResetDaily restarts at each calendar day boundary.
	VWAPResetDaily VWAPReset = "daily"
)

// ParseVWAPReset validates a reset name. The empty string means none.
func ParseVWAPReset(s string) (VWAPReset, error) {
	switch VWAPReset(s) {
	case "", VWAPResetNone:
		return VWAPResetNone, nil
	case VWAPResetDaily:
		return VWAPResetDaily, nil
	}
	return "", domain.NewValidationError("vwap.reset", "unknown reset %q (want none or daily)", s)
}

// VWAP is cumulative(typical price × volume) / cumulative(volume), with
// typical price (H+L+C)/3. Day boundaries for VWAPResetDaily are taken in
// loc; a nil loc means UTC. Entries stay undefined until volume accumulates.
func VWAP(bars []domain.Bar, reset VWAPReset, loc *time.Location) (Series, error) {
	if len(bars) == 0 {
		return nil, &domain.DataError{Message: "vwap requires at least one bar"}
	}
	if reset != VWAPResetNone && reset != VWAPResetDaily {
		return nil, domain.NewValidationError("vwap.reset", "unknown reset %q", reset)
	}
	if loc == nil {
		loc = time.UTC
	}

	out := nanSeries(len(bars))
	var sumPV, sumV float64
	var day string
	for i, b := range bars {
		if reset == VWAPResetDaily {
			d := b.Timestamp.In(loc).Format(time.DateOnly)
			if d != day {
				sumPV, sumV, day = 0, 0, d
			}
		}
		if b.Volume < 0 {
			return nil, &domain.DataError{Message: fmt.Sprintf("negative volume %d", b.Volume), Index: i}
		}
		tp := (b.High + b.Low + b.Close) / 3
		sumPV += tp * float64(b.Volume)
		sumV += float64(b.Volume)
		if sumV > 0 {
			out[i] = sumPV / sumV
		} else {
			out[i] = math.NaN()
		}
	}
	return out, nil
}
