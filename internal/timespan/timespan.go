package timespan

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Unit is the unit applied to a bare number without a suffix.
type Unit string

const (
	Seconds Unit = "s"
	Minutes Unit = "m"
	Hours   Unit = "h"
	Days    Unit = "d"
)

var exprPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)([smhd])?$`)

// Parse resolves a free-form duration expression ("30m", "2h", "45", "1.5h")
// to a duration. A missing suffix applies defaultUnit; anything the grammar
// rejects gets one more chance as a bare number; total failure (empty,
// non-numeric, negative) yields fallback. Parse never fails.
func Parse(expr string, defaultUnit Unit, fallback time.Duration) time.Duration {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fallback
	}

	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		// Bare-number rescue for shapes the grammar rejects ("1e3", "+5").
		f, err := strconv.ParseFloat(expr, 64)
		if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			return fallback
		}
		return scale(f, defaultUnit)
	}

	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return fallback
	}

	unit := defaultUnit
	if m[2] != "" {
		unit = Unit(m[2])
	}
	return scale(f, unit)
}

// scale rounds to whole milliseconds so fractional inputs like "1.5h" stay
// exact on the wire.
func scale(magnitude float64, unit Unit) time.Duration {
	ms := magnitude * float64(unitMillis(unit))
	return time.Duration(math.Round(ms)) * time.Millisecond
}

func unitMillis(unit Unit) int64 {
	switch unit {
	case Seconds:
		return 1000
	case Minutes:
		return 60 * 1000
	case Hours:
		return 60 * 60 * 1000
	case Days:
		return 24 * 60 * 60 * 1000
	default:
		return 60 * 1000
	}
}
