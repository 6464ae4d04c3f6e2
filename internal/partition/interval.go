package partition

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
)

// ParseIntervalUnit validates an interval unit name.
func ParseIntervalUnit(unit string) (types.IntervalUnit, error) {
	switch u := types.IntervalUnit(strings.ToLower(strings.TrimSpace(unit))); u {
	case types.IntervalMonthly, types.IntervalQuarterly, types.IntervalYearly:
		return u, nil
	}
	return "", errors.NewError(errors.ErrCodeUnsupportedInterval,
		fmt.Sprintf("unsupported interval unit %q", unit)).
		WithComponent("partition").
		WithDetail("supported", []string{"monthly", "quarterly", "yearly"})
}

// PeriodStart returns the UTC start of the period containing t.
func PeriodStart(unit types.IntervalUnit, t time.Time) time.Time {
	t = t.UTC()
	switch unit {
	case types.IntervalQuarterly:
		month := ((t.Month()-1)/3)*3 + 1
		return time.Date(t.Year(), month, 1, 0, 0, 0, 0, time.UTC)
	case types.IntervalYearly:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// NextPeriod returns the start of the period after the one starting at start.
func NextPeriod(unit types.IntervalUnit, start time.Time) time.Time {
	switch unit {
	case types.IntervalQuarterly:
		return start.AddDate(0, 3, 0)
	case types.IntervalYearly:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// PeriodsCovering returns the start of every period intersecting [from, to).
func PeriodsCovering(unit types.IntervalUnit, from, to time.Time) []time.Time {
	var starts []time.Time
	for start := PeriodStart(unit, from); start.Before(to); start = NextPeriod(unit, start) {
		starts = append(starts, start)
	}
	return starts
}

// PartitionName formats the physical table name for the period starting at
// start: {base}_{YYYY}_{MM}, {base}_{YYYY}_q{Q} or {base}_{YYYY}.
func PartitionName(base string, unit types.IntervalUnit, start time.Time) string {
	start = start.UTC()
	switch unit {
	case types.IntervalQuarterly:
		return fmt.Sprintf("%s_%04d_q%d", base, start.Year(), (int(start.Month())-1)/3+1)
	case types.IntervalYearly:
		return fmt.Sprintf("%s_%04d", base, start.Year())
	default:
		return fmt.Sprintf("%s_%04d_%02d", base, start.Year(), int(start.Month()))
	}
}

// NewMetadata builds the metadata of the period starting at start.
func NewMetadata(table string, unit types.IntervalUnit, start time.Time, policy string) types.PartitionMetadata {
	start = PeriodStart(unit, start)
	return types.PartitionMetadata{
		Table:               table,
		Name:                PartitionName(table, unit, start),
		StartDate:           start,
		EndDate:             NextPeriod(unit, start),
		RetentionPolicyName: policy,
	}
}

// ParsePartitionName is the inverse of PartitionName. It reports false for
// names that do not belong to base or do not follow the convention.
func ParsePartitionName(base, name string) (types.IntervalUnit, time.Time, bool) {
	rest, ok := strings.CutPrefix(name, base+"_")
	if !ok {
		return "", time.Time{}, false
	}

	parts := strings.Split(rest, "_")
	if len(parts[0]) != 4 {
		return "", time.Time{}, false
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 1 {
		return "", time.Time{}, false
	}

	switch len(parts) {
	case 1:
		return types.IntervalYearly, time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), true
	case 2:
		suffix := parts[1]
		if len(suffix) == 2 && suffix[0] == 'q' {
			q, err := strconv.Atoi(suffix[1:])
			if err != nil || q < 1 || q > 4 {
				return "", time.Time{}, false
			}
			return types.IntervalQuarterly, time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC), true
		}
		if len(suffix) != 2 {
			return "", time.Time{}, false
		}
		month, err := strconv.Atoi(suffix)
		if err != nil || month < 1 || month > 12 {
			return "", time.Time{}, false
		}
		return types.IntervalMonthly, time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
	}
	return "", time.Time{}, false
}
