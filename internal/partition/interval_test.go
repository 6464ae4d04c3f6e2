package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseIntervalUnit(t *testing.T) {
	for _, in := range []string{"monthly", "Quarterly", " yearly "} {
		_, err := ParseIntervalUnit(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseIntervalUnit("weekly")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnsupportedInterval))
	assert.False(t, errors.IsRetryable(err))
}

func TestPeriodStartAndName(t *testing.T) {
	ts := time.Date(2026, 8, 17, 13, 45, 0, 0, time.FixedZone("PDT", -7*3600))

	tests := []struct {
		unit  types.IntervalUnit
		start time.Time
		next  time.Time
		name  string
	}{
		{types.IntervalMonthly, date(2026, 8, 1), date(2026, 9, 1), "audit_logs_2026_08"},
		{types.IntervalQuarterly, date(2026, 7, 1), date(2026, 10, 1), "audit_logs_2026_q3"},
		{types.IntervalYearly, date(2026, 1, 1), date(2027, 1, 1), "audit_logs_2026"},
	}
	for _, tt := range tests {
		t.Run(string(tt.unit), func(t *testing.T) {
			start := PeriodStart(tt.unit, ts)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.next, NextPeriod(tt.unit, start))
			assert.Equal(t, tt.name, PartitionName("audit_logs", tt.unit, start))

			unit, parsed, ok := ParsePartitionName("audit_logs", tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.unit, unit)
			assert.Equal(t, tt.start, parsed)
		})
	}
}

func TestPeriodStart_UsesUTC(t *testing.T) {
	// 23:30 on Dec 31 in New York is already January in UTC.
	ny := time.FixedZone("EST", -5*3600)
	ts := time.Date(2025, 12, 31, 23, 30, 0, 0, ny)
	assert.Equal(t, date(2026, 1, 1), PeriodStart(types.IntervalMonthly, ts))
}

func TestParsePartitionName_Rejects(t *testing.T) {
	for _, name := range []string{
		"audit_logs",
		"audit_logs_",
		"audit_logs_26",
		"audit_logs_2026_13",
		"audit_logs_2026_00",
		"audit_logs_2026_q5",
		"audit_logs_2026_q0",
		"audit_logs_2026_1",
		"audit_logs_2026_01_extra",
		"audit_logs_archive_2026",
		"other_2026_01",
		"audit_logs_abcd",
	} {
		_, _, ok := ParsePartitionName("audit_logs", name)
		assert.False(t, ok, name)
	}
}

func TestPeriodsCovering(t *testing.T) {
	starts := PeriodsCovering(types.IntervalQuarterly, date(2026, 2, 10), date(2026, 10, 1))
	assert.Equal(t, []time.Time{date(2026, 1, 1), date(2026, 4, 1), date(2026, 7, 1)}, starts)

	assert.Empty(t, PeriodsCovering(types.IntervalMonthly, date(2026, 3, 1), date(2026, 3, 1)))
}
