package partition

import (
	"fmt"
	"time"

	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/utils"
)

// Recommendation thresholds.
const (
	maxPartitionsBeforeWiden = 50
	maxAverageBytes          = 50 << 30
	emptySlack               = 2
)

// TableStats aggregates the partitions of one table.
type TableStats struct {
	Table            string    `json:"table"`
	Interval         string    `json:"interval"`
	PartitionCount   int       `json:"partition_count"`
	TotalSizeBytes   int64     `json:"total_size_bytes"`
	AverageSizeBytes int64     `json:"average_size_bytes"`
	EmptyPartitions  int       `json:"empty_partitions"`
	Oldest           time.Time `json:"oldest,omitempty"`
	Newest           time.Time `json:"newest,omitempty"`
	Recommendations  []string  `json:"recommendations,omitempty"`
}

// Stats summarizes table from its index.
func (m *Manager) Stats(table string) (TableStats, error) {
	spec, ok := m.tables[table]
	if !ok {
		return TableStats{}, errors.NewError(errors.ErrCodePartitionNotFound,
			fmt.Sprintf("table %s is not partitioned", table)).WithComponent("partition")
	}

	parts := m.indexes[table].All()
	stats := TableStats{
		Table:          table,
		Interval:       string(spec.Interval),
		PartitionCount: len(parts),
	}
	for _, p := range parts {
		stats.TotalSizeBytes += p.SizeBytes
		if p.SizeBytes <= m.config.EmptyPartitionBytes {
			stats.EmptyPartitions++
		}
	}
	if len(parts) > 0 {
		stats.AverageSizeBytes = stats.TotalSizeBytes / int64(len(parts))
		stats.Oldest = parts[0].StartDate
		stats.Newest = parts[len(parts)-1].StartDate
	}
	stats.Recommendations = recommend(stats, spec)
	return stats, nil
}

// AllStats summarizes every table in configuration order.
func (m *Manager) AllStats() []TableStats {
	out := make([]TableStats, 0, len(m.tables))
	for _, spec := range m.Tables() {
		stats, _ := m.Stats(spec.Name)
		out = append(out, stats)
	}
	return out
}

func recommend(stats TableStats, spec TableSpec) []string {
	var recs []string
	if stats.PartitionCount > maxPartitionsBeforeWiden && spec.Interval != "yearly" {
		recs = append(recs, fmt.Sprintf("%d partitions exceed %d; consider a wider interval than %s",
			stats.PartitionCount, maxPartitionsBeforeWiden, spec.Interval))
	}
	if stats.EmptyPartitions > spec.Lookahead+emptySlack {
		recs = append(recs, fmt.Sprintf("%d empty partitions with a lookahead of %d; consider reducing lookahead",
			stats.EmptyPartitions, spec.Lookahead))
	}
	if stats.AverageSizeBytes > maxAverageBytes && spec.Interval != "monthly" {
		recs = append(recs, fmt.Sprintf("average partition size %s exceeds %s; consider a narrower interval than %s",
			utils.FormatBytes(stats.AverageSizeBytes), utils.FormatBytes(maxAverageBytes), spec.Interval))
	}
	return recs
}
