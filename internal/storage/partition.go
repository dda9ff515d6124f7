package storage

import "time"

// defaultPartitionRange is the column-family prefix for non-partitioned
// models and for any model before its first partitioned write (spec
// §4.6.2: "non-partitioned models live in a default partition").
const defaultPartitionRange = "default"

// partitionRange derives the date-range string a partitioned model's
// object falls into for instant t.
func partitionRange(unit PartitionUnit, t time.Time) string {
	switch unit {
	case PartitionDaily:
		return t.UTC().Format("2006-01-02")
	case PartitionMonthly:
		return t.UTC().Format("2006-01")
	default:
		return defaultPartitionRange
	}
}

// partitionForTime resolves the range a Model's partition-key field value
// (or, absent an explicit field, the ObjectID's own embedded timestamp —
// model.go's documented default) falls into.
func partitionForTime(m *Model, t time.Time) string {
	if m.Partition == PartitionNone {
		return defaultPartitionRange
	}
	return partitionRange(m.Partition, t)
}

// partitionTimeOf extracts the instant used to resolve obj's partition:
// the named PartitionField if one is set and present, otherwise the
// ObjectID's embedded timestamp.
func partitionTimeOf(m *Model, obj Object) time.Time {
	field := m.PartitionField
	if field != "" && field != "_id" {
		if v, ok := obj[field]; ok {
			if ms, err := asInt64(v); err == nil {
				return time.UnixMilli(ms)
			}
		}
	}
	return obj.ID().Time()
}

// bucketNames returns the four column-family names a partition owns
// (spec §4.6.2).
func bucketNames(partition string) (collections, indexes, ttl, blobs string) {
	return partition + "_collections", partition + "_indexes", partition + "_ttl", partition + "_blobs"
}
