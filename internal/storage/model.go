package storage

// PartitionUnit selects the date-range granularity a model's partitions
// are split on (spec §4.6.2). PartitionNone means "the default partition".
type PartitionUnit int

const (
	PartitionNone PartitionUnit = iota
	PartitionDaily
	PartitionMonthly
)

// IndexFieldDef names one field of a (possibly compound) index and its
// sort direction.
type IndexFieldDef struct {
	Name string
	Type FieldType
	Desc bool
}

// IndexDef is one index defined on a Model (spec §4.6.3/§4.6.4). Query
// fields for a compound index must form a prefix of Fields.
type IndexDef struct {
	ID     string
	Fields []IndexFieldDef
	Unique bool
}

// Model describes one storage-engine object type: its field types (for
// index-key encoding), its indexes, and optional TTL/partition behavior.
type Model struct {
	ID             string
	Version        byte
	FieldTypes     map[string]FieldType
	Indexes        []IndexDef
	TTLField       string        // field holding expires_at (unix seconds); empty = no TTL
	Partition      PartitionUnit
	PartitionField string // field the partition range is derived from; defaults to "_id" time component
}

// IndexByID looks up a model's index definition by id.
func (m *Model) IndexByID(id string) (*IndexDef, bool) {
	for i := range m.Indexes {
		if m.Indexes[i].ID == id {
			return &m.Indexes[i], true
		}
	}
	return nil, false
}
