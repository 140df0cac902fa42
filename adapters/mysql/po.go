package mysql

import (
	"time"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// EventPO is the persistence object of one event log row.
type EventPO struct {
	AggregateID   string            `gorm:"primaryKey;size:191"`
	Sequence      uint64            `gorm:"primaryKey;autoIncrement:false"`
	EventID       string            `gorm:"size:64;not null;index"`
	AggregateType string            `gorm:"size:64;not null"`
	EventType     string            `gorm:"size:191;not null;index"`
	Data          []byte            `gorm:"type:longblob;not null"`
	Metadata      map[string]string `gorm:"serializer:json;type:json"`
	Timestamp     time.Time         `gorm:"precision:6;not null"`
}

// TableName specifies the table name.
func (EventPO) TableName() string {
	return "events"
}

// SequencePO is the persistence object of a sequence counter.
type SequencePO struct {
	AggregateID   string    `gorm:"primaryKey;size:191"`
	LatestEventID uint64    `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name.
func (SequencePO) TableName() string {
	return "sequences"
}

// SnapshotPO is the persistence object of an aggregate snapshot.
type SnapshotPO struct {
	AggregateID   string    `gorm:"primaryKey;size:191"`
	AggregateType string    `gorm:"size:64;not null;index"`
	Version       uint64    `gorm:"not null"`
	Payload       []byte    `gorm:"type:longblob;not null"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name.
func (SnapshotPO) TableName() string {
	return "snapshots"
}

func fromEventRecord(r adapters.EventRecord) *EventPO {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &EventPO{
		AggregateID:   r.AggregateID,
		Sequence:      r.Sequence,
		EventID:       r.ID,
		AggregateType: r.AggregateType,
		EventType:     r.Type,
		Data:          r.Data,
		Metadata:      r.Metadata,
		Timestamp:     ts,
	}
}

// ToRecord converts the persistence object to an event record.
func (po *EventPO) ToRecord() adapters.EventRecord {
	return adapters.EventRecord{
		ID:            po.EventID,
		AggregateID:   po.AggregateID,
		AggregateType: po.AggregateType,
		Sequence:      po.Sequence,
		Type:          po.EventType,
		Data:          po.Data,
		Metadata:      po.Metadata,
		Timestamp:     po.Timestamp.UTC(),
	}
}
