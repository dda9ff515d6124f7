package mqueue

import (
	"github.com/evgeniums/hatn-go/internal/storage"
)

// CursorModelID is the reserved model tracking each downstream's last
// acknowledged position per topic (spec §4.11.4: "the server persists,
// per downstream, the last delivered position").
const CursorModelID = "mq_cursor"

// CursorModel describes the (downstream_id, topic) -> cursor record.
func CursorModel() *storage.Model {
	return &storage.Model{
		ID:      CursorModelID,
		Version: 1,
		FieldTypes: map[string]storage.FieldType{
			"downstream_id": storage.FieldString,
			"topic":         storage.FieldString,
			"cursor":        storage.FieldUnsignedInt,
		},
		Indexes: []storage.IndexDef{
			{
				ID:     "by_downstream",
				Unique: true,
				Fields: []storage.IndexFieldDef{
					{Name: "downstream_id", Type: storage.FieldString},
					{Name: "topic", Type: storage.FieldString},
				},
			},
		},
	}
}

// Subscriber delivers messages in increasing pos order from a persisted
// per-downstream cursor (spec §4.11.4). A downstream with no prior cursor
// begins from the first available message.
type Subscriber struct {
	engine       *storage.Engine
	msgModel     *storage.Model
	cursorModel  *storage.Model
	downstreamID string
}

// NewSubscriber registers the cursor model and constructs a Subscriber for
// downstreamID. engine must already know MessageModel (via NewServer).
func NewSubscriber(engine *storage.Engine, downstreamID string) *Subscriber {
	cursorModel := CursorModel()
	engine.RegisterModel(cursorModel)
	return &Subscriber{
		engine:       engine,
		msgModel:     MessageModel(),
		cursorModel:  cursorModel,
		downstreamID: downstreamID,
	}
}

func (s *Subscriber) cursor(topic string) (uint64, *storage.Object, error) {
	found, err := s.engine.FindByIndex(topic, s.cursorModel, "by_downstream", []storage.FieldQuery{
		{Name: "downstream_id", Op: storage.OpEq, Value: s.downstreamID},
		{Name: "topic", Op: storage.OpEq, Value: topic},
	}, 1)
	if err != nil {
		return 0, nil, err
	}
	if len(found) == 0 {
		return 0, nil, nil
	}
	obj := found[0]
	pos, _ := obj["cursor"].(uint64)
	return pos, &obj, nil
}

// Pending returns up to limit messages with pos greater than the
// downstream's persisted cursor for topic, in increasing pos order. A
// limit of 0 means unbounded.
func (s *Subscriber) Pending(topic string, limit int) ([]Message, error) {
	cursor, _, err := s.cursor(topic)
	if err != nil {
		return nil, err
	}
	found, err := s.engine.FindByIndex(topic, s.msgModel, "by_pos", []storage.FieldQuery{
		{Name: "pos", Op: storage.OpGt, Value: cursor},
	}, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(found))
	for _, obj := range found {
		out = append(out, messageFromObject(obj))
	}
	return out, nil
}

// Ack advances the downstream's persisted cursor to pos. pos must be the
// position of the last message the downstream has durably processed; Ack
// is idempotent and monotonic-only (acking backwards is a no-op).
func (s *Subscriber) Ack(topic string, pos uint64) error {
	cursor, existing, err := s.cursor(topic)
	if err != nil {
		return err
	}
	if pos <= cursor {
		return nil
	}
	if existing == nil {
		_, err := s.engine.Create(topic, s.cursorModel, storage.Object{
			"downstream_id": s.downstreamID,
			"topic":         topic,
			"cursor":        pos,
		})
		return err
	}
	id := existing.ID()
	_, err = s.engine.Update(topic, s.cursorModel, id, []storage.UpdateField{
		{Path: []string{"cursor"}, Op: storage.OpSet, Value: pos},
	})
	return err
}
