// Package mqueue implements the message queue of spec §4.11: server-side
// acceptance of producer-submitted messages into a storage-engine model,
// downstream delivery with persisted cursors, and a client-side outbox
// that retries submission with backoff.
//
// No teacher component does messaging (grounded directly on spec §4.11);
// everything here composes internal/storage (C7), the same way the
// spec requires ("messages and the outbox are stored as ordinary
// storage-engine models").
package mqueue

import (
	"github.com/evgeniums/hatn-go/internal/storage"
)

// Operation is the mutation kind a message carries (spec §4.11.3).
type Operation string

const (
	OpCreate Operation = "Create"
	OpUpdate Operation = "Update"
	OpDelete Operation = "Delete"
)

// MessageModelID is the reserved storage-engine model id for queued
// messages (spec §4.11.1).
const MessageModelID = "mq_message"

// MessageModel describes the reserved message model of spec §4.11.1,
// with indexes on (pos), (object_id, operation, pos), (object_type,
// operation, pos), (operation, pos, object_type), (sender, pos), and
// (session, pos).
func MessageModel() *storage.Model {
	return &storage.Model{
		ID:      MessageModelID,
		Version: 1,
		FieldTypes: map[string]storage.FieldType{
			"pos":          storage.FieldUnsignedInt,
			"producer_id":  storage.FieldString,
			"producer_pos": storage.FieldUnsignedInt,
			"object_type":  storage.FieldString,
			"object_id":    storage.FieldString,
			"operation":    storage.FieldString,
			"sender":       storage.FieldString,
			"session":      storage.FieldString,
			"payload":      storage.FieldString,
		},
		Indexes: []storage.IndexDef{
			{
				ID:     "by_pos",
				Unique: true,
				Fields: []storage.IndexFieldDef{{Name: "pos", Type: storage.FieldUnsignedInt}},
			},
			{
				ID: "by_object",
				Fields: []storage.IndexFieldDef{
					{Name: "object_id", Type: storage.FieldString},
					{Name: "operation", Type: storage.FieldString},
					{Name: "pos", Type: storage.FieldUnsignedInt},
				},
			},
			{
				ID: "by_object_type",
				Fields: []storage.IndexFieldDef{
					{Name: "object_type", Type: storage.FieldString},
					{Name: "operation", Type: storage.FieldString},
					{Name: "pos", Type: storage.FieldUnsignedInt},
				},
			},
			{
				ID: "by_operation",
				Fields: []storage.IndexFieldDef{
					{Name: "operation", Type: storage.FieldString},
					{Name: "pos", Type: storage.FieldUnsignedInt},
					{Name: "object_type", Type: storage.FieldString},
				},
			},
			{
				ID: "by_sender",
				Fields: []storage.IndexFieldDef{
					{Name: "sender", Type: storage.FieldString},
					{Name: "pos", Type: storage.FieldUnsignedInt},
				},
			},
			{
				ID: "by_session",
				Fields: []storage.IndexFieldDef{
					{Name: "session", Type: storage.FieldString},
					{Name: "pos", Type: storage.FieldUnsignedInt},
				},
			},
		},
	}
}

// Message is the decoded form of one stored mq_message object.
type Message struct {
	Pos         uint64
	ProducerID  string
	ProducerPos uint64
	ObjectType  string
	ObjectID    string
	Operation   Operation
	Sender      string
	Session     string
	Payload     []byte
}

func messageFromObject(obj storage.Object) Message {
	msg := Message{Operation: OpCreate}
	if v, ok := obj["pos"].(uint64); ok {
		msg.Pos = v
	}
	if v, ok := obj["producer_id"].(string); ok {
		msg.ProducerID = v
	}
	if v, ok := obj["producer_pos"].(uint64); ok {
		msg.ProducerPos = v
	}
	if v, ok := obj["object_type"].(string); ok {
		msg.ObjectType = v
	}
	if v, ok := obj["object_id"].(string); ok {
		msg.ObjectID = v
	}
	if v, ok := obj["operation"].(string); ok {
		msg.Operation = Operation(v)
	}
	if v, ok := obj["sender"].(string); ok {
		msg.Sender = v
	}
	if v, ok := obj["session"].(string); ok {
		msg.Session = v
	}
	if v, ok := obj["payload"].(string); ok {
		msg.Payload = []byte(v)
	}
	return msg
}
