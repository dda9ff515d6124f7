package mqueue

import (
	"context"
	"time"

	"github.com/evgeniums/hatn-go/internal/storage"
	"github.com/evgeniums/hatn-go/pkg/resilience"
)

// OutboxModelID is the reserved model a producer uses to durably queue
// messages across restarts before they are accepted by the server (spec
// §4.11.2: "the outbox is itself a storage-engine model").
const OutboxModelID = "mq_outbox"

// OutboxStatus is the lifecycle state of one outbox row.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxModel describes the producer-side durable send queue.
func OutboxModel() *storage.Model {
	return &storage.Model{
		ID:      OutboxModelID,
		Version: 1,
		FieldTypes: map[string]storage.FieldType{
			"producer_id":     storage.FieldString,
			"producer_pos":    storage.FieldUnsignedInt,
			"object_type":     storage.FieldString,
			"object_id":       storage.FieldString,
			"operation":       storage.FieldString,
			"sender":          storage.FieldString,
			"session":         storage.FieldString,
			"payload":         storage.FieldString,
			"status":          storage.FieldString,
			"attempts":        storage.FieldUnsignedInt,
			"next_attempt_at": storage.FieldDateTime,
		},
		Indexes: []storage.IndexDef{
			{
				ID:     "by_producer_pos",
				Unique: true,
				Fields: []storage.IndexFieldDef{
					{Name: "producer_id", Type: storage.FieldString},
					{Name: "producer_pos", Type: storage.FieldUnsignedInt},
				},
			},
			{
				ID: "by_due",
				Fields: []storage.IndexFieldDef{
					{Name: "status", Type: storage.FieldString},
					{Name: "next_attempt_at", Type: storage.FieldDateTime},
				},
			},
		},
	}
}

// Notifier is told about terminal outbox outcomes.
type Notifier interface {
	OnSent(producerID string, producerPos, pos uint64)
	OnFailed(producerID string, producerPos uint64, err error)
}

// Submit delivers one outbox item to the server; a Client wrapping
// rpcclient or a direct Server.Accept call both satisfy this.
type Submit func(ctx context.Context, topic string, in Inbound) (Accepted, error)

// OutboxConfig controls retry pacing and the give-up threshold.
type OutboxConfig struct {
	Retry       resilience.RetryConfig
	MaxAttempts int
}

// DefaultOutboxConfig mirrors pkg/resilience's defaults with a 5-attempt
// give-up threshold (spec §4.11.2: "retries with exponential backoff up to
// a configurable attempt limit, then reports failure").
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{Retry: resilience.DefaultRetryConfig(), MaxAttempts: 5}
}

// Outbox is the producer-side durable send queue of spec §4.11.2.
type Outbox struct {
	engine *storage.Engine
	model  *storage.Model
	cfg    OutboxConfig
	submit Submit
	notify Notifier
	now    func() time.Time
}

// NewOutbox registers the outbox model and constructs an Outbox. notify
// may be nil to skip terminal-state notification.
func NewOutbox(engine *storage.Engine, cfg OutboxConfig, submit Submit, notify Notifier) *Outbox {
	model := OutboxModel()
	engine.RegisterModel(model)
	return &Outbox{engine: engine, model: model, cfg: cfg, submit: submit, notify: notify, now: time.Now}
}

// Enqueue durably records one message for eventual delivery; it survives
// a process restart until sent or exhausted.
func (o *Outbox) Enqueue(topic string, in Inbound) error {
	obj := storage.Object{
		"producer_id":     in.ProducerID,
		"producer_pos":    in.ProducerPos,
		"object_type":     in.ObjectType,
		"object_id":       in.ObjectID,
		"operation":       string(in.Operation),
		"sender":          in.Sender,
		"session":         in.Session,
		"payload":         string(in.Payload),
		"status":          string(OutboxPending),
		"attempts":        uint64(0),
		"next_attempt_at": o.now().UnixMilli(),
	}
	_, err := o.engine.Create(topic, o.model, obj)
	return err
}

// Drain attempts delivery of every pending row in topic whose
// next_attempt_at has elapsed, advancing or retiring each row according to
// the outcome. It is meant to be called periodically (spec §4.11.2's
// retry scheduler); it does not block waiting for future retries.
func (o *Outbox) Drain(ctx context.Context, topic string) error {
	due, err := o.engine.FindByIndex(topic, o.model, "by_due", []storage.FieldQuery{
		{Name: "status", Op: storage.OpEq, Value: string(OutboxPending)},
		{Name: "next_attempt_at", Op: storage.OpLte, Value: o.now().UnixMilli()},
	}, 0)
	if err != nil {
		return err
	}
	for _, row := range due {
		if err := o.attempt(ctx, topic, row); err != nil {
			return err
		}
	}
	return nil
}

func (o *Outbox) attempt(ctx context.Context, topic string, row storage.Object) error {
	in := inboundFromOutboxRow(row)
	accepted, err := o.submit(ctx, topic, in)
	id := row.ID()
	if err == nil {
		_, uerr := o.engine.Update(topic, o.model, id, []storage.UpdateField{
			{Path: []string{"status"}, Op: storage.OpSet, Value: string(OutboxSent)},
		})
		if uerr != nil {
			return uerr
		}
		if o.notify != nil {
			o.notify.OnSent(in.ProducerID, in.ProducerPos, accepted.Pos)
		}
		return nil
	}

	attempts, _ := row["attempts"].(uint64)
	attempts++
	maxAttempts := o.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultOutboxConfig().MaxAttempts
	}
	if int(attempts) >= maxAttempts {
		_, uerr := o.engine.Update(topic, o.model, id, []storage.UpdateField{
			{Path: []string{"status"}, Op: storage.OpSet, Value: string(OutboxFailed)},
			{Path: []string{"attempts"}, Op: storage.OpSet, Value: attempts},
		})
		if uerr != nil {
			return uerr
		}
		if o.notify != nil {
			o.notify.OnFailed(in.ProducerID, in.ProducerPos, err)
		}
		return nil
	}

	delay := resilience.DelayForAttempt(o.cfg.Retry, attempts)
	_, uerr := o.engine.Update(topic, o.model, id, []storage.UpdateField{
		{Path: []string{"attempts"}, Op: storage.OpSet, Value: attempts},
		{Path: []string{"next_attempt_at"}, Op: storage.OpSet, Value: o.now().Add(delay).UnixMilli()},
	})
	return uerr
}

func inboundFromOutboxRow(row storage.Object) Inbound {
	in := Inbound{}
	if v, ok := row["producer_id"].(string); ok {
		in.ProducerID = v
	}
	if v, ok := row["producer_pos"].(uint64); ok {
		in.ProducerPos = v
	}
	if v, ok := row["object_type"].(string); ok {
		in.ObjectType = v
	}
	if v, ok := row["object_id"].(string); ok {
		in.ObjectID = v
	}
	if v, ok := row["operation"].(string); ok {
		in.Operation = Operation(v)
	}
	if v, ok := row["sender"].(string); ok {
		in.Sender = v
	}
	if v, ok := row["session"].(string); ok {
		in.Session = v
	}
	if v, ok := row["payload"].(string); ok {
		in.Payload = []byte(v)
	}
	return in
}
