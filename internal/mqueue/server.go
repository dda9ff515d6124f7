package mqueue

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/kvengine"
	"github.com/evgeniums/hatn-go/internal/storage"
)

// Buckets the server keeps outside the message model itself: the
// per-topic pos counter, the per-(topic,producer) high-water mark used
// to reject out-of-order submissions, and the dedup table keyed by
// (producer_id, producer_pos) (spec §4.11.5's dedup invariant).
const (
	posCounterBucket  = "mq_pos_counters"
	producerPosBucket = "mq_producer_pos"
	dedupBucket       = "mq_dedup"
)

// DefaultToleratedClockSkew is spec §4.11.3's default: "Tolerated clock
// skew is configurable (default 15 days)".
const DefaultToleratedClockSkew = 15 * 24 * time.Hour

// Policy validates an inbound message's object type and operation before
// it reaches the transaction (spec §4.11.3 point 1).
type Policy interface {
	IsKnownObjectType(objectType string) bool
	IsOperationPermitted(objectType string, op Operation) bool
}

// Config configures a Server.
type Config struct {
	ToleratedClockSkew time.Duration
}

// DefaultConfig returns the spec's default tolerated clock skew.
func DefaultConfig() Config {
	return Config{ToleratedClockSkew: DefaultToleratedClockSkew}
}

// Server implements the server-side acceptance pipeline of spec §4.11.3
// atop a shared storage engine.
type Server struct {
	engine *storage.Engine
	model  *storage.Model
	policy Policy
	cfg    Config
}

// NewServer registers the message model with engine and constructs a
// Server. policy may be nil to accept every object type/operation.
func NewServer(engine *storage.Engine, policy Policy, cfg Config) *Server {
	model := MessageModel()
	engine.RegisterModel(model)
	return &Server{engine: engine, model: model, policy: policy, cfg: cfg}
}

// Inbound is one message a producer submits for acceptance.
type Inbound struct {
	ProducerID  string
	ProducerPos uint64
	ObjectType  string
	ObjectID    string
	Operation   Operation
	Sender      string
	Session     string
	Payload     []byte
	// SentAt is the producer's claimed send time, checked against
	// Config.ToleratedClockSkew (spec §4.11.3 point 1). Zero skips the
	// check.
	SentAt time.Time
	// Mutate applies the mutation this message represents to its target
	// object model, run in the same transaction as the message append
	// (spec §4.11.3 point 2: "apply the mutation to the target object
	// model and append the message"). May be nil for messages that carry
	// no storage-engine mutation of their own.
	Mutate func(tx *kvengine.Tx) error
}

// Accepted is the result of a successful Accept call.
type Accepted struct {
	Pos uint64
	// Duplicate is true when this (producer_id, producer_pos) pair was
	// already accepted; Pos is the originally-assigned position and
	// Mutate was not run again (spec §4.11.5: "second attempt returns
	// the first's assigned pos").
	Duplicate bool
}

// Accept runs spec §4.11.3's full acceptance pipeline: preprocess
// validation, transactional mutation + message append, dedup.
func (s *Server) Accept(topic string, in Inbound) (Accepted, error) {
	if s.policy != nil && !s.policy.IsKnownObjectType(in.ObjectType) {
		return Accepted{}, apperrors.Newf(apperrors.CodeInvalidInput, "unknown object type %q", in.ObjectType)
	}
	if s.policy != nil && !s.policy.IsOperationPermitted(in.ObjectType, in.Operation) {
		return Accepted{}, apperrors.Newf(apperrors.CodeInvalidInput, "operation %q not permitted on object type %q", in.Operation, in.ObjectType)
	}
	skew := s.cfg.ToleratedClockSkew
	if skew <= 0 {
		skew = DefaultToleratedClockSkew
	}
	if !in.SentAt.IsZero() && time.Since(in.SentAt) > skew {
		return Accepted{}, apperrors.New(apperrors.CodeMessageTooOld)
	}

	var result Accepted
	err := s.engine.Transact(func(tx *kvengine.Tx) error {
		dedupB, err := tx.CreateBucketIfNotExists(dedupBucket)
		if err != nil {
			return err
		}
		dedupKey := dedupEntryKey(topic, in.ProducerID, in.ProducerPos)
		if existing, err := dedupB.Get(dedupKey); err == nil {
			result = Accepted{Pos: binary.BigEndian.Uint64(existing), Duplicate: true}
			return nil
		} else if !apperrors.Is(err, apperrors.CodeNotFound) {
			return err
		}

		lastPos, err := lastProducerPos(tx, topic, in.ProducerID)
		if err != nil {
			return err
		}
		if in.ProducerPos <= lastPos {
			return apperrors.New(apperrors.CodeOutOfOrder)
		}

		pos, err := nextPos(tx, topic)
		if err != nil {
			return err
		}

		if in.Mutate != nil {
			if err := in.Mutate(tx); err != nil {
				return err
			}
		}

		msg := storage.Object{
			"pos":          pos,
			"producer_id":  in.ProducerID,
			"producer_pos": in.ProducerPos,
			"object_type":  in.ObjectType,
			"object_id":    in.ObjectID,
			"operation":    string(in.Operation),
			"sender":       in.Sender,
			"session":      in.Session,
			"payload":      string(in.Payload),
		}
		if _, err := s.engine.CreateInTx(tx, topic, s.model, msg); err != nil {
			return err
		}

		if err := setLastProducerPos(tx, topic, in.ProducerID, in.ProducerPos); err != nil {
			return err
		}
		var posBytes [8]byte
		binary.BigEndian.PutUint64(posBytes[:], pos)
		if err := dedupB.Put(dedupKey, posBytes[:]); err != nil {
			return err
		}

		result = Accepted{Pos: pos}
		return nil
	})
	if err != nil {
		return Accepted{}, err
	}
	return result, nil
}

func dedupEntryKey(topic, producerID string, producerPos uint64) []byte {
	return []byte(topic + "\x00" + producerID + "\x00" + strconv.FormatUint(producerPos, 10))
}

func lastProducerPos(tx *kvengine.Tx, topic, producerID string) (uint64, error) {
	b, err := tx.CreateBucketIfNotExists(producerPosBucket)
	if err != nil {
		return 0, err
	}
	v, err := b.Get([]byte(topic + "\x00" + producerID))
	if apperrors.Is(err, apperrors.CodeNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

func setLastProducerPos(tx *kvengine.Tx, topic, producerID string, pos uint64) error {
	b, err := tx.CreateBucketIfNotExists(producerPosBucket)
	if err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], pos)
	return b.Put([]byte(topic+"\x00"+producerID), buf[:])
}

func nextPos(tx *kvengine.Tx, topic string) (uint64, error) {
	b, err := tx.CreateBucketIfNotExists(posCounterBucket)
	if err != nil {
		return 0, err
	}
	var cur uint64
	v, err := b.Get([]byte(topic))
	if err == nil {
		cur = binary.BigEndian.Uint64(v)
	} else if !apperrors.Is(err, apperrors.CodeNotFound) {
		return 0, err
	}
	cur++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], cur)
	if err := b.Put([]byte(topic), buf[:]); err != nil {
		return 0, err
	}
	return cur, nil
}
