package storage

import (
	"bytes"
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/kvengine"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
)

const modelTopicsBucket = "model_topics"
const partitionRegistryBucket = "partition_registry"

// Engine is the spec §4.6 storage engine: typed objects over
// internal/kvengine, with order-preserving indexes, date-range
// partitions, TTL marks, and declarative updates.
type Engine struct {
	kv *kvengine.Engine

	mu     sync.RWMutex
	models map[string]*Model

	cache *lru.Cache[string, Object]

	sweeper *cron.Cron
}

// EngineOptions configures optional behavior; a zero value is usable.
type EngineOptions struct {
	// CacheSize bounds the point-read cache (0 disables it).
	CacheSize int
	// TTLSweepSchedule is a cron expression for the background sweep
	// (empty disables the sweeper; spec §4.6.6).
	TTLSweepSchedule string
}

// NewEngine wraps kv with the storage-engine contract.
func NewEngine(kv *kvengine.Engine, opts EngineOptions) (*Engine, error) {
	e := &Engine{kv: kv, models: map[string]*Model{}}
	if opts.CacheSize > 0 {
		c, err := lru.New[string, Object](opts.CacheSize)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, err)
		}
		e.cache = c
	}
	if opts.TTLSweepSchedule != "" {
		e.sweeper = cron.New()
		if _, err := e.sweeper.AddFunc(opts.TTLSweepSchedule, func() { _ = e.SweepExpired() }); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, err)
		}
		e.sweeper.Start()
	}
	return e, nil
}

// Close stops the background sweeper, if any. The underlying kvengine is
// owned by the caller and is not closed here.
func (e *Engine) Close() {
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
}

// RegisterModel makes m known to the engine for key/index encoding.
func (e *Engine) RegisterModel(m *Model) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.models[m.ID] = m
}

func (e *Engine) modelByID(id string) (*Model, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.models[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "model %q not registered", id)
	}
	return m, nil
}

func cacheKey(topic, modelID string, id ObjectID) string {
	return topic + "\x00" + modelID + "\x00" + id.String()
}

func (e *Engine) registerPartition(tx *kvengine.Tx, modelID, partition string) error {
	b, err := tx.CreateBucketIfNotExists(partitionRegistryBucket)
	if err != nil {
		return err
	}
	return b.Put([]byte(modelID+"\x00"+partition), []byte{1})
}

// partitionsOf returns every partition range ever used by modelID, sorted
// lexicographically (for date ranges, that is chronological order).
func (e *Engine) partitionsOf(modelID string) ([]string, error) {
	var out []string
	err := e.kv.View(func(tx *kvengine.Tx) error {
		b, err := tx.Bucket(partitionRegistryBucket)
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		prefix := []byte(modelID + "\x00")
		b.Cursor().ForEachPrefix(prefix, func(kv kvengine.KV) bool {
			out = append(out, string(kv.Key[len(prefix):]))
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		out = []string{defaultPartitionRange}
	}
	sort.Strings(out)
	return out, nil
}

// Transact runs fn within a single kvengine write transaction, for callers
// that need atomicity across more than one model operation — e.g.
// internal/mqueue's server acceptance path, which must apply a mutation to
// the target object model and append the outbound message in the same
// transaction (spec §4.11.3 point 2).
func (e *Engine) Transact(fn func(tx *kvengine.Tx) error) error {
	return e.kv.Update(fn)
}

// Create inserts obj as a new instance of m under topic, minting an
// ObjectID if one is not already set (spec §4.6.3 Create).
func (e *Engine) Create(topic string, m *Model, obj Object) (ObjectID, error) {
	var id ObjectID
	err := e.Transact(func(tx *kvengine.Tx) error {
		var err error
		id, err = e.CreateInTx(tx, topic, m, obj)
		return err
	})
	if err != nil {
		return ObjectID{}, err
	}
	if e.cache != nil {
		e.cache.Add(cacheKey(topic, m.ID, id), obj)
	}
	return id, nil
}

// CreateInTx is Create's body run against a transaction the caller already
// holds open, so it can be composed with other models' writes atomically
// via Engine.Transact.
func (e *Engine) CreateInTx(tx *kvengine.Tx, topic string, m *Model, obj Object) (ObjectID, error) {
	if obj.ID().IsZero() {
		id, err := NewObjectID()
		if err != nil {
			return ObjectID{}, apperrors.Wrap(apperrors.CodeInternal, err)
		}
		obj["_id"] = id
	}
	id := obj.ID()
	partition := partitionForTime(m, partitionTimeOf(m, obj))
	objKey := ObjectKey(topic, m.ID, m.Version, id)

	payload, err := Marshal(obj)
	if err != nil {
		return ObjectID{}, apperrors.Wrap(apperrors.CodeWriteObjectFailed, err)
	}
	var expiresAt uint32
	hasTTL := m.TTLField != ""
	if hasTTL {
		expiresAt, err = ttlExpiryOf(m, obj)
		if err != nil {
			return ObjectID{}, err
		}
		payload = appendTTLMark(payload, expiresAt)
	}

	newKeys, err := indexEntryKeys(topic, m, obj)
	if err != nil {
		return ObjectID{}, err
	}

	collCF, idxCF, ttlCF, _ := bucketNames(partition)
	coll, err := tx.CreateBucketIfNotExists(collCF)
	if err != nil {
		return ObjectID{}, err
	}
	idxB, err := tx.CreateBucketIfNotExists(idxCF)
	if err != nil {
		return ObjectID{}, err
	}
	for _, idx := range m.Indexes {
		k := newKeys[idx.ID]
		if idx.Unique {
			if _, err := idxB.Get(k); err == nil {
				return ObjectID{}, apperrors.New(apperrors.CodeUniqueConstraint)
			} else if !apperrors.Is(err, apperrors.CodeNotFound) {
				return ObjectID{}, err
			}
		}
		if err := idxB.Put(k, objKey); err != nil {
			return ObjectID{}, err
		}
	}
	if hasTTL {
		ttlB, err := tx.CreateBucketIfNotExists(ttlCF)
		if err != nil {
			return ObjectID{}, err
		}
		if err := ttlB.Put(ttlIndexKey(expiresAt, id), objKey); err != nil {
			return ObjectID{}, err
		}
	}
	if err := coll.Put(objKey, payload); err != nil {
		return ObjectID{}, err
	}
	meta, err := tx.CreateBucketIfNotExists(modelTopicsBucket)
	if err != nil {
		return ObjectID{}, err
	}
	if err := meta.Put([]byte(m.ID+"\x00"+topic), []byte{1}); err != nil {
		return ObjectID{}, err
	}
	if err := e.registerPartition(tx, m.ID, partition); err != nil {
		return ObjectID{}, err
	}
	return id, nil
}

func ttlExpiryOf(m *Model, obj Object) (uint32, error) {
	v, ok := obj[m.TTLField]
	if !ok {
		return 0, apperrors.Newf(apperrors.CodeInvalidInput, "ttl field %q not set", m.TTLField)
	}
	secs, err := asInt64(v)
	if err != nil {
		return 0, apperrors.Newf(apperrors.CodeInvalidInput, "ttl field %q: %v", m.TTLField, err)
	}
	return uint32(secs), nil
}

// ttlIndexKey builds the (expires_at, object_id) key of spec §4.6.3 point 5.
func ttlIndexKey(expiresAt uint32, id ObjectID) []byte {
	var b [4]byte
	b[0] = byte(expiresAt >> 24)
	b[1] = byte(expiresAt >> 16)
	b[2] = byte(expiresAt >> 8)
	b[3] = byte(expiresAt)
	return append(b[:], id.Bytes()...)
}

// Read fetches obj by id, stripping and validating its TTL mark (spec
// §4.6.3 "Read by id").
func (e *Engine) Read(topic string, m *Model, id ObjectID) (Object, error) {
	if e.cache != nil {
		if obj, ok := e.cache.Get(cacheKey(topic, m.ID, id)); ok {
			return obj, nil
		}
	}
	partition := partitionForTime(m, id.Time())
	collCF, _, _, _ := bucketNames(partition)
	objKey := ObjectKey(topic, m.ID, m.Version, id)

	var obj Object
	err := e.kv.View(func(tx *kvengine.Tx) error {
		coll, err := tx.Bucket(collCF)
		if err != nil {
			return err
		}
		raw, err := coll.Get(objKey)
		if err != nil {
			return err
		}
		payload := raw
		if m.TTLField != "" {
			p, expiresAt := splitTTLMark(raw)
			if uint32(time.Now().Unix()) >= expiresAt {
				return apperrors.New(apperrors.CodeNotFound)
			}
			payload = p
		}
		o, err := Unmarshal(payload)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeReadFailed, err)
		}
		obj = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Add(cacheKey(topic, m.ID, id), obj)
	}
	return obj, nil
}

// Update applies reqs to the object identified by id under a single
// pessimistic transaction, recomputing and diffing index keys (spec
// §4.6.3 Update).
func (e *Engine) Update(topic string, m *Model, id ObjectID, reqs []UpdateField) (Object, error) {
	var updated Object
	err := e.Transact(func(tx *kvengine.Tx) error {
		var err error
		updated, err = e.UpdateInTx(tx, topic, m, id, reqs)
		return err
	})
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Add(cacheKey(topic, m.ID, id), updated)
	}
	return updated, nil
}

// UpdateInTx is Update's body run against a transaction the caller already
// holds open, for composing with other models' writes atomically via
// Engine.Transact.
func (e *Engine) UpdateInTx(tx *kvengine.Tx, topic string, m *Model, id ObjectID, reqs []UpdateField) (Object, error) {
	partition := partitionForTime(m, id.Time())
	collCF, idxCF, ttlCF, _ := bucketNames(partition)
	objKey := ObjectKey(topic, m.ID, m.Version, id)

	coll, err := tx.Bucket(collCF)
	if err != nil {
		return nil, err
	}
	raw, err := coll.GetForUpdate(objKey)
	if err != nil {
		return nil, err
	}
	oldPayload := raw
	var oldExpiresAt uint32
	hasTTL := m.TTLField != ""
	if hasTTL {
		oldPayload, oldExpiresAt = splitTTLMark(raw)
	}
	oldObj, err := Unmarshal(oldPayload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeReadFailed, err)
	}
	oldKeys, err := indexEntryKeys(topic, m, oldObj)
	if err != nil {
		return nil, err
	}

	newObj, err := Apply(oldObj, reqs)
	if err != nil {
		return nil, err
	}
	newKeys, err := indexEntryKeys(topic, m, newObj)
	if err != nil {
		return nil, err
	}
	toDelete, toInsert := diffIndexKeys(oldKeys, newKeys)

	idxB, err := tx.CreateBucketIfNotExists(idxCF)
	if err != nil {
		return nil, err
	}
	for id2, k := range toInsert {
		idx, _ := m.IndexByID(id2)
		if idx != nil && idx.Unique {
			if _, err := idxB.Get(k); err == nil {
				return nil, apperrors.New(apperrors.CodeUniqueConstraint)
			} else if !apperrors.Is(err, apperrors.CodeNotFound) {
				return nil, err
			}
		}
	}
	for _, k := range toDelete {
		if err := idxB.Delete(k); err != nil {
			return nil, err
		}
	}
	for _, k := range toInsert {
		if err := idxB.Put(k, objKey); err != nil {
			return nil, err
		}
	}

	newPayload, err := Marshal(newObj)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeWriteObjectFailed, err)
	}
	var newExpiresAt uint32
	if hasTTL {
		newExpiresAt, err = ttlExpiryOf(m, newObj)
		if err != nil {
			return nil, err
		}
		newPayload = appendTTLMark(newPayload, newExpiresAt)
		if newExpiresAt != oldExpiresAt {
			ttlB, err := tx.CreateBucketIfNotExists(ttlCF)
			if err != nil {
				return nil, err
			}
			if err := ttlB.Delete(ttlIndexKey(oldExpiresAt, id)); err != nil {
				return nil, err
			}
			if err := ttlB.Put(ttlIndexKey(newExpiresAt, id), objKey); err != nil {
				return nil, err
			}
		}
	}
	if err := coll.Put(objKey, newPayload); err != nil {
		return nil, err
	}
	return newObj, nil
}

// Delete removes the object and every index/ttl row pointing to it (spec
// §4.6.3 Delete).
func (e *Engine) Delete(topic string, m *Model, id ObjectID) error {
	partition := partitionForTime(m, id.Time())
	collCF, idxCF, ttlCF, _ := bucketNames(partition)
	objKey := ObjectKey(topic, m.ID, m.Version, id)

	err := e.kv.Update(func(tx *kvengine.Tx) error {
		coll, err := tx.Bucket(collCF)
		if err != nil {
			return err
		}
		raw, err := coll.GetForUpdate(objKey)
		if err != nil {
			return err
		}
		payload := raw
		var expiresAt uint32
		hasTTL := m.TTLField != ""
		if hasTTL {
			payload, expiresAt = splitTTLMark(raw)
		}
		obj, err := Unmarshal(payload)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeReadFailed, err)
		}
		keys, err := indexEntryKeys(topic, m, obj)
		if err != nil {
			return err
		}
		idxB, err := tx.CreateBucketIfNotExists(idxCF)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := idxB.Delete(k); err != nil {
				return err
			}
		}
		if hasTTL {
			ttlB, err := tx.CreateBucketIfNotExists(ttlCF)
			if err != nil {
				return err
			}
			if err := ttlB.Delete(ttlIndexKey(expiresAt, id)); err != nil {
				return err
			}
		}
		return coll.Delete(objKey)
	})
	if err != nil {
		return err
	}
	if e.cache != nil {
		e.cache.Remove(cacheKey(topic, m.ID, id))
	}
	return nil
}

// --- Find by index --------------------------------------------------------

// foundEntry is one surviving (index key, object key) pair, tagged with
// its partition so the caller reads back from the right collections cf.
type foundEntry struct {
	indexKey  []byte
	objectKey []byte
	partition string
}

// partitionStream is one partition's already-sorted candidate entries,
// consumed by the k-way merge heap below.
type partitionStream struct {
	entries []foundEntry
	pos     int
}

type mergeHeap []*partitionStream

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	return string(h[i].entries[h[i].pos].indexKey) < string(h[j].entries[h[j].pos].indexKey)
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(*partitionStream)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// FindByIndex scans idx across every partition topic has used, applying
// queries (which must form a prefix of idx.Fields, spec §4.6.3), merging
// the per-partition streams in index-key order, and returns up to limit
// objects (0 = unlimited).
func (e *Engine) FindByIndex(topic string, m *Model, indexID string, queries []FieldQuery, limit int) ([]Object, error) {
	idx, ok := m.IndexByID(indexID)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "index %q not defined on model %q", indexID, m.ID)
	}
	ranges, err := buildRanges(topic, *idx, queries)
	if err != nil {
		return nil, err
	}

	partitions, err := e.partitionsOf(m.ID)
	if err != nil {
		return nil, err
	}

	var streams mergeHeap
	err = e.kv.View(func(tx *kvengine.Tx) error {
		for _, partition := range partitions {
			_, idxCF, _, _ := bucketNames(partition)
			idxB, err := tx.Bucket(idxCF)
			if apperrors.Is(err, apperrors.CodeNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var entries []foundEntry
			for _, r := range ranges {
				idxB.Cursor().ForEachRange(r.From, r.To, func(kv kvengine.KV) bool {
					entries = append(entries, foundEntry{indexKey: kv.Key, objectKey: kv.Value, partition: partition})
					return true
				})
			}
			if len(entries) == 0 {
				continue
			}
			sort.Slice(entries, func(i, j int) bool {
				return string(entries[i].indexKey) < string(entries[j].indexKey)
			})
			streams = append(streams, &partitionStream{entries: entries})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	heap.Init(&streams)

	var out []Object
	err = e.kv.View(func(tx *kvengine.Tx) error {
		for streams.Len() > 0 && (limit <= 0 || len(out) < limit) {
			s := streams[0]
			entry := s.entries[s.pos]
			s.pos++
			if s.pos >= len(s.entries) {
				heap.Pop(&streams)
			} else {
				heap.Fix(&streams, 0)
			}

			collCF, _, _, _ := bucketNames(entry.partition)
			coll, err := tx.Bucket(collCF)
			if err != nil {
				return err
			}
			raw, err := coll.Get(entry.objectKey)
			if apperrors.Is(err, apperrors.CodeNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			payload := raw
			if m.TTLField != "" {
				p, expiresAt := splitTTLMark(raw)
				if uint32(time.Now().Unix()) >= expiresAt {
					continue
				}
				payload = p
			}
			obj, err := Unmarshal(payload)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeReadFailed, err)
			}
			out = append(out, obj)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SweepExpired scans every registered partition's ttl cf for rows whose
// expires_at has passed, deleting the object and its indexes under one
// transaction per sweep batch (spec §4.6.6).
func (e *Engine) SweepExpired() error {
	e.mu.RLock()
	models := make([]*Model, 0, len(e.models))
	for _, m := range e.models {
		models = append(models, m)
	}
	e.mu.RUnlock()

	now := uint32(time.Now().Unix())
	for _, m := range models {
		if m.TTLField == "" {
			continue
		}
		partitions, err := e.partitionsOf(m.ID)
		if err != nil {
			return err
		}
		for _, partition := range partitions {
			if err := e.sweepPartition(m, partition, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) sweepPartition(m *Model, partition string, now uint32) error {
	collCF, idxCF, ttlCF, _ := bucketNames(partition)
	return e.kv.Update(func(tx *kvengine.Tx) error {
		ttlB, err := tx.Bucket(ttlCF)
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var expired []kvengine.KV
		maxKeyForNow := ttlIndexKey(now, ObjectID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
		to := prefixUpperBound(maxKeyForNow)
		ttlB.Cursor().ForEachRange(nil, to, func(kv kvengine.KV) bool {
			expired = append(expired, kv)
			return true
		})

		coll, err := tx.Bucket(collCF)
		if err != nil {
			return err
		}
		idxB, err := tx.CreateBucketIfNotExists(idxCF)
		if err != nil {
			return err
		}
		for _, row := range expired {
			objKey := row.Value
			raw, err := coll.Get(objKey)
			if apperrors.Is(err, apperrors.CodeNotFound) {
				_ = ttlB.Delete(row.Key)
				continue
			}
			if err != nil {
				return err
			}
			payload, _ := splitTTLMark(raw)
			obj, err := Unmarshal(payload)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeReadFailed, err)
			}
			topic, err := topicOfObjectKey(objKey)
			if err != nil {
				return err
			}
			keys, err := indexEntryKeys(topic, m, obj)
			if err != nil {
				return err
			}
			for _, k := range keys {
				_ = idxB.Delete(k)
			}
			if err := coll.Delete(objKey); err != nil {
				return err
			}
			if err := ttlB.Delete(row.Key); err != nil {
				return err
			}
		}
		return nil
	})
}

// topicOfObjectKey recovers the leading topic segment from an object key
// (spec §4.6.1: `topic ‖ SEP ‖ model_id ‖ SEP ‖ VERSION_BYTE ‖ SEP ‖
// object_id`), needed by the TTL sweep to rebuild index keys without a
// separate topic index.
func topicOfObjectKey(objKey []byte) (string, error) {
	i := bytes.IndexByte(objKey, sepByte)
	if i < 0 {
		return "", apperrors.Newf(apperrors.CodeInternal, "malformed object key")
	}
	return string(objKey[:i]), nil
}
