// Package kvengine adapts go.etcd.io/bbolt to the narrow KV engine
// interface of spec §4.5: ordered byte keys, dynamically-created named
// column families, atomic write batches across column families,
// pessimistic transactions with get_for_update, snapshots with
// repeatable-read iteration, and prefix/range iteration.
//
// No teacher file grounds this (the teacher uses Postgres/Supabase, not an
// embedded ordered KV store); the adapter is grounded directly on bbolt's
// own API shape, which is a closer structural match to §4.5 than any SQL
// store in the pack: buckets ≈ column families, nested Tx.Bucket, Cursor
// for ordered range iteration, Update/View for read-write/read-only
// transactions. The context-threaded transaction pattern
// (TxFromContext/ContextWithTx) is reused from pkg/storage/postgres/
// base_store.go's BaseStore.Querier.
package kvengine

import (
	"context"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	bolt "go.etcd.io/bbolt"
)

// Engine owns one bbolt database file and exposes the KV engine contract.
type Engine struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path.
func Open(path string, opts *bolt.Options) (*Engine, error) {
	db, err := bolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeReadFailed, err)
	}
	return &Engine{db: db}, nil
}

// Close closes the underlying database file.
func (e *Engine) Close() error {
	if err := e.db.Close(); err != nil {
		return apperrors.Wrap(apperrors.CodeWriteObjectFailed, err)
	}
	return nil
}

// Tx is a pessimistic read-write (or read-only snapshot) transaction
// spanning any number of column families.
type Tx struct {
	tx       *bolt.Tx
	writable bool
}

// Writable reports whether this Tx may mutate buckets.
func (t *Tx) Writable() bool { return t.writable }

// Update runs fn inside a read-write transaction; bbolt serializes writers
// engine-wide, which satisfies "pessimistic transactions with
// get_for_update" (spec §4.5) without a separate row-lock table. A non-nil
// return from fn rolls the whole batch back (spec §4.6.3: "partial
// failures roll back the whole batch").
func (e *Engine) Update(fn func(*Tx) error) error {
	err := e.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx, writable: true})
	})
	return mapTxError(err)
}

// View runs fn inside a read-only snapshot transaction with
// repeatable-read iteration (spec §4.5).
func (e *Engine) View(fn func(*Tx) error) error {
	err := e.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx, writable: false})
	})
	return mapTxError(err)
}

func mapTxError(err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := apperrors.As(err); ok {
		return ae
	}
	return apperrors.Wrap(apperrors.CodeTransactionConflict, err)
}

// --- context-threaded transaction (grounded on BaseStore.Querier) ---------

type txKey struct{}

// TxFromContext extracts a Tx previously attached by ContextWithTx.
func TxFromContext(ctx context.Context) *Tx {
	tx, _ := ctx.Value(txKey{}).(*Tx)
	return tx
}

// ContextWithTx attaches tx to ctx so nested storage-engine calls can find
// and reuse the ambient transaction instead of opening a new one.
func ContextWithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Bucket is a named column family.
type Bucket struct {
	b *bolt.Bucket
}

// Bucket looks up an existing column family by name, NOT_FOUND if absent.
func (t *Tx) Bucket(name string) (*Bucket, error) {
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "column family %q not found", name)
	}
	return &Bucket{b: b}, nil
}

// CreateBucketIfNotExists creates name if it does not yet exist (spec
// §4.5: "dynamically created"), returning it either way. Requires a
// writable Tx.
func (t *Tx) CreateBucketIfNotExists(name string) (*Bucket, error) {
	if !t.writable {
		return nil, apperrors.New(apperrors.CodeInvalidState)
	}
	b, err := t.tx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeWriteObjectFailed, err)
	}
	return &Bucket{b: b}, nil
}

// Get returns the value for key, or NOT_FOUND.
func (b *Bucket) Get(key []byte) ([]byte, error) {
	v := b.b.Get(key)
	if v == nil {
		return nil, apperrors.New(apperrors.CodeNotFound)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// GetForUpdate is semantically identical to Get within a writable Tx: since
// bbolt serializes all writers for the lifetime of the transaction, simply
// reading inside an Update callback already holds the row lock the spec's
// "pessimistic transactions with get_for_update" calls for.
func (b *Bucket) GetForUpdate(key []byte) ([]byte, error) {
	return b.Get(key)
}

// Put writes key → value.
func (b *Bucket) Put(key, value []byte) error {
	if err := b.b.Put(key, value); err != nil {
		return apperrors.Wrap(apperrors.CodeWriteObjectFailed, err)
	}
	return nil
}

// Delete removes key, a no-op if absent.
func (b *Bucket) Delete(key []byte) error {
	if err := b.b.Delete(key); err != nil {
		return apperrors.Wrap(apperrors.CodeWriteObjectFailed, err)
	}
	return nil
}

// Cursor returns an ordered cursor over the bucket for range/prefix
// iteration.
func (b *Bucket) Cursor() *Cursor {
	return &Cursor{c: b.b.Cursor()}
}
