package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/kvengine"
)

func openTestEngine(t *testing.T, opts EngineOptions) (*Engine, *kvengine.Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	kv, err := kvengine.Open(path, nil)
	if err != nil {
		t.Fatalf("unexpected error opening kv engine: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	e, err := NewEngine(kv, opts)
	if err != nil {
		t.Fatalf("unexpected error constructing storage engine: %v", err)
	}
	t.Cleanup(e.Close)
	return e, kv
}

func userModel() *Model {
	return &Model{
		ID:      "m_users",
		Version: 1,
		FieldTypes: map[string]FieldType{
			"login": FieldString,
			"age":   FieldSignedInt,
		},
		Indexes: []IndexDef{
			{ID: "by_login", Fields: []IndexFieldDef{{Name: "login", Type: FieldString}}, Unique: true},
			{ID: "by_age", Fields: []IndexFieldDef{{Name: "age", Type: FieldSignedInt}}},
		},
	}
}

func TestCreateReadRoundTrip(t *testing.T) {
	e, _ := openTestEngine(t, EngineOptions{})
	m := userModel()
	e.RegisterModel(m)

	obj := Object{"login": "alice", "age": int64(30)}
	id, err := e.Create("tenant-a", m, obj)
	if err != nil {
		t.Fatalf("unexpected error creating: %v", err)
	}

	got, err := e.Read("tenant-a", m, id)
	if err != nil {
		t.Fatalf("unexpected error reading: %v", err)
	}
	if got["login"] != "alice" || got["age"] != int64(30) {
		t.Fatalf("unexpected object after read: %v", got)
	}
}

func TestCreateEnforcesUniqueIndex(t *testing.T) {
	e, _ := openTestEngine(t, EngineOptions{})
	m := userModel()
	e.RegisterModel(m)

	if _, err := e.Create("tenant-a", m, Object{"login": "alice", "age": int64(30)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := e.Create("tenant-a", m, Object{"login": "alice", "age": int64(31)})
	if !apperrors.Is(err, apperrors.CodeUniqueConstraint) {
		t.Fatalf("expected UNIQUE_CONSTRAINT, got %v", err)
	}
}

func TestUpdateRecomputesIndexAndRead(t *testing.T) {
	e, _ := openTestEngine(t, EngineOptions{})
	m := userModel()
	e.RegisterModel(m)

	id, err := e.Create("tenant-a", m, Object{"login": "alice", "age": int64(30)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := e.Update("tenant-a", m, id, []UpdateField{{Path: []string{"age"}, Op: OpInc, Value: int64(1)}})
	if err != nil {
		t.Fatalf("unexpected error updating: %v", err)
	}
	if updated["age"] != int64(31) {
		t.Fatalf("expected age=31 after inc, got %v", updated["age"])
	}

	found, err := e.FindByIndex("tenant-a", m, "by_age", []FieldQuery{{Name: "age", Op: OpEq, Value: int64(31)}}, 0)
	if err != nil {
		t.Fatalf("unexpected error finding by age: %v", err)
	}
	if len(found) != 1 || found[0]["login"] != "alice" {
		t.Fatalf("expected to find updated object by new index value, got %v", found)
	}

	found, err = e.FindByIndex("tenant-a", m, "by_age", []FieldQuery{{Name: "age", Op: OpEq, Value: int64(30)}}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected stale index entry to be gone, got %v", found)
	}
}

func TestDeleteRemovesObjectAndIndexes(t *testing.T) {
	e, _ := openTestEngine(t, EngineOptions{})
	m := userModel()
	e.RegisterModel(m)

	id, err := e.Create("tenant-a", m, Object{"login": "alice", "age": int64(30)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.Delete("tenant-a", m, id); err != nil {
		t.Fatalf("unexpected error deleting: %v", err)
	}
	if _, err := e.Read("tenant-a", m, id); !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND after delete, got %v", err)
	}
	found, err := e.FindByIndex("tenant-a", m, "by_login", []FieldQuery{{Name: "login", Op: OpEq, Value: "alice"}}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected index entry removed after delete, got %v", found)
	}
}

func TestFindByIndexOrdersSignedIntsAscending(t *testing.T) {
	e, _ := openTestEngine(t, EngineOptions{})
	m := userModel()
	e.RegisterModel(m)

	for i, login := range []string{"a", "b", "c"} {
		age := int64(i*10 - 10) // -10, 0, 10
		if _, err := e.Create("tenant-a", m, Object{"login": login, "age": age}); err != nil {
			t.Fatalf("unexpected error creating %s: %v", login, err)
		}
	}

	found, err := e.FindByIndex("tenant-a", m, "by_age", []FieldQuery{{Name: "age", Op: OpGte, Value: int64(-100)}}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("expected 3 results, got %d", len(found))
	}
	var ages []int64
	for _, o := range found {
		ages = append(ages, o["age"].(int64))
	}
	if ages[0] != -10 || ages[1] != 0 || ages[2] != 10 {
		t.Fatalf("expected ascending age order, got %v", ages)
	}
}

func TestFindByIndexRespectsLimit(t *testing.T) {
	e, _ := openTestEngine(t, EngineOptions{})
	m := userModel()
	e.RegisterModel(m)

	for _, login := range []string{"a", "b", "c", "d"} {
		if _, err := e.Create("tenant-a", m, Object{"login": login, "age": int64(1)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	found, err := e.FindByIndex("tenant-a", m, "by_age", []FieldQuery{{Name: "age", Op: OpEq, Value: int64(1)}}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(found))
	}
}

func sessionModel() *Model {
	return &Model{
		ID:       "m_sessions",
		Version:  1,
		TTLField: "expires_at",
		FieldTypes: map[string]FieldType{
			"token":      FieldString,
			"expires_at": FieldSignedInt,
		},
		Indexes: []IndexDef{
			{ID: "by_token", Fields: []IndexFieldDef{{Name: "token", Type: FieldString}}, Unique: true},
		},
	}
}

func TestTTLExpiredObjectHiddenOnRead(t *testing.T) {
	e, _ := openTestEngine(t, EngineOptions{})
	m := sessionModel()
	e.RegisterModel(m)

	id, err := e.Create("tenant-a", m, Object{
		"token":      "tok1",
		"expires_at": time.Now().Add(-time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("unexpected error creating: %v", err)
	}
	if _, err := e.Read("tenant-a", m, id); !apperrors.Is(err, apperrors.CodeNotFound) {
		t.Fatalf("expected expired object to read as NOT_FOUND, got %v", err)
	}
}

func TestSweepExpiredDeletesObjectAndIndex(t *testing.T) {
	e, _ := openTestEngine(t, EngineOptions{})
	m := sessionModel()
	e.RegisterModel(m)

	if _, err := e.Create("tenant-a", m, Object{
		"token":      "tok1",
		"expires_at": time.Now().Add(-time.Hour).Unix(),
	}); err != nil {
		t.Fatalf("unexpected error creating: %v", err)
	}
	if err := e.SweepExpired(); err != nil {
		t.Fatalf("unexpected error sweeping: %v", err)
	}
	found, err := e.FindByIndex("tenant-a", m, "by_token", []FieldQuery{{Name: "token", Op: OpEq, Value: "tok1"}}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected swept object's index entry to be gone, got %v", found)
	}
}
