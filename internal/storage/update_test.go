package storage

import "testing"

func TestApplySetAndUnset(t *testing.T) {
	obj := Object{"name": "alice", "age": int64(30)}
	out, err := Apply(obj, []UpdateField{
		{Path: []string{"name"}, Op: OpSet, Value: "bob"},
		{Path: []string{"age"}, Op: OpUnset},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["name"] != "bob" {
		t.Fatalf("expected name=bob, got %v", out["name"])
	}
	if _, ok := out["age"]; ok {
		t.Fatal("expected age to be unset")
	}
}

func TestApplyIncCreatesFieldIfAbsent(t *testing.T) {
	obj := Object{}
	out, err := Apply(obj, []UpdateField{{Path: []string{"views"}, Op: OpInc, Value: int64(1)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["views"] != int64(1) {
		t.Fatalf("expected views=1, got %v", out["views"])
	}
}

func TestApplyPushPopPushUnique(t *testing.T) {
	obj := Object{"tags": []string{"a"}}
	out, err := Apply(obj, []UpdateField{
		{Path: []string{"tags"}, Op: OpPush, Value: "b"},
		{Path: []string{"tags"}, Op: OpPushUnique, Value: "a"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tags := out["tags"].([]string)
	if len(tags) != 2 || tags[0] != "a" || tags[1] != "b" {
		t.Fatalf("unexpected tags after push: %v", tags)
	}

	out, err = Apply(out, []UpdateField{{Path: []string{"tags"}, Op: OpPop}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tags = out["tags"].([]string)
	if len(tags) != 1 || tags[0] != "a" {
		t.Fatalf("unexpected tags after pop: %v", tags)
	}
}

func TestApplyPopOnEmptyIsNoop(t *testing.T) {
	obj := Object{"tags": []string{}}
	out, err := Apply(obj, []UpdateField{{Path: []string{"tags"}, Op: OpPop}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out["tags"].([]string)) != 0 {
		t.Fatal("expected pop on empty slice to stay empty")
	}
}

func TestApplyIndexedSetOnRepeatedField(t *testing.T) {
	obj := Object{"tags": []string{"a", "b"}}
	out, err := Apply(obj, []UpdateField{{Path: ParsePath("tags.1"), Op: OpSet, Value: "c"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tags := out["tags"].([]string)
	if tags[1] != "c" {
		t.Fatalf("expected tags[1]=c, got %v", tags)
	}
}

func TestApplyRejectsIdMutation(t *testing.T) {
	id, _ := NewObjectID()
	obj := Object{"_id": id}
	if _, err := Apply(obj, []UpdateField{{Path: []string{"_id"}, Op: OpSet, Value: "x"}}); err == nil {
		t.Fatal("expected error mutating _id")
	}
}
