package bridge

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mikey-austin/media_bridge/pkg/mb"
)

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"b", "a", "c"} {
		if err := r.Register(testDescriptor(id, "meta")); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	replaced := testDescriptor("a", "meta", "stream")
	replaced.Name = "Alpha"
	if err := r.Register(replaced); err != nil {
		t.Fatalf("replace: %v", err)
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 addons, got %d", len(list))
	}
	got := []string{list[0].ID, list[1].ID, list[2].ID}
	if got[0] != "b" || got[1] != "a" || got[2] != "c" {
		t.Fatalf("unexpected order %v", got)
	}
	if list[1].Name != "Alpha" || !list[1].HasMethod("stream") {
		t.Fatalf("replacement not applied: %+v", list[1])
	}
}

func TestRegistryRejectsEmptyID(t *testing.T) {
	r := NewRegistry()
	err := r.Register(mb.AddonDescriptor{ID: "  "})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("expected invalid arguments, got %v", err)
	}
}

func TestRegistryRejectsSchemaForUndeclaredMethod(t *testing.T) {
	r := NewRegistry()
	desc := testDescriptor("a", "meta")
	desc.ArgSchemas = map[string]json.RawMessage{"stream": json.RawMessage(`{"type":"object"}`)}
	if err := r.Register(desc); err == nil {
		t.Fatalf("expected error")
	}
	if r.Len() != 0 {
		t.Fatalf("failed registration must not add the addon")
	}
}

func TestRegistryRejectsBrokenSchema(t *testing.T) {
	r := NewRegistry()
	desc := testDescriptor("a", "meta")
	desc.ArgSchemas = map[string]json.RawMessage{"meta": json.RawMessage(`{"type":`)}
	if err := r.Register(desc); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRegistryUnregisterReindexes(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		_ = r.Register(testDescriptor(id))
	}
	if !r.Unregister("a") {
		t.Fatalf("expected a to be removed")
	}
	if r.Unregister("a") {
		t.Fatalf("second unregister should report absent")
	}
	desc, ok := r.Get("c")
	if !ok || desc.ID != "c" {
		t.Fatalf("expected c after reindex, got %+v %v", desc, ok)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 addons, got %d", r.Len())
	}
}

func TestRegistryReturnsCopies(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(testDescriptor("a", "meta"))
	desc, _ := r.Get("a")
	desc.Methods[0] = "mutated"

	again, _ := r.Get("a")
	if again.Methods[0] != "meta" {
		t.Fatalf("registry state leaked through Get")
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(testDescriptor("a"))
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
	if _, ok := r.Get("a"); ok {
		t.Fatalf("expected a to be gone")
	}
}

func TestRegistryMethodsNeverNil(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(mb.AddonDescriptor{ID: "a"})
	text, err := mb.Encode(r.List())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if text != `[{"id":"a","name":"","methods":[]}]` {
		t.Fatalf("unexpected encoding %s", text)
	}
}
