package idgen

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewIDIsUniqueUUID(t *testing.T) {
	gen := Generator{}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := gen.NewID()
		parsed, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("parse %q: %v", id, err)
		}
		if parsed.Version() != 4 {
			t.Fatalf("expected v4, got %d", parsed.Version())
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
