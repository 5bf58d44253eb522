package idgen

import "github.com/google/uuid"

// Generator creates random UUIDs for invocations and commands.
type Generator struct{}

// NewID returns a UUIDv4 string, or a time ordered UUIDv7 when the random
// source fails.
func (Generator) NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Must(uuid.NewV7()).String()
	}
	return id.String()
}
