package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// Registry holds addon descriptors in registration order.
type Registry struct {
	mu      sync.RWMutex
	order   []mb.AddonDescriptor
	byID    map[string]int
	schemas map[string]*argSchema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: map[string]int{}, schemas: map[string]*argSchema{}}
}

// Register adds or replaces a descriptor by id. A replaced descriptor keeps
// its original position.
func (r *Registry) Register(desc mb.AddonDescriptor) error {
	if strings.TrimSpace(desc.ID) == "" {
		return newError(CodeInvalidArguments, "addon id required", nil)
	}
	desc = cloneDescriptor(desc)

	compiled := map[string]*argSchema{}
	for method, raw := range desc.ArgSchemas {
		if !desc.HasMethod(method) {
			return newError(CodeInvalidArguments, fmt.Sprintf("schema for undeclared method %q", method), nil)
		}
		schema, err := compileArgSchema(raw)
		if err != nil {
			return newError(CodeInvalidArguments, fmt.Sprintf("schema for method %q", method), err)
		}
		compiled[schemaKey(desc.ID, method)] = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.schemas {
		if strings.HasPrefix(key, desc.ID+"\x00") {
			delete(r.schemas, key)
		}
	}
	for key, schema := range compiled {
		r.schemas[key] = schema
	}

	if idx, ok := r.byID[desc.ID]; ok {
		r.checkLocked(desc.ID, idx)
		r.order[idx] = desc
		return nil
	}
	r.byID[desc.ID] = len(r.order)
	r.order = append(r.order, desc)
	return nil
}

// Unregister removes a descriptor. It reports whether one was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok {
		return false
	}
	r.checkLocked(id, idx)
	r.order = append(r.order[:idx], r.order[idx+1:]...)
	delete(r.byID, id)
	for i := idx; i < len(r.order); i++ {
		r.byID[r.order[i].ID] = i
	}
	for key := range r.schemas {
		if strings.HasPrefix(key, id+"\x00") {
			delete(r.schemas, key)
		}
	}
	return true
}

// Get returns a copy of the descriptor for id.
func (r *Registry) Get(id string) (mb.AddonDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byID[id]
	if !ok {
		return mb.AddonDescriptor{}, false
	}
	r.checkLocked(id, idx)
	return cloneDescriptor(r.order[idx]), true
}

// List returns descriptors in registration order.
func (r *Registry) List() []mb.AddonDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mb.AddonDescriptor, 0, len(r.order))
	for _, desc := range r.order {
		out = append(out, cloneDescriptor(desc))
	}
	return out
}

// Len returns the number of registered addons.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clear drops every descriptor.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = nil
	r.byID = map[string]int{}
	r.schemas = map[string]*argSchema{}
}

// resolve reads a descriptor and the schema of one of its methods under a
// single read lock.
func (r *Registry) resolve(id string, method string) (mb.AddonDescriptor, *argSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byID[id]
	if !ok {
		return mb.AddonDescriptor{}, nil, false
	}
	r.checkLocked(id, idx)
	return cloneDescriptor(r.order[idx]), r.schemas[schemaKey(id, method)], true
}

// checkLocked aborts on an index that no longer matches the order slice.
// That can only happen through a bug in this file.
func (r *Registry) checkLocked(id string, idx int) {
	if idx < 0 || idx >= len(r.order) || r.order[idx].ID != id {
		panic(fmt.Sprintf("bridge: addon registry corrupted at %q (index %d, len %d)", id, idx, len(r.order)))
	}
}

func schemaKey(id string, method string) string {
	return id + "\x00" + method
}

func cloneDescriptor(desc mb.AddonDescriptor) mb.AddonDescriptor {
	out := desc
	out.Types = append([]string(nil), desc.Types...)
	out.Resources = append([]string(nil), desc.Resources...)
	out.Methods = append([]string{}, desc.Methods...)
	if desc.Catalogs != nil {
		out.Catalogs = make([]mb.CatalogDescriptor, 0, len(desc.Catalogs))
		for _, c := range desc.Catalogs {
			c.Extra = append([]string(nil), c.Extra...)
			out.Catalogs = append(out.Catalogs, c)
		}
	}
	if desc.ArgSchemas != nil {
		out.ArgSchemas = make(map[string]json.RawMessage, len(desc.ArgSchemas))
		for k, v := range desc.ArgSchemas {
			out.ArgSchemas[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}
