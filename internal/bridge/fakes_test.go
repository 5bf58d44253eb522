package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

type fakeTransport struct {
	descs   []mb.AddonDescriptor
	catalog map[string]mb.Catalog
	invoke  func(ctx context.Context, addonID string, method string, args any) (any, error)
	calls   atomic.Int32
}

func (f *fakeTransport) Descriptors() []mb.AddonDescriptor {
	return f.descs
}

func (f *fakeTransport) Catalog(ctx context.Context, addonID string) (mb.Catalog, error) {
	catalog, ok := f.catalog[addonID]
	if !ok {
		return mb.Catalog{}, ports.ErrUnavailable
	}
	return catalog, nil
}

func (f *fakeTransport) Invoke(ctx context.Context, addonID string, method string, args any) (any, error) {
	f.calls.Add(1)
	if f.invoke == nil {
		return map[string]any{"echo": args}, nil
	}
	return f.invoke(ctx, addonID, method, args)
}

type fakeLibrary struct {
	mu       sync.Mutex
	items    map[string]mb.LibraryItem
	progress []int64
	failList error
}

func newFakeLibrary(items ...mb.LibraryItem) *fakeLibrary {
	lib := &fakeLibrary{items: map[string]mb.LibraryItem{}}
	for _, item := range items {
		lib.items[item.ID] = item
	}
	return lib
}

func (f *fakeLibrary) List(ctx context.Context) ([]mb.LibraryItem, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mb.LibraryItem, 0, len(f.items))
	for _, item := range f.items {
		out = append(out, item)
	}
	return out, nil
}

func (f *fakeLibrary) Get(ctx context.Context, itemID string) (mb.LibraryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return mb.LibraryItem{}, ports.ErrNotFound
	}
	return item, nil
}

func (f *fakeLibrary) Upsert(ctx context.Context, item mb.LibraryItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = item
	return nil
}

func (f *fakeLibrary) UpdateProgress(ctx context.Context, itemID string, positionMS int64, durationMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return ports.ErrNotFound
	}
	item.TimeOffset = positionMS
	if durationMS > 0 {
		item.DurationMS = durationMS
	}
	f.items[itemID] = item
	f.progress = append(f.progress, positionMS)
	return nil
}

func (f *fakeLibrary) MarkWatched(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return ports.ErrNotFound
	}
	item.Watched = true
	f.items[itemID] = item
	return nil
}

func (f *fakeLibrary) Remove(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[itemID]; !ok {
		return ports.ErrNotFound
	}
	delete(f.items, itemID)
	return nil
}

func (f *fakeLibrary) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.items[id]
	return ok
}

func (f *fakeLibrary) item(id string) mb.LibraryItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

func (f *fakeLibrary) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.progress)
}

type fakeSearch struct {
	hits []mb.SearchHit
	err  error
}

func (f fakeSearch) Search(ctx context.Context, query string) ([]mb.SearchHit, error) {
	return f.hits, f.err
}

type fakeSignals struct {
	markers []ports.IntroMarker
	err     error
}

func (f fakeSignals) Lookup(ctx context.Context, itemID string, durationMS int64) ([]ports.IntroMarker, error) {
	return f.markers, f.err
}

type fakeMarkers struct {
	mu     sync.Mutex
	marked map[string][]ports.IntroMarker
}

func (f *fakeMarkers) PutMarker(ctx context.Context, itemID string, marker ports.IntroMarker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marked == nil {
		f.marked = map[string][]ports.IntroMarker{}
	}
	f.marked[itemID] = append(f.marked[itemID], marker)
	return nil
}

func (f *fakeMarkers) Lookup(ctx context.Context, itemID string, durationMS int64) ([]ports.IntroMarker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.IntroMarker(nil), f.marked[itemID]...), nil
}

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() string {
	return fmt.Sprintf("id-%d", s.n.Add(1))
}

func testDescriptor(id string, methods ...string) mb.AddonDescriptor {
	return mb.AddonDescriptor{ID: id, Name: id, Methods: methods}
}
