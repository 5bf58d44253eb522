package bridge

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// DefaultPersistEveryMS is how far playback may advance before a time change
// is written through to the library store.
const DefaultPersistEveryMS int64 = 10000

// Playback is the tracked state of one item.
type Playback struct {
	ItemID      string `json:"itemId"`
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	Status      string `json:"status"`
	PositionMS  int64  `json:"positionMs"`
	DurationMS  int64  `json:"durationMs"`
	IntroSkipMS int64  `json:"introSkippedAtMs,omitempty"`
	persistedMS int64
	dirty       bool
}

// PlayerTracker follows host playback and writes progress to the library.
// Progress for an item the library does not hold yet adds the item.
type PlayerTracker struct {
	Library        ports.LibraryStore
	PersistEveryMS int64
	Log            *zap.Logger

	mu    sync.Mutex
	items map[string]*Playback
}

// NewPlayerTracker creates a tracker writing to lib, which may be nil.
func NewPlayerTracker(lib ports.LibraryStore, log *zap.Logger) *PlayerTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &PlayerTracker{
		Library:        lib,
		PersistEveryMS: DefaultPersistEveryMS,
		Log:            log,
		items:          map[string]*Playback{},
	}
}

// Progress records a playback position. Seeks are written through at once,
// time changes once they moved PersistEveryMS past the last write.
func (t *PlayerTracker) Progress(ctx context.Context, itemID string, positionMS int64, durationMS int64, force bool) error {
	t.mu.Lock()
	pb := t.entryLocked(itemID)
	pb.PositionMS = positionMS
	if durationMS > 0 {
		pb.DurationMS = durationMS
	}
	if pb.Status == "" {
		pb.Status = "play"
	}
	pb.dirty = true
	delta := positionMS - pb.persistedMS
	if delta < 0 {
		delta = -delta
	}
	write := force || delta >= t.persistEvery()
	duration := pb.DurationMS
	t.mu.Unlock()

	if !write {
		return nil
	}
	return t.persist(ctx, itemID, positionMS, duration)
}

// SetStatus records play, pause or stop.
func (t *PlayerTracker) SetStatus(itemID string, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entryLocked(itemID).Status = status
}

// Describe attaches library metadata used when the item has to be created.
// Empty values keep what is already known.
func (t *PlayerTracker) Describe(itemID string, itemType string, name string) {
	if itemType == "" && name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pb := t.entryLocked(itemID)
	if itemType != "" {
		pb.Type = itemType
	}
	if name != "" {
		pb.Name = name
	}
}

// Forget drops the playback of one item without writing it.
func (t *PlayerTracker) Forget(itemID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, itemID)
}

// SkippedIntro records where the user skipped the intro.
func (t *PlayerTracker) SkippedIntro(itemID string, positionMS int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pb := t.entryLocked(itemID)
	pb.IntroSkipMS = positionMS
	t.log().Debug("intro skipped", zap.String("item", itemID), zap.Int64("at_ms", positionMS))
}

// Ended marks the item watched and forgets its playback. An item missing
// from the library is added as watched.
func (t *PlayerTracker) Ended(ctx context.Context, itemID string) error {
	t.mu.Lock()
	var known Playback
	if pb, ok := t.items[itemID]; ok {
		known = *pb
	}
	delete(t.items, itemID)
	t.mu.Unlock()

	if t.Library == nil {
		return nil
	}
	err := t.Library.MarkWatched(ctx, itemID)
	if !errors.Is(err, ports.ErrNotFound) {
		return err
	}
	return t.Library.Upsert(ctx, mb.LibraryItem{
		ID:         itemID,
		Type:       known.Type,
		Name:       known.Name,
		DurationMS: known.DurationMS,
		Watched:    true,
	})
}

// Flush writes every unsaved position to the library.
func (t *PlayerTracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	pending := make([]Playback, 0, len(t.items))
	for _, pb := range t.items {
		if pb.dirty {
			pending = append(pending, *pb)
		}
	}
	t.mu.Unlock()

	var errs []error
	for _, pb := range pending {
		if err := t.persist(ctx, pb.ItemID, pb.PositionMS, pb.DurationMS); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset drops all tracked playback.
func (t *PlayerTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = map[string]*Playback{}
}

// Snapshot returns the tracked playback of an item.
func (t *PlayerTracker) Snapshot(itemID string) (Playback, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pb, ok := t.items[itemID]
	if !ok {
		return Playback{}, false
	}
	return *pb, true
}

// Len returns the number of tracked items.
func (t *PlayerTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *PlayerTracker) persist(ctx context.Context, itemID string, positionMS int64, durationMS int64) error {
	if t.Library == nil {
		return nil
	}
	err := t.Library.UpdateProgress(ctx, itemID, positionMS, durationMS)
	if errors.Is(err, ports.ErrNotFound) {
		err = t.Library.Upsert(ctx, t.newItem(itemID, positionMS, durationMS))
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	if pb, ok := t.items[itemID]; ok && pb.PositionMS == positionMS {
		pb.persistedMS = positionMS
		pb.dirty = false
	}
	t.mu.Unlock()
	return nil
}

func (t *PlayerTracker) newItem(itemID string, positionMS int64, durationMS int64) mb.LibraryItem {
	item := mb.LibraryItem{ID: itemID, TimeOffset: positionMS, DurationMS: durationMS}
	t.mu.Lock()
	if pb, ok := t.items[itemID]; ok {
		item.Type = pb.Type
		item.Name = pb.Name
	}
	t.mu.Unlock()
	return item
}

func (t *PlayerTracker) entryLocked(itemID string) *Playback {
	if t.items == nil {
		t.items = map[string]*Playback{}
	}
	pb, ok := t.items[itemID]
	if !ok {
		pb = &Playback{ItemID: itemID}
		t.items[itemID] = pb
	}
	return pb
}

func (t *PlayerTracker) log() *zap.Logger {
	if t.Log == nil {
		return zap.NewNop()
	}
	return t.Log
}

func (t *PlayerTracker) persistEvery() int64 {
	if t.PersistEveryMS <= 0 {
		return DefaultPersistEveryMS
	}
	return t.PersistEveryMS
}
