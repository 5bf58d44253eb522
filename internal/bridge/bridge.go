package bridge

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// State is the lifecycle state of a Bridge.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "uninitialized"
	}
}

// Host identifies the application embedding the bridge.
type Host struct {
	Name    string
	Version string
	DataDir string
}

// Options wires the external collaborators. Any of them may be nil; the
// operations that need a missing collaborator fail with UPSTREAM_UNAVAILABLE.
type Options struct {
	Transport ports.AddonTransport
	Library   ports.LibraryStore
	Search    ports.SearchIndex
	Signals   ports.IntroSignalSource
	Markers   ports.IntroMarkerSink
	IDGen     ports.IDGen

	IntroCeilingMS int64
	IntroMarginMS  int64
	PersistEveryMS int64

	Log *zap.Logger
}

// Stats is a snapshot of bridge activity.
type Stats struct {
	State    string        `json:"state"`
	Addons   int           `json:"addons"`
	Tracked  int           `json:"tracked"`
	Dispatch DispatchStats `json:"dispatch"`
}

// Bridge owns the core state and exposes the text boundary operations.
// Lifecycle transitions take the write lock; every other operation runs
// under the read lock so it never overlaps Init or Shutdown.
type Bridge struct {
	opts Options
	log  *zap.Logger

	mu    sync.RWMutex
	state State
	host  Host

	registry   *Registry
	invoker    *Invoker
	resolver   SkipIntroResolver
	tracker    *PlayerTracker
	dispatcher *Dispatcher
}

// New builds an uninitialized bridge.
func New(opts Options) *Bridge {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	registry := NewRegistry()
	tracker := NewPlayerTracker(opts.Library, log.Named("player"))
	if opts.PersistEveryMS > 0 {
		tracker.PersistEveryMS = opts.PersistEveryMS
	}
	return &Bridge{
		opts:     opts,
		log:      log,
		registry: registry,
		invoker: &Invoker{
			Registry:  registry,
			Transport: opts.Transport,
			IDGen:     opts.IDGen,
			Log:       log.Named("invoker"),
		},
		resolver: SkipIntroResolver{
			Signals:   opts.Signals,
			CeilingMS: opts.IntroCeilingMS,
			MarginMS:  opts.IntroMarginMS,
			Log:       log.Named("skipintro"),
		},
		tracker: tracker,
		dispatcher: &Dispatcher{
			Tracker: tracker,
			Library: opts.Library,
			Markers: opts.Markers,
			Log:     log.Named("dispatch"),
		},
	}
}

// Init moves the bridge to Ready and registers the transport's addons.
// Calling it while Ready does nothing.
func (b *Bridge) Init(host Host) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateReady {
		return nil
	}
	if b.opts.Transport != nil {
		for _, desc := range b.opts.Transport.Descriptors() {
			if err := b.registry.Register(desc); err != nil {
				b.registry.Clear()
				return fmt.Errorf("register addon %q: %w", desc.ID, err)
			}
		}
	}
	b.host = host
	b.state = StateReady
	b.log.Info("bridge ready",
		zap.String("host", host.Name),
		zap.String("host_version", host.Version),
		zap.Int("addons", b.registry.Len()),
	)
	return nil
}

// Shutdown flushes tracked playback and clears the registry. Calling it
// while uninitialized does nothing.
func (b *Bridge) Shutdown(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateUninitialized {
		return
	}
	b.state = StateShuttingDown
	if err := b.tracker.Flush(ctx); err != nil {
		b.log.Warn("flush playback on shutdown", zap.Error(err))
	}
	b.tracker.Reset()
	b.registry.Clear()
	b.host = Host{}
	b.state = StateUninitialized
	b.log.Info("bridge shut down")
}

// State returns the lifecycle state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// RegisterAddon adds or replaces an addon descriptor while Ready.
func (b *Bridge) RegisterAddon(desc mb.AddonDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateReady {
		return newError(CodeNotInitialized, "bridge is not initialized", nil)
	}
	return b.registry.Register(desc)
}

// GetAddons encodes the registered addons in registration order.
func (b *Bridge) GetAddons() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.readyLocked(); err != nil {
		return encodeFailure(err)
	}
	return encodeValue(b.registry.List())
}

// GetLibrary encodes the library listing.
func (b *Bridge) GetLibrary(ctx context.Context) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.readyLocked(); err != nil {
		return encodeFailure(err)
	}
	if b.opts.Library == nil {
		return encodeFailure(newError(CodeUpstreamUnavailable, "no library store configured", nil))
	}
	items, err := b.opts.Library.List(ctx)
	if err != nil {
		return encodeFailure(classifyUpstream(err))
	}
	if items == nil {
		items = []mb.LibraryItem{}
	}
	return encodeValue(items)
}

// Search encodes ranked results for query.
func (b *Bridge) Search(ctx context.Context, query string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.readyLocked(); err != nil {
		return encodeFailure(err)
	}
	if b.opts.Search == nil {
		return encodeFailure(newError(CodeUpstreamUnavailable, "no search index configured", nil))
	}
	hits, err := b.opts.Search.Search(ctx, query)
	if err != nil {
		return encodeFailure(classifyUpstream(err))
	}
	if hits == nil {
		hits = []mb.SearchHit{}
	}
	return encodeValue(hits)
}

// GetAddonCatalog encodes the catalog of addonID.
func (b *Bridge) GetAddonCatalog(ctx context.Context, addonID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.readyLocked(); err != nil {
		return encodeFailure(err)
	}
	catalog, err := b.invoker.Catalog(ctx, addonID)
	if err != nil {
		return encodeFailure(err)
	}
	return encodeValue(catalog)
}

// InvokeAddon encodes the InvocationResult of an addon call.
func (b *Bridge) InvokeAddon(ctx context.Context, addonID string, method string, argsText string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result mb.InvocationResult
	if err := b.readyLocked(); err != nil {
		result = failed(mb.InvocationResult{}, err)
	} else {
		result = b.invoker.Invoke(ctx, addonID, method, argsText)
	}

	text, err := mb.Encode(result)
	if err != nil {
		// The addon returned something the codec cannot carry.
		text, _ = mb.Encode(failed(result, newError(CodeEncodeError, "addon result is not encodable", err)))
	}
	return text
}

// DispatchAction encodes the acknowledgement of a host action.
func (b *Bridge) DispatchAction(ctx context.Context, action string, payloadText string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.readyLocked(); err != nil {
		return encodeValue(mb.ActionAck{Success: false, Err: errorBody(err)})
	}
	return encodeValue(b.dispatcher.Dispatch(ctx, action, payloadText))
}

// GetSkipIntroData encodes the intro intervals of itemID.
func (b *Bridge) GetSkipIntroData(ctx context.Context, itemID string, durationMS int64) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.readyLocked(); err != nil {
		return encodeFailure(err)
	}
	result, err := b.resolver.Resolve(ctx, itemID, durationMS)
	if err != nil {
		return encodeFailure(err)
	}
	return encodeValue(result)
}

// InvokeAddonAsync runs InvokeAddon on its own goroutine. The channel
// receives exactly one encoded result.
func (b *Bridge) InvokeAddonAsync(ctx context.Context, addonID string, method string, argsText string) <-chan string {
	out := make(chan string, 1)
	go func() {
		out <- b.InvokeAddon(ctx, addonID, method, argsText)
		close(out)
	}()
	return out
}

// DispatchActionAsync runs DispatchAction on its own goroutine.
func (b *Bridge) DispatchActionAsync(ctx context.Context, action string, payloadText string) <-chan string {
	out := make(chan string, 1)
	go func() {
		out <- b.DispatchAction(ctx, action, payloadText)
		close(out)
	}()
	return out
}

// Stats returns counters and lifecycle state.
func (b *Bridge) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		State:    b.state.String(),
		Addons:   b.registry.Len(),
		Tracked:  b.tracker.Len(),
		Dispatch: b.dispatcher.Stats(),
	}
}

func (b *Bridge) readyLocked() *Error {
	if b.state != StateReady {
		return newError(CodeNotInitialized, "bridge is not initialized", nil)
	}
	return nil
}

// fallbackFailure is used only when an error envelope itself fails to encode.
const fallbackFailure = `{"error":{"code":"ENCODE_ERROR","message":"response could not be encoded"}}`

func encodeValue(v any) string {
	text, err := mb.Encode(v)
	if err != nil {
		return encodeFailure(newError(CodeEncodeError, "response could not be encoded", err))
	}
	return text
}

func encodeFailure(err error) string {
	text, encErr := mb.Encode(mb.ErrorEnvelope{Error: *errorBody(err)})
	if encErr != nil {
		return fallbackFailure
	}
	return text
}
