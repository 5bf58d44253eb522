package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// Domain is the namespace of an action identifier.
type Domain int

const (
	DomainUnknown Domain = iota
	DomainPlayer
	DomainLifecycle
	DomainDiagnostics
	DomainLibrary
)

var domainNames = map[string]Domain{
	"Player":      DomainPlayer,
	"Lifecycle":   DomainLifecycle,
	"Diagnostics": DomainDiagnostics,
	"Library":     DomainLibrary,
}

func (d Domain) String() string {
	for name, domain := range domainNames {
		if domain == d {
			return name
		}
	}
	return "Unknown"
}

// ActionKind identifies an action the dispatcher handles. Anything else is
// KindUnrecognized and is acknowledged without effect.
type ActionKind int

const (
	KindUnrecognized ActionKind = iota
	KindPlayerPlay
	KindPlayerPause
	KindPlayerStop
	KindPlayerSeek
	KindPlayerTimeChanged
	KindPlayerSkipIntro
	KindPlayerEnded
	KindLifecycleForeground
	KindLifecycleBackground
	KindLifecycleLowMemory
	KindDiagnosticsLog
	KindDiagnosticsPing
	KindLibraryAdd
	KindLibraryRemove
	KindLibraryMarkIntro
)

var actionKinds = map[string]ActionKind{
	"Player.Play":          KindPlayerPlay,
	"Player.Pause":         KindPlayerPause,
	"Player.Stop":          KindPlayerStop,
	"Player.Seek":          KindPlayerSeek,
	"Player.TimeChanged":   KindPlayerTimeChanged,
	"Player.SkipIntro":     KindPlayerSkipIntro,
	"Player.Ended":         KindPlayerEnded,
	"Lifecycle.Foreground": KindLifecycleForeground,
	"Lifecycle.Background": KindLifecycleBackground,
	"Lifecycle.LowMemory":  KindLifecycleLowMemory,
	"Diagnostics.Log":      KindDiagnosticsLog,
	"Diagnostics.Ping":     KindDiagnosticsPing,
	"Library.Add":          KindLibraryAdd,
	"Library.Remove":       KindLibraryRemove,
	"Library.MarkIntro":    KindLibraryMarkIntro,
}

// Action is a parsed `Domain.Verb` identifier.
type Action struct {
	ID     string
	Domain Domain
	Verb   string
	Kind   ActionKind
}

// ParseAction splits an identifier into domain and verb. Unknown domains
// and verbs parse fine; only an empty or dotless identifier is malformed.
func ParseAction(id string) (Action, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Action{}, newError(CodeInvalidAction, "action identifier required", nil)
	}
	domain, verb, ok := strings.Cut(id, ".")
	if !ok || domain == "" || verb == "" || strings.ContainsAny(id, " \t\r\n") {
		return Action{}, newError(CodeInvalidAction, fmt.Sprintf("malformed action %q", id), nil)
	}
	return Action{
		ID:     id,
		Domain: domainNames[domain],
		Verb:   verb,
		Kind:   actionKinds[id],
	}, nil
}

// DispatchStats counts dispatched actions.
type DispatchStats struct {
	Player         uint64 `json:"player"`
	Lifecycle      uint64 `json:"lifecycle"`
	Diagnostics    uint64 `json:"diagnostics"`
	Library        uint64 `json:"library"`
	Unrecognized   uint64 `json:"unrecognized"`
	Malformed      uint64 `json:"malformed"`
	InvalidPayload uint64 `json:"invalidPayload"`
}

// Dispatcher routes actions to domain handling.
type Dispatcher struct {
	Tracker *PlayerTracker
	Library ports.LibraryStore
	Markers ports.IntroMarkerSink
	Log     *zap.Logger

	player         atomic.Uint64
	lifecycle      atomic.Uint64
	diagnostics    atomic.Uint64
	library        atomic.Uint64
	unrecognized   atomic.Uint64
	malformed      atomic.Uint64
	invalidPayload atomic.Uint64
}

type actionHandler func(d *Dispatcher, ctx context.Context, action Action, payload map[string]any) error

var actionHandlers = map[ActionKind]actionHandler{
	KindPlayerPlay:          (*Dispatcher).handleStatus,
	KindPlayerPause:         (*Dispatcher).handleStatus,
	KindPlayerStop:          (*Dispatcher).handleStatus,
	KindPlayerSeek:          (*Dispatcher).handleProgress,
	KindPlayerTimeChanged:   (*Dispatcher).handleProgress,
	KindPlayerSkipIntro:     (*Dispatcher).handleSkipIntro,
	KindPlayerEnded:         (*Dispatcher).handleEnded,
	KindLifecycleForeground: (*Dispatcher).handleForeground,
	KindLifecycleBackground: (*Dispatcher).handleBackground,
	KindLifecycleLowMemory:  (*Dispatcher).handleLowMemory,
	KindDiagnosticsLog:      (*Dispatcher).handleLog,
	KindDiagnosticsPing:     (*Dispatcher).handlePing,
	KindLibraryAdd:          (*Dispatcher).handleLibraryAdd,
	KindLibraryRemove:       (*Dispatcher).handleLibraryRemove,
	KindLibraryMarkIntro:    (*Dispatcher).handleMarkIntro,
}

// Dispatch acknowledges every well formed action. A payload that fails to
// decode or a handler error is logged and the action is still acknowledged.
func (d *Dispatcher) Dispatch(ctx context.Context, actionID string, payloadText string) mb.ActionAck {
	action, err := ParseAction(actionID)
	if err != nil {
		d.malformed.Add(1)
		return mb.ActionAck{Success: false, Err: errorBody(err)}
	}
	d.count(action)

	var payload map[string]any
	if strings.TrimSpace(payloadText) != "" {
		decoded, err := mb.Decode(payloadText)
		if err != nil {
			d.invalidPayload.Add(1)
			d.log().Warn("action payload rejected",
				zap.String("action", action.ID),
				zap.String("code", CodeInvalidPayload),
				zap.Error(err),
			)
			return mb.ActionAck{Success: true}
		}
		payload, _ = decoded.(map[string]any)
	}

	handler, ok := actionHandlers[action.Kind]
	if !ok {
		d.log().Debug("unrecognized action accepted", zap.String("action", action.ID))
		return mb.ActionAck{Success: true}
	}
	if err := handler(d, ctx, action, payload); err != nil {
		if CodeOf(err) == CodeInvalidPayload {
			d.invalidPayload.Add(1)
		}
		d.log().Warn("action handling failed",
			zap.String("action", action.ID),
			zap.Error(err),
		)
	}
	return mb.ActionAck{Success: true}
}

// Stats returns a snapshot of the dispatch counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Player:         d.player.Load(),
		Lifecycle:      d.lifecycle.Load(),
		Diagnostics:    d.diagnostics.Load(),
		Library:        d.library.Load(),
		Unrecognized:   d.unrecognized.Load(),
		Malformed:      d.malformed.Load(),
		InvalidPayload: d.invalidPayload.Load(),
	}
}

func (d *Dispatcher) count(action Action) {
	if action.Kind == KindUnrecognized {
		d.unrecognized.Add(1)
	}
	switch action.Domain {
	case DomainPlayer:
		d.player.Add(1)
	case DomainLifecycle:
		d.lifecycle.Add(1)
	case DomainDiagnostics:
		d.diagnostics.Add(1)
	case DomainLibrary:
		d.library.Add(1)
	}
}

func (d *Dispatcher) handleStatus(ctx context.Context, action Action, payload map[string]any) error {
	itemID := stringField(payload, "itemId")
	if itemID == "" || d.Tracker == nil {
		return nil
	}
	d.Tracker.Describe(itemID, stringField(payload, "type"), stringField(payload, "name"))
	d.Tracker.SetStatus(itemID, strings.ToLower(action.Verb))
	return nil
}

func (d *Dispatcher) handleProgress(ctx context.Context, action Action, payload map[string]any) error {
	itemID := stringField(payload, "itemId")
	if itemID == "" || d.Tracker == nil {
		return nil
	}
	position, err := msField(payload, "time")
	if err != nil {
		return err
	}
	duration, err := msField(payload, "duration")
	if err != nil {
		return err
	}
	d.Tracker.Describe(itemID, stringField(payload, "type"), stringField(payload, "name"))
	return d.Tracker.Progress(ctx, itemID, position, duration, action.Kind == KindPlayerSeek)
}

func (d *Dispatcher) handleSkipIntro(ctx context.Context, action Action, payload map[string]any) error {
	itemID := stringField(payload, "itemId")
	if itemID == "" || d.Tracker == nil {
		return nil
	}
	position, err := msField(payload, "time")
	if err != nil {
		return err
	}
	d.Tracker.SkippedIntro(itemID, position)
	return nil
}

func (d *Dispatcher) handleEnded(ctx context.Context, action Action, payload map[string]any) error {
	itemID := stringField(payload, "itemId")
	if itemID == "" || d.Tracker == nil {
		return nil
	}
	return d.Tracker.Ended(ctx, itemID)
}

func (d *Dispatcher) handleForeground(ctx context.Context, action Action, payload map[string]any) error {
	d.log().Info("host entered foreground")
	return nil
}

func (d *Dispatcher) handleBackground(ctx context.Context, action Action, payload map[string]any) error {
	if d.Tracker == nil {
		return nil
	}
	return d.Tracker.Flush(ctx)
}

func (d *Dispatcher) handleLowMemory(ctx context.Context, action Action, payload map[string]any) error {
	if d.Tracker == nil {
		return nil
	}
	err := d.Tracker.Flush(ctx)
	d.Tracker.Reset()
	return err
}

func (d *Dispatcher) handleLog(ctx context.Context, action Action, payload map[string]any) error {
	msg := stringField(payload, "message")
	fields := []zap.Field{zap.String("source", "host")}
	switch strings.ToLower(stringField(payload, "level")) {
	case "debug":
		d.log().Debug(msg, fields...)
	case "warn", "warning":
		d.log().Warn(msg, fields...)
	case "error":
		d.log().Error(msg, fields...)
	default:
		d.log().Info(msg, fields...)
	}
	return nil
}

func (d *Dispatcher) handlePing(ctx context.Context, action Action, payload map[string]any) error {
	return nil
}

// handleLibraryAdd adds an item or refreshes its metadata, keeping stored
// progress.
func (d *Dispatcher) handleLibraryAdd(ctx context.Context, action Action, payload map[string]any) error {
	itemID := stringField(payload, "itemId")
	if itemID == "" {
		return newError(CodeInvalidPayload, "itemId required", nil)
	}
	if d.Library == nil {
		return newError(CodeUpstreamUnavailable, "library store not configured", nil)
	}
	item, err := d.Library.Get(ctx, itemID)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return err
	}
	item.ID = itemID
	item.UpdatedAt = 0
	if v := stringField(payload, "type"); v != "" {
		item.Type = v
	}
	if v := stringField(payload, "name"); v != "" {
		item.Name = v
	}
	if v := stringField(payload, "poster"); v != "" {
		item.Poster = v
	}
	return d.Library.Upsert(ctx, item)
}

func (d *Dispatcher) handleLibraryRemove(ctx context.Context, action Action, payload map[string]any) error {
	itemID := stringField(payload, "itemId")
	if itemID == "" {
		return newError(CodeInvalidPayload, "itemId required", nil)
	}
	if d.Library == nil {
		return newError(CodeUpstreamUnavailable, "library store not configured", nil)
	}
	if d.Tracker != nil {
		d.Tracker.Forget(itemID)
	}
	if err := d.Library.Remove(ctx, itemID); err != nil && !errors.Is(err, ports.ErrNotFound) {
		return err
	}
	return nil
}

// handleMarkIntro records a precise intro interval, payload
// {itemId, duration, from, to} in milliseconds.
func (d *Dispatcher) handleMarkIntro(ctx context.Context, action Action, payload map[string]any) error {
	itemID := stringField(payload, "itemId")
	if itemID == "" {
		return newError(CodeInvalidPayload, "itemId required", nil)
	}
	if d.Markers == nil {
		return newError(CodeUpstreamUnavailable, "intro marker store not configured", nil)
	}
	var marker ports.IntroMarker
	var err error
	if marker.DurationMS, err = msField(payload, "duration"); err != nil {
		return err
	}
	if marker.FromMS, err = msField(payload, "from"); err != nil {
		return err
	}
	if marker.ToMS, err = msField(payload, "to"); err != nil {
		return err
	}
	if marker.DurationMS <= 0 || marker.ToMS <= marker.FromMS || marker.ToMS > marker.DurationMS {
		return newError(CodeInvalidPayload, fmt.Sprintf("invalid intro %d..%d at %d", marker.FromMS, marker.ToMS, marker.DurationMS), nil)
	}
	return d.Markers.PutMarker(ctx, itemID, marker)
}

func (d *Dispatcher) log() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// msField reads an optional non-negative millisecond value. Floats are
// truncated; a missing key reads as zero.
func msField(payload map[string]any, key string) (int64, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return 0, nil
	}
	var ms int64
	switch v := raw.(type) {
	case int64:
		ms = v
	case float64:
		// float64(MaxInt64) rounds up to 2^63, which is already out of range.
		if math.IsNaN(v) || v < 0 || v >= math.MaxInt64 {
			return 0, newError(CodeInvalidPayload, fmt.Sprintf("%s out of range", key), nil)
		}
		ms = int64(v)
	default:
		return 0, newError(CodeInvalidPayload, fmt.Sprintf("%s must be a number", key), nil)
	}
	if ms < 0 {
		return 0, newError(CodeInvalidPayload, fmt.Sprintf("negative %s %d", key, ms), nil)
	}
	return ms, nil
}
