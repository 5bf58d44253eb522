package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mikey-austin/media_bridge/internal/adapters/clock"
	"github.com/mikey-austin/media_bridge/internal/adapters/store"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

func newTestBridge(t *testing.T, opts Options) *Bridge {
	t.Helper()
	b := New(opts)
	if err := b.Init(Host{Name: "test"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	return b
}

func decodeError(t *testing.T, text string) mb.ErrorBody {
	t.Helper()
	var env mb.ErrorEnvelope
	if err := mb.DecodeInto(text, &env); err != nil {
		t.Fatalf("decode %s: %v", text, err)
	}
	return env.Error
}

func TestBridgeRequiresInit(t *testing.T) {
	b := New(Options{Transport: &fakeTransport{}, Library: newFakeLibrary(), Search: fakeSearch{}})
	ctx := context.Background()

	for name, text := range map[string]string{
		"addons":    b.GetAddons(),
		"library":   b.GetLibrary(ctx),
		"search":    b.Search(ctx, "x"),
		"catalog":   b.GetAddonCatalog(ctx, "a"),
		"skipintro": b.GetSkipIntroData(ctx, "x", 1000),
	} {
		if got := decodeError(t, text); got.Code != CodeNotInitialized {
			t.Fatalf("%s: expected NOT_INITIALIZED, got %+v", name, got)
		}
	}

	var res mb.InvocationResult
	if err := mb.DecodeInto(b.InvokeAddon(ctx, "a", "meta", "{}"), &res); err != nil {
		t.Fatalf("decode invoke: %v", err)
	}
	if res.OK || res.Err == nil || res.Err.Code != CodeNotInitialized {
		t.Fatalf("expected NOT_INITIALIZED invocation, got %+v", res)
	}

	var ack mb.ActionAck
	if err := mb.DecodeInto(b.DispatchAction(ctx, "Player.Seek", "{}"), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Success {
		t.Fatalf("dispatch must fail before init")
	}
	if err := b.RegisterAddon(testDescriptor("x")); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected NOT_INITIALIZED, got %v", err)
	}
}

func TestBridgeInitIdempotent(t *testing.T) {
	transport := &fakeTransport{descs: []mb.AddonDescriptor{testDescriptor("a", "meta"), testDescriptor("b", "meta")}}
	b := New(Options{Transport: transport})

	for i := 0; i < 2; i++ {
		if err := b.Init(Host{Name: "test"}); err != nil {
			t.Fatalf("init %d: %v", i, err)
		}
	}
	if b.State() != StateReady {
		t.Fatalf("expected ready, got %s", b.State())
	}
	var addons []mb.AddonDescriptor
	if err := mb.DecodeInto(b.GetAddons(), &addons); err != nil {
		t.Fatalf("decode addons: %v", err)
	}
	if len(addons) != 2 || addons[0].ID != "a" || addons[1].ID != "b" {
		t.Fatalf("unexpected addons %+v", addons)
	}
}

func TestBridgeInitRejectsBadDescriptor(t *testing.T) {
	transport := &fakeTransport{descs: []mb.AddonDescriptor{testDescriptor("a"), {ID: ""}}}
	b := New(Options{Transport: transport})
	if err := b.Init(Host{}); err == nil {
		t.Fatalf("expected init error")
	}
	if b.State() != StateUninitialized {
		t.Fatalf("failed init must stay uninitialized")
	}
	if b.Stats().Addons != 0 {
		t.Fatalf("failed init must not leave addons behind")
	}
}

func TestBridgeShutdownClearsRegistry(t *testing.T) {
	transport := &fakeTransport{descs: []mb.AddonDescriptor{testDescriptor("a", "meta")}}
	b := newTestBridge(t, Options{Transport: transport})
	if err := b.RegisterAddon(testDescriptor("extra")); err != nil {
		t.Fatalf("register: %v", err)
	}

	b.Shutdown(context.Background())
	b.Shutdown(context.Background())
	if b.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %s", b.State())
	}
	if b.Stats().Addons != 0 {
		t.Fatalf("registry should be cleared")
	}

	if err := b.Init(Host{}); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	if b.Stats().Addons != 1 {
		t.Fatalf("expected only transport addons after re-init, got %d", b.Stats().Addons)
	}
}

func TestBridgeShutdownFlushesPlayback(t *testing.T) {
	lib := newFakeLibrary(mb.LibraryItem{ID: "tt1"})
	b := newTestBridge(t, Options{Library: lib})
	ctx := context.Background()

	b.DispatchAction(ctx, "Player.TimeChanged", `{"itemId":"tt1","time":2000,"duration":60000}`)
	b.Shutdown(ctx)
	if got := lib.item("tt1").TimeOffset; got != 2000 {
		t.Fatalf("expected flushed progress, got %d", got)
	}
}

func TestBridgeInvokeAddon(t *testing.T) {
	transport := &fakeTransport{descs: []mb.AddonDescriptor{testDescriptor("a", "meta")}}
	b := newTestBridge(t, Options{Transport: transport, IDGen: &seqIDs{}})
	ctx := context.Background()

	text := b.InvokeAddon(ctx, "a", "meta", `{"id":"tt1"}`)
	if text != `{"id":"id-1","ok":true,"result":{"echo":{"id":"tt1"}}}` {
		t.Fatalf("unexpected result %s", text)
	}

	var res mb.InvocationResult
	_ = mb.DecodeInto(b.InvokeAddon(ctx, "nope", "meta", `{}`), &res)
	if res.Err == nil || res.Err.Code != CodeUnknownAddon {
		t.Fatalf("expected UNKNOWN_ADDON, got %+v", res)
	}

	res = mb.InvocationResult{}
	_ = mb.DecodeInto(b.InvokeAddon(ctx, "a", "stream", `{}`), &res)
	if res.Err == nil || res.Err.Code != CodeUnsupportedMethod {
		t.Fatalf("expected UNSUPPORTED_METHOD, got %+v", res)
	}
	if transport.calls.Load() != 1 {
		t.Fatalf("expected one transport call, got %d", transport.calls.Load())
	}
}

func TestBridgeInvokeUnencodableResult(t *testing.T) {
	transport := &fakeTransport{
		descs: []mb.AddonDescriptor{testDescriptor("a", "meta")},
		invoke: func(context.Context, string, string, any) (any, error) {
			return map[string]any{"f": func() {}}, nil
		},
	}
	b := newTestBridge(t, Options{Transport: transport})

	var res mb.InvocationResult
	if err := mb.DecodeInto(b.InvokeAddon(context.Background(), "a", "meta", `{}`), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.OK || res.Err == nil || res.Err.Code != CodeEncodeError {
		t.Fatalf("expected ENCODE_ERROR, got %+v", res)
	}
}

func TestBridgeDispatchAction(t *testing.T) {
	b := newTestBridge(t, Options{})
	ctx := context.Background()

	if got := b.DispatchAction(ctx, "Player.Seek", `{"itemId":"tt1","time":10,"duration":100}`); got != `{"success":true}` {
		t.Fatalf("unexpected ack %s", got)
	}
	got := b.DispatchAction(ctx, "", "")
	if !strings.HasPrefix(got, `{"success":false`) {
		t.Fatalf("unexpected ack %s", got)
	}
	if b.Stats().Dispatch.Player != 1 {
		t.Fatalf("expected player counter")
	}
}

func TestBridgeSkipIntroData(t *testing.T) {
	b := newTestBridge(t, Options{})
	ctx := context.Background()

	got := b.GetSkipIntroData(ctx, "tt1", 90000)
	want := `{"accuracy":"byDuration","intros":{"85000":{"from":0,"to":85000},"90000":{"from":0,"to":90000}}}`
	if got != want {
		t.Fatalf("unexpected result\n got %s\nwant %s", got, want)
	}
	if got := b.GetSkipIntroData(ctx, "tt1", 0); got != `{"accuracy":"none","intros":{}}` {
		t.Fatalf("unexpected zero duration result %s", got)
	}
	if e := decodeError(t, b.GetSkipIntroData(ctx, "tt1", -5)); e.Code != CodeInvalidDuration {
		t.Fatalf("expected INVALID_DURATION, got %+v", e)
	}
}

func TestBridgeLibraryAndSearch(t *testing.T) {
	lib := newFakeLibrary(mb.LibraryItem{ID: "tt1", Type: "movie", Name: "One"})
	search := fakeSearch{hits: []mb.SearchHit{{Source: "library", Item: mb.MetaPreview{ID: "tt1", Type: "movie", Name: "One"}, Score: 1}}}
	b := newTestBridge(t, Options{Library: lib, Search: search})
	ctx := context.Background()

	var items []mb.LibraryItem
	if err := mb.DecodeInto(b.GetLibrary(ctx), &items); err != nil {
		t.Fatalf("decode library: %v", err)
	}
	if len(items) != 1 || items[0].Name != "One" {
		t.Fatalf("unexpected library %+v", items)
	}

	var hits []mb.SearchHit
	if err := mb.DecodeInto(b.Search(ctx, "one"), &hits); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(hits) != 1 || hits[0].Item.ID != "tt1" {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestBridgeMissingCollaborators(t *testing.T) {
	b := newTestBridge(t, Options{})
	ctx := context.Background()
	if e := decodeError(t, b.GetLibrary(ctx)); e.Code != CodeUpstreamUnavailable {
		t.Fatalf("expected UPSTREAM_UNAVAILABLE, got %+v", e)
	}
	if e := decodeError(t, b.Search(ctx, "x")); e.Code != CodeUpstreamUnavailable {
		t.Fatalf("expected UPSTREAM_UNAVAILABLE, got %+v", e)
	}
	if e := decodeError(t, b.GetAddonCatalog(ctx, "x")); e.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %+v", e)
	}
}

func TestBridgeEmptyLibraryEncodesEmptyList(t *testing.T) {
	b := newTestBridge(t, Options{Library: newFakeLibrary(), Search: fakeSearch{}})
	if got := b.GetLibrary(context.Background()); got != `[]` {
		t.Fatalf("expected [], got %s", got)
	}
	if got := b.Search(context.Background(), "x"); got != `[]` {
		t.Fatalf("expected [], got %s", got)
	}
}

func TestBridgeAsync(t *testing.T) {
	transport := &fakeTransport{descs: []mb.AddonDescriptor{testDescriptor("a", "meta")}}
	b := newTestBridge(t, Options{Transport: transport})
	ctx := context.Background()

	inv := <-b.InvokeAddonAsync(ctx, "a", "meta", `{}`)
	if !strings.Contains(inv, `"ok":true`) {
		t.Fatalf("unexpected async result %s", inv)
	}
	if ack := <-b.DispatchActionAsync(ctx, "Diagnostics.Ping", ""); ack != `{"success":true}` {
		t.Fatalf("unexpected async ack %s", ack)
	}
}

func TestBridgeConcurrentUse(t *testing.T) {
	transport := &fakeTransport{descs: []mb.AddonDescriptor{testDescriptor("a", "meta")}}
	b := New(Options{Transport: transport})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch (i + j) % 5 {
				case 0:
					_ = b.Init(Host{})
				case 1:
					b.Shutdown(ctx)
				case 2:
					checkEnvelope(t, b.InvokeAddon(ctx, "a", "meta", `{}`))
				case 3:
					checkEnvelope(t, b.DispatchAction(ctx, "Player.Seek", `{}`))
				default:
					checkEnvelope(t, b.GetAddons())
				}
			}
		}(i)
	}
	wg.Wait()
}

func checkEnvelope(t *testing.T, text string) {
	if _, err := mb.Decode(text); err != nil {
		t.Errorf("malformed response %q: %v", text, err)
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", clock.Fixed(1700000000))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestBridgePlaybackFillsLibrary(t *testing.T) {
	st := openStore(t)
	b := newTestBridge(t, Options{Library: st, Signals: st, Markers: st})
	ctx := context.Background()

	if got := b.DispatchAction(ctx, "Player.Seek", `{"itemId":"tt1","time":120000,"duration":3600000}`); got != `{"success":true}` {
		t.Fatalf("unexpected ack %s", got)
	}
	var items []mb.LibraryItem
	if err := mb.DecodeInto(b.GetLibrary(ctx), &items); err != nil {
		t.Fatalf("decode library: %v", err)
	}
	if len(items) != 1 || items[0].ID != "tt1" || items[0].TimeOffset != 120000 {
		t.Fatalf("expected seek to add tt1, got %+v", items)
	}

	b.DispatchAction(ctx, "Player.Ended", `{"itemId":"tt1"}`)
	b.DispatchAction(ctx, "Library.Add", `{"itemId":"tt2","type":"movie","name":"Two"}`)
	b.Shutdown(ctx)
	if err := b.Init(Host{Name: "test"}); err != nil {
		t.Fatalf("re-init: %v", err)
	}

	items = nil
	if err := mb.DecodeInto(b.GetLibrary(ctx), &items); err != nil {
		t.Fatalf("decode library: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected two items, got %+v", items)
	}
	for _, item := range items {
		if item.ID == "tt1" && !item.Watched {
			t.Fatalf("expected tt1 watched, got %+v", item)
		}
	}

	b.DispatchAction(ctx, "Library.Remove", `{"itemId":"tt2"}`)
	items = nil
	if err := mb.DecodeInto(b.GetLibrary(ctx), &items); err != nil {
		t.Fatalf("decode library: %v", err)
	}
	if len(items) != 1 || items[0].ID != "tt1" {
		t.Fatalf("expected only tt1 after remove, got %+v", items)
	}
}

func TestBridgeMarkedIntroIsExact(t *testing.T) {
	st := openStore(t)
	b := newTestBridge(t, Options{Library: st, Signals: st, Markers: st})
	ctx := context.Background()

	b.DispatchAction(ctx, "Library.MarkIntro", `{"itemId":"tt1","duration":2700000,"from":30000,"to":95000}`)

	var result mb.SkipIntroResult
	if err := mb.DecodeInto(b.GetSkipIntroData(ctx, "tt1", 2700000), &result); err != nil {
		t.Fatalf("decode skip intro: %v", err)
	}
	if result.Accuracy != mb.AccuracyExact {
		t.Fatalf("expected exact accuracy, got %+v", result)
	}
	if got := result.Intros[2700000]; got.From != 30000 || got.To != 95000 {
		t.Fatalf("unexpected interval %+v", result.Intros)
	}
}
