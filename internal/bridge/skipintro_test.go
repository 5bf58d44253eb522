package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

func TestSkipIntroHeuristicFullCeiling(t *testing.T) {
	res, err := SkipIntroResolver{}.Resolve(context.Background(), "tt1", 90000)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Accuracy != mb.AccuracyByDuration {
		t.Fatalf("expected byDuration, got %s", res.Accuracy)
	}
	if got := res.Intros[90000]; got != (mb.SkipInterval{From: 0, To: 90000}) {
		t.Fatalf("unexpected primary %+v", got)
	}
	if got := res.Intros[85000]; got != (mb.SkipInterval{From: 0, To: 85000}) {
		t.Fatalf("unexpected secondary %+v", got)
	}
}

func TestSkipIntroHeuristicClampsToDuration(t *testing.T) {
	res, err := SkipIntroResolver{}.Resolve(context.Background(), "tt1", 50000)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := res.Intros[50000]; got != (mb.SkipInterval{From: 0, To: 50000}) {
		t.Fatalf("unexpected primary %+v", got)
	}
}

func TestSkipIntroLongDurationUsesCeiling(t *testing.T) {
	res, _ := SkipIntroResolver{}.Resolve(context.Background(), "tt1", 2400000)
	if got := res.Intros[2400000]; got.To != DefaultIntroCeilingMS {
		t.Fatalf("expected ceiling, got %+v", got)
	}
}

func TestSkipIntroZeroDuration(t *testing.T) {
	res, err := SkipIntroResolver{}.Resolve(context.Background(), "tt1", 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Accuracy != mb.AccuracyNone || len(res.Intros) != 0 || res.Intros == nil {
		t.Fatalf("expected none with empty map, got %+v", res)
	}
	text, _ := mb.Encode(res)
	if text != `{"accuracy":"none","intros":{}}` {
		t.Fatalf("unexpected encoding %s", text)
	}
}

func TestSkipIntroNegativeDuration(t *testing.T) {
	_, err := SkipIntroResolver{}.Resolve(context.Background(), "tt1", -1)
	if !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected INVALID_DURATION, got %v", err)
	}
}

func TestSkipIntroIntervalsStayInsideDuration(t *testing.T) {
	r := SkipIntroResolver{}
	for _, d := range []int64{1, 2, 4999, 5000, 5001, 10000, 89999, 90000, 90001, 95000, 7200000} {
		res, err := r.Resolve(context.Background(), "x", d)
		if err != nil {
			t.Fatalf("resolve %d: %v", d, err)
		}
		for key, iv := range res.Intros {
			if iv.From < 0 || iv.From >= iv.To || iv.To > d {
				t.Fatalf("duration %d key %d: bad interval %+v", d, key, iv)
			}
		}
	}
}

func TestSkipIntroExactSignalsWin(t *testing.T) {
	r := SkipIntroResolver{Signals: fakeSignals{markers: []ports.IntroMarker{
		{DurationMS: 1800000, FromMS: 30000, ToMS: 95000},
		{DurationMS: 1795000, FromMS: 25000, ToMS: 90000},
	}}}
	res, err := r.Resolve(context.Background(), "tt1", 1800000)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Accuracy != mb.AccuracyExact || len(res.Intros) != 2 {
		t.Fatalf("expected two exact intros, got %+v", res)
	}
	if res.Intros[1800000] != (mb.SkipInterval{From: 30000, To: 95000}) {
		t.Fatalf("unexpected interval %+v", res.Intros[1800000])
	}
}

func TestSkipIntroExactMarkersClamped(t *testing.T) {
	r := SkipIntroResolver{Signals: fakeSignals{markers: []ports.IntroMarker{
		{FromMS: -10, ToMS: 70000},
		{DurationMS: 10, FromMS: 60000, ToMS: 61000},
	}}}
	res, _ := r.Resolve(context.Background(), "tt1", 40000)
	if res.Accuracy != mb.AccuracyExact || len(res.Intros) != 1 {
		t.Fatalf("expected single clamped interval, got %+v", res)
	}
	if res.Intros[40000] != (mb.SkipInterval{From: 0, To: 40000}) {
		t.Fatalf("unexpected interval %+v", res.Intros[40000])
	}
}

func TestSkipIntroFallsBackOnSignalError(t *testing.T) {
	r := SkipIntroResolver{Signals: fakeSignals{err: errors.New("db down")}}
	res, err := r.Resolve(context.Background(), "tt1", 90000)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Accuracy != mb.AccuracyByDuration {
		t.Fatalf("expected heuristic, got %s", res.Accuracy)
	}
}

func TestSkipIntroFallsBackWithoutMarkers(t *testing.T) {
	r := SkipIntroResolver{Signals: fakeSignals{}}
	res, _ := r.Resolve(context.Background(), "tt1", 90000)
	if res.Accuracy != mb.AccuracyByDuration {
		t.Fatalf("expected heuristic, got %s", res.Accuracy)
	}
}
