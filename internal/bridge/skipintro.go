package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

const (
	// DefaultIntroCeilingMS caps the heuristic intro interval.
	DefaultIntroCeilingMS int64 = 90000
	// DefaultIntroMarginMS shortens the secondary heuristic interval.
	DefaultIntroMarginMS int64 = 5000
)

// SkipIntroResolver derives intro intervals for a playable item.
type SkipIntroResolver struct {
	Signals   ports.IntroSignalSource
	CeilingMS int64
	MarginMS  int64
	Log       *zap.Logger
}

// Resolve returns exact markers when the signal source has them, otherwise
// the duration heuristic. Every returned interval satisfies
// 0 <= from < to <= durationMS.
func (r SkipIntroResolver) Resolve(ctx context.Context, itemID string, durationMS int64) (mb.SkipIntroResult, error) {
	if durationMS < 0 {
		return mb.SkipIntroResult{}, newError(CodeInvalidDuration, fmt.Sprintf("duration %d ms is negative", durationMS), nil)
	}
	if durationMS == 0 {
		return noIntro(), nil
	}

	if r.Signals != nil {
		markers, err := r.Signals.Lookup(ctx, itemID, durationMS)
		if err != nil {
			r.log().Warn("intro signal lookup failed, using duration heuristic",
				zap.String("item", itemID),
				zap.Error(err),
			)
		} else if intros := exactIntervals(markers, durationMS); len(intros) > 0 {
			return mb.SkipIntroResult{Accuracy: mb.AccuracyExact, Intros: intros}, nil
		}
	}

	return r.heuristic(durationMS), nil
}

func (r SkipIntroResolver) heuristic(durationMS int64) mb.SkipIntroResult {
	ceiling := r.CeilingMS
	if ceiling <= 0 {
		ceiling = DefaultIntroCeilingMS
	}
	margin := r.MarginMS
	if margin <= 0 {
		margin = DefaultIntroMarginMS
	}

	primaryTo := min(ceiling, durationMS)
	if primaryTo <= 0 {
		return noIntro()
	}
	intros := map[int64]mb.SkipInterval{
		durationMS: {From: 0, To: primaryTo},
	}
	if secondaryTo := primaryTo - margin; secondaryTo > 0 && durationMS-margin > 0 {
		intros[durationMS-margin] = mb.SkipInterval{From: 0, To: secondaryTo}
	}
	return mb.SkipIntroResult{Accuracy: mb.AccuracyByDuration, Intros: intros}
}

// exactIntervals clamps markers to the playback duration and drops the ones
// left empty. The first marker wins on a duplicate key.
func exactIntervals(markers []ports.IntroMarker, durationMS int64) map[int64]mb.SkipInterval {
	intros := map[int64]mb.SkipInterval{}
	for _, m := range markers {
		from := max(m.FromMS, 0)
		to := min(m.ToMS, durationMS)
		if to <= from {
			continue
		}
		key := m.DurationMS
		if key <= 0 {
			key = durationMS
		}
		if _, dup := intros[key]; dup {
			continue
		}
		intros[key] = mb.SkipInterval{From: from, To: to}
	}
	return intros
}

func noIntro() mb.SkipIntroResult {
	return mb.SkipIntroResult{Accuracy: mb.AccuracyNone, Intros: map[int64]mb.SkipInterval{}}
}

func (r SkipIntroResolver) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}
