package ports

import (
	"context"
	"errors"

	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// ErrUnavailable marks a collaborator that timed out or could not be reached.
var ErrUnavailable = errors.New("upstream unavailable")

// ErrNotFound marks a missing item in a collaborator.
var ErrNotFound = errors.New("not found")

// Broker publishes commands and reads retained presence.
type Broker interface {
	ReplyTopic() string
	PublishCommand(ctx context.Context, nodeID string, cmd mb.CommandEnvelope) (mb.ReplyEnvelope, error)
	Send(ctx context.Context, nodeID string, cmd mb.CommandEnvelope) error
	ListPresence(ctx context.Context) ([]mb.Presence, error)
}

// Clock returns the current unix time in seconds.
type Clock interface {
	NowUnix() int64
}

// IDGen returns unique correlation IDs.
type IDGen interface {
	NewID() string
}

// Addon is an addon implementation reachable through an AddonTransport.
type Addon interface {
	Descriptor() mb.AddonDescriptor
	Catalog(ctx context.Context) (mb.Catalog, error)
	Invoke(ctx context.Context, method string, args any) (any, error)
}

// AddonTransport executes addon calls on behalf of the bridge.
type AddonTransport interface {
	Descriptors() []mb.AddonDescriptor
	Catalog(ctx context.Context, addonID string) (mb.Catalog, error)
	Invoke(ctx context.Context, addonID string, method string, args any) (any, error)
}

// LibraryStore persists the user library.
type LibraryStore interface {
	List(ctx context.Context) ([]mb.LibraryItem, error)
	Get(ctx context.Context, itemID string) (mb.LibraryItem, error)
	Upsert(ctx context.Context, item mb.LibraryItem) error
	UpdateProgress(ctx context.Context, itemID string, positionMS int64, durationMS int64) error
	MarkWatched(ctx context.Context, itemID string) error
	Remove(ctx context.Context, itemID string) error
}

// SearchIndex answers free text queries.
type SearchIndex interface {
	Search(ctx context.Context, query string) ([]mb.SearchHit, error)
}

// IntroMarker is a precise intro interval recorded against a playback duration.
type IntroMarker struct {
	DurationMS int64
	FromMS     int64
	ToMS       int64
}

// IntroMarkerSink records precise intro markers.
type IntroMarkerSink interface {
	PutMarker(ctx context.Context, itemID string, marker IntroMarker) error
}

// IntroSignalSource looks up precise intro markers for an item.
type IntroSignalSource interface {
	Lookup(ctx context.Context, itemID string, durationMS int64) ([]IntroMarker, error)
}
