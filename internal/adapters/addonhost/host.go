// Package addonhost runs in-process addons behind the addon transport port.
package addonhost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// DefaultTimeout bounds a single addon call.
const DefaultTimeout = 10 * time.Second

// Host dispatches transport calls to registered addons.
type Host struct {
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	order  []string
	addons map[string]ports.Addon
}

// New creates a host. A non-positive timeout uses DefaultTimeout.
func New(timeout time.Duration, log *zap.Logger) *Host {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Host{timeout: timeout, log: log, addons: map[string]ports.Addon{}}
}

// Add registers an addon under its descriptor id.
func (h *Host) Add(addon ports.Addon) error {
	id := addon.Descriptor().ID
	if id == "" {
		return errors.New("addon id required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.addons[id]; ok {
		return fmt.Errorf("addon %q already hosted", id)
	}
	h.addons[id] = addon
	h.order = append(h.order, id)
	return nil
}

// Descriptors returns the hosted addon descriptors in insertion order.
func (h *Host) Descriptors() []mb.AddonDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]mb.AddonDescriptor, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.addons[id].Descriptor())
	}
	return out
}

// Catalog fetches an addon catalog within the call timeout.
func (h *Host) Catalog(ctx context.Context, addonID string) (mb.Catalog, error) {
	addon, err := h.lookup(addonID)
	if err != nil {
		return mb.Catalog{}, err
	}
	var catalog mb.Catalog
	err = h.run(ctx, addonID, "catalog", func(ctx context.Context) error {
		var err error
		catalog, err = addon.Catalog(ctx)
		return err
	})
	return catalog, err
}

// Invoke calls an addon method within the call timeout.
func (h *Host) Invoke(ctx context.Context, addonID string, method string, args any) (any, error) {
	addon, err := h.lookup(addonID)
	if err != nil {
		return nil, err
	}
	var out any
	err = h.run(ctx, addonID, method, func(ctx context.Context) error {
		var err error
		out, err = addon.Invoke(ctx, method, args)
		return err
	})
	return out, err
}

func (h *Host) lookup(addonID string) (ports.Addon, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	addon, ok := h.addons[addonID]
	if !ok {
		return nil, fmt.Errorf("addon %q: %w", addonID, ports.ErrUnavailable)
	}
	return addon, nil
}

// run executes call on its own goroutine so an addon that ignores ctx still
// cannot hold the caller past the timeout.
func (h *Host) run(ctx context.Context, addonID string, method string, call func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("addon %q panic: %v", addonID, r)
			}
		}()
		done <- call(ctx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("addon %q %s: %w", addonID, method, ports.ErrUnavailable)
		}
		return err
	case <-ctx.Done():
		h.log.Warn("addon call timed out",
			zap.String("addon", addonID),
			zap.String("method", method),
			zap.Duration("timeout", h.timeout),
		)
		return fmt.Errorf("addon %q %s: %w: %w", addonID, method, ports.ErrUnavailable, ctx.Err())
	}
}
