package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// Invoker routes addon calls through the registry to the addon transport.
type Invoker struct {
	Registry  *Registry
	Transport ports.AddonTransport
	IDGen     ports.IDGen
	Log       *zap.Logger
}

// Invoke resolves, validates and executes an addon method. Every outcome,
// including failures, is returned as an InvocationResult.
func (i *Invoker) Invoke(ctx context.Context, addonID string, method string, argsText string) mb.InvocationResult {
	result := mb.InvocationResult{ID: i.newID()}

	desc, schema, ok := i.Registry.resolve(addonID, method)
	if !ok {
		return failed(result, newError(CodeUnknownAddon, fmt.Sprintf("addon %q is not registered", addonID), nil))
	}

	args, err := mb.Decode(argsText)
	if err != nil {
		return failed(result, newError(CodeInvalidArguments, "invalid arguments", err))
	}

	if !desc.HasMethod(method) {
		return failed(result, newError(CodeUnsupportedMethod, fmt.Sprintf("addon %q does not declare method %q", addonID, method), nil))
	}
	if err := schema.validate(args); err != nil {
		return failed(result, newError(CodeInvalidArguments, "arguments rejected by schema", err))
	}

	if i.Transport == nil {
		return failed(result, newError(CodeUpstreamUnavailable, "no addon transport configured", nil))
	}

	out, err := i.execute(ctx, addonID, method, args)
	if err != nil {
		i.log().Warn("addon invocation failed",
			zap.String("addon", addonID),
			zap.String("method", method),
			zap.String("invocation", result.ID),
			zap.Error(err),
		)
		return failed(result, classifyUpstream(err))
	}

	result.OK = true
	result.Result = out
	return result
}

// Catalog fetches the catalog of a registered addon.
func (i *Invoker) Catalog(ctx context.Context, addonID string) (mb.Catalog, error) {
	if _, ok := i.Registry.Get(addonID); !ok {
		return mb.Catalog{}, newError(CodeNotFound, fmt.Sprintf("addon %q is not registered", addonID), nil)
	}
	if i.Transport == nil {
		return mb.Catalog{}, newError(CodeUpstreamUnavailable, "no addon transport configured", nil)
	}
	catalog, err := i.Transport.Catalog(ctx, addonID)
	if err != nil {
		return mb.Catalog{}, classifyUpstream(err)
	}
	if catalog.AddonID == "" {
		catalog.AddonID = addonID
	}
	if catalog.Pages == nil {
		catalog.Pages = []mb.CatalogPage{}
	}
	return catalog, nil
}

// execute shields the caller from a panicking addon.
func (i *Invoker) execute(ctx context.Context, addonID string, method string, args any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("addon panic: %v", r)
		}
	}()
	return i.Transport.Invoke(ctx, addonID, method, args)
}

func (i *Invoker) newID() string {
	if i.IDGen == nil {
		return ""
	}
	return i.IDGen.NewID()
}

func (i *Invoker) log() *zap.Logger {
	if i.Log == nil {
		return zap.NewNop()
	}
	return i.Log
}

func classifyUpstream(err error) *Error {
	switch {
	case errors.Is(err, ports.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return newError(CodeUpstreamUnavailable, "addon unavailable", err)
	case errors.Is(err, ports.ErrNotFound):
		return newError(CodeNotFound, "addon reported not found", err)
	default:
		return newError(CodeAddonFailed, "addon failed", err)
	}
}

func failed(result mb.InvocationResult, err *Error) mb.InvocationResult {
	result.OK = false
	result.Result = nil
	result.Err = errorBody(err)
	return result
}
