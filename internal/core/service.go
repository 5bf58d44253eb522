package core

import (
	"context"
	"strings"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// DefaultIntroToleranceMS is how far a skip-intro key may be from the
// playback duration and still match.
const DefaultIntroToleranceMS = 5000

// Service orchestrates mb CLI use cases.
type Service struct {
	Broker   ports.Broker
	Resolver Resolver
	Clock    ports.Clock
	IDGen    ports.IDGen
	Config   Config
}

// ListNodes returns presence entries, optionally filtered by kind.
func (s Service) ListNodes(ctx context.Context, kind string) (NodesResult, error) {
	nodes, err := s.Broker.ListPresence(ctx)
	if err != nil {
		return NodesResult{}, WrapError(ExitRuntime, "list nodes", err)
	}
	return NodesResult{Nodes: filterPresenceByKind(nodes, kind)}, nil
}

// Addons lists the addons registered on a bridge.
func (s Service) Addons(ctx context.Context, selector string) (AddonsResult, error) {
	bridge, err := s.Resolver.ResolveBridge(ctx, selector)
	if err != nil {
		return AddonsResult{}, err
	}
	var addons []mb.AddonDescriptor
	if err := s.query(ctx, bridge.NodeID, mb.CmdGetAddons, struct{}{}, &addons); err != nil {
		return AddonsResult{}, err
	}
	return AddonsResult{BridgeID: bridge.NodeID, Addons: addons}, nil
}

// Catalog fetches the catalog of one addon.
func (s Service) Catalog(ctx context.Context, selector string, addonID string) (CatalogResult, error) {
	if strings.TrimSpace(addonID) == "" {
		return CatalogResult{}, &CLIError{Code: ExitUsage, Msg: "addon id required"}
	}
	bridge, err := s.Resolver.ResolveBridge(ctx, selector)
	if err != nil {
		return CatalogResult{}, err
	}
	var catalog mb.Catalog
	if err := s.query(ctx, bridge.NodeID, mb.CmdGetAddonCatalog, mb.AddonCatalogBody{AddonID: addonID}, &catalog); err != nil {
		return CatalogResult{}, err
	}
	return CatalogResult{Catalog: catalog}, nil
}

// Library lists the user library held by a bridge.
func (s Service) Library(ctx context.Context, selector string) (LibraryResult, error) {
	bridge, err := s.Resolver.ResolveBridge(ctx, selector)
	if err != nil {
		return LibraryResult{}, err
	}
	var items []mb.LibraryItem
	if err := s.query(ctx, bridge.NodeID, mb.CmdGetLibrary, struct{}{}, &items); err != nil {
		return LibraryResult{}, err
	}
	return LibraryResult{Items: items}, nil
}

// Search runs a free text query against a bridge.
func (s Service) Search(ctx context.Context, selector string, query string) (SearchResult, error) {
	bridge, err := s.Resolver.ResolveBridge(ctx, selector)
	if err != nil {
		return SearchResult{}, err
	}
	var hits []mb.SearchHit
	if err := s.query(ctx, bridge.NodeID, mb.CmdSearch, mb.SearchBody{Query: query}, &hits); err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Query: query, Hits: hits}, nil
}

// Invoke calls an addon method. argsText is passed to the bridge unparsed.
func (s Service) Invoke(ctx context.Context, selector string, addonID string, method string, argsText string) (InvokeResult, error) {
	bridge, err := s.Resolver.ResolveBridge(ctx, selector)
	if err != nil {
		return InvokeResult{}, err
	}
	body := mb.InvokeAddonBody{AddonID: addonID, Method: method, Args: argsText}
	var result mb.InvocationResult
	if err := s.query(ctx, bridge.NodeID, mb.CmdInvokeAddon, body, &result); err != nil {
		return InvokeResult{}, err
	}
	return InvokeResult{AddonID: addonID, Method: method, Result: result}, nil
}

// Dispatch sends a UI action. Without wait the command is fire-and-forget.
func (s Service) Dispatch(ctx context.Context, selector string, action string, payloadText string, wait bool) (DispatchResult, error) {
	bridge, err := s.Resolver.ResolveBridge(ctx, selector)
	if err != nil {
		return DispatchResult{}, err
	}
	body := mb.DispatchActionBody{Action: action, Payload: payloadText}
	if !wait {
		cmd, err := s.command(mb.CmdDispatchAction, body, false)
		if err != nil {
			return DispatchResult{}, err
		}
		if err := s.Broker.Send(ctx, bridge.NodeID, cmd); err != nil {
			return DispatchResult{}, WrapError(ExitRuntime, "send command", err)
		}
		return DispatchResult{Action: action}, nil
	}

	var ack mb.ActionAck
	if err := s.query(ctx, bridge.NodeID, mb.CmdDispatchAction, body, &ack); err != nil {
		return DispatchResult{}, err
	}
	return DispatchResult{Action: action, Ack: &ack}, nil
}

// SkipIntro fetches skip-intro data and picks the interval for durationMS.
func (s Service) SkipIntro(ctx context.Context, selector string, itemID string, durationMS int64, toleranceMS int64) (SkipIntroResult, error) {
	if toleranceMS <= 0 {
		toleranceMS = DefaultIntroToleranceMS
	}
	bridge, err := s.Resolver.ResolveBridge(ctx, selector)
	if err != nil {
		return SkipIntroResult{}, err
	}
	var data mb.SkipIntroResult
	body := mb.SkipIntroBody{ItemID: itemID, DurationMS: durationMS}
	if err := s.query(ctx, bridge.NodeID, mb.CmdGetSkipIntroData, body, &data); err != nil {
		return SkipIntroResult{}, err
	}
	result := SkipIntroResult{ItemID: itemID, DurationMS: durationMS, Data: data}
	if interval, ok := data.Match(durationMS, toleranceMS); ok {
		result.Match = &interval
	}
	return result, nil
}

func (s Service) command(cmdType string, body any, withReply bool) (mb.CommandEnvelope, error) {
	cmd, err := mb.NewCommand(cmdType, body)
	if err != nil {
		return mb.CommandEnvelope{}, WrapError(ExitRuntime, "build command", err)
	}
	cmd.ID = s.IDGen.NewID()
	cmd.TS = s.Clock.NowUnix()
	cmd.From = s.Config.Identity
	if withReply {
		cmd.ReplyTo = s.Broker.ReplyTopic()
	}
	return cmd, nil
}

// query publishes a command and decodes the bridge text carried in the
// reply body into dst.
func (s Service) query(ctx context.Context, nodeID string, cmdType string, body any, dst any) error {
	cmd, err := s.command(cmdType, body, true)
	if err != nil {
		return err
	}
	reply, err := s.Broker.PublishCommand(ctx, nodeID, cmd)
	if err != nil {
		return WrapError(ExitRuntime, "publish command", err)
	}
	if reply.Err != nil {
		return ErrorForReplyCode(reply.Err.Code, reply.Err.Message)
	}
	if err := mb.DecodeInto(string(reply.Body), dst); err != nil {
		return WrapError(ExitRuntime, "decode reply", err)
	}
	return nil
}
