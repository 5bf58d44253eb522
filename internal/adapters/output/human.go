package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/media_bridge/internal/core"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// HumanPrinter prints human-readable tables.
type HumanPrinter struct {
	Out     io.Writer
	NoColor bool
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	if p.NoColor {
		pterm.DisableStyling()
	}
	switch data := v.(type) {
	case core.NodesResult:
		return p.printNodes(data)
	case core.AddonsResult:
		return p.printAddons(data)
	case core.CatalogResult:
		return p.printCatalog(data)
	case core.LibraryResult:
		return p.printLibrary(data)
	case core.SearchResult:
		return p.printSearch(data)
	case core.InvokeResult:
		return p.printInvoke(data)
	case core.DispatchResult:
		return p.printDispatch(data)
	case core.SkipIntroResult:
		return p.printSkipIntro(data)
	default:
		return p.line("ok")
	}
}

func (p HumanPrinter) out() io.Writer {
	if p.Out != nil {
		return p.Out
	}
	return os.Stdout
}

func (p HumanPrinter) line(format string, args ...any) error {
	_, err := fmt.Fprintf(p.out(), format+"\n", args...)
	return err
}

func (p HumanPrinter) table(header []string, rows [][]string) error {
	data := pterm.TableData{header}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithWriter(p.out()).WithData(data).Render()
}

func (p HumanPrinter) printNodes(result core.NodesResult) error {
	nodes := append([]mb.Presence(nil), result.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	rows := make([][]string, 0, len(nodes))
	for _, node := range nodes {
		rows = append(rows, []string{node.Name, node.Kind, node.NodeID})
	}
	return p.table([]string{"NAME", "KIND", "NODE_ID"}, rows)
}

func (p HumanPrinter) printAddons(result core.AddonsResult) error {
	if len(result.Addons) == 0 {
		return p.line("no addons on %s", result.BridgeID)
	}
	rows := make([][]string, 0, len(result.Addons))
	for _, addon := range result.Addons {
		search := ""
		if addon.SupportsSearch() {
			search = "yes"
		}
		rows = append(rows, []string{addon.ID, addon.Name, addon.Version, strings.Join(addon.Methods, ","), strconv.Itoa(len(addon.Catalogs)), search})
	}
	return p.table([]string{"ID", "NAME", "VERSION", "METHODS", "CATALOGS", "SEARCH"}, rows)
}

func (p HumanPrinter) printCatalog(result core.CatalogResult) error {
	rows := [][]string{}
	for _, page := range result.Catalog.Pages {
		for _, meta := range page.Metas {
			rows = append(rows, []string{page.ID, meta.Name, meta.Type, meta.ReleaseInfo, formatMS(meta.DurationMS), meta.ID})
		}
	}
	if len(rows) == 0 {
		return p.line("catalog of %s is empty", result.Catalog.AddonID)
	}
	return p.table([]string{"CATALOG", "NAME", "TYPE", "RELEASED", "LEN", "ID"}, rows)
}

func (p HumanPrinter) printLibrary(result core.LibraryResult) error {
	if len(result.Items) == 0 {
		return p.line("library is empty")
	}
	rows := make([][]string, 0, len(result.Items))
	for _, item := range result.Items {
		watched := ""
		if item.Watched {
			watched = "yes"
		}
		rows = append(rows, []string{item.Name, item.Type, formatPosition(item.TimeOffset, item.DurationMS), watched, item.ID})
	}
	return p.table([]string{"NAME", "TYPE", "PROGRESS", "WATCHED", "ID"}, rows)
}

func (p HumanPrinter) printSearch(result core.SearchResult) error {
	if len(result.Hits) == 0 {
		return p.line("no results for %q", result.Query)
	}
	rows := make([][]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		rows = append(rows, []string{hit.Item.Name, hit.Item.Type, hit.Source, fmt.Sprintf("%.2f", hit.Score), hit.Item.ID})
	}
	return p.table([]string{"NAME", "TYPE", "SOURCE", "SCORE", "ID"}, rows)
}

func (p HumanPrinter) printInvoke(result core.InvokeResult) error {
	if !result.Result.OK {
		msg := "failed"
		if result.Result.Err != nil {
			msg = fmt.Sprintf("%s: %s", result.Result.Err.Code, result.Result.Err.Message)
		}
		return p.line("%s.%s %s", result.AddonID, result.Method, msg)
	}
	raw, err := json.MarshalIndent(result.Result.Result, "", "  ")
	if err != nil {
		return err
	}
	return p.line("%s", raw)
}

func (p HumanPrinter) printDispatch(result core.DispatchResult) error {
	switch {
	case result.Ack == nil:
		return p.line("%s sent", result.Action)
	case result.Ack.Success:
		return p.line("%s ok", result.Action)
	case result.Ack.Err != nil:
		return p.line("%s failed: %s", result.Action, result.Ack.Err.Message)
	default:
		return p.line("%s failed", result.Action)
	}
}

func (p HumanPrinter) printSkipIntro(result core.SkipIntroResult) error {
	if err := p.line("%s accuracy %s", result.ItemID, result.Data.Accuracy); err != nil {
		return err
	}
	if len(result.Data.Intros) == 0 {
		return nil
	}
	keys := make([]int64, 0, len(result.Data.Intros))
	for key := range result.Data.Intros {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		interval := result.Data.Intros[key]
		match := ""
		if result.Match != nil && *result.Match == interval {
			match = "*"
		}
		rows = append(rows, []string{formatMS(key), formatMS(interval.From), formatMS(interval.To), match})
	}
	return p.table([]string{"DURATION", "FROM", "TO", "MATCH"}, rows)
}

func formatPosition(pos, dur int64) string {
	if pos == 0 && dur == 0 {
		return ""
	}
	if dur > 0 {
		return fmt.Sprintf("%s / %s (%d%%)", formatMS(pos), formatMS(dur), (pos*100)/dur)
	}
	return fmt.Sprintf("%s / %s", formatMS(pos), formatMS(dur))
}

func formatMS(ms int64) string {
	if ms <= 0 {
		return "0:00"
	}
	secs := ms / 1000
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
