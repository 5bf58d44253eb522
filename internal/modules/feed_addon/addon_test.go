package feedaddon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

func newTestAddon(t *testing.T, body string, cfg Config) (*Addon, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.xml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write feed: %v", err)
	}
	cfg.AddonID = "org.mb.feeds"
	cfg.Feeds = []Feed{{ID: "sample", Name: "Sample", Path: path}}
	addon, err := New(zap.NewNop(), cfg)
	if err != nil {
		t.Fatalf("new addon: %v", err)
	}
	return addon, path
}

func TestDescriptor(t *testing.T) {
	addon, _ := newTestAddon(t, testFeed, Config{})
	desc := addon.Descriptor()
	if desc.ID != "org.mb.feeds" || !desc.HasMethod("meta") || !desc.SupportsSearch() {
		t.Fatalf("unexpected descriptor %+v", desc)
	}
	if len(desc.Catalogs) != 1 || desc.Catalogs[0].ID != "sample" {
		t.Fatalf("unexpected catalogs %+v", desc.Catalogs)
	}
	if len(desc.ArgSchemas) != 3 {
		t.Fatalf("expected schema per method")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, Config{Feeds: []Feed{{Path: "x"}}}); err == nil {
		t.Fatalf("expected missing addon id error")
	}
	if _, err := New(nil, Config{AddonID: "a"}); err == nil {
		t.Fatalf("expected missing feeds error")
	}
	if _, err := New(nil, Config{AddonID: "a", Feeds: []Feed{{ID: "x", Path: "a"}, {ID: "x", Path: "b"}}}); err == nil {
		t.Fatalf("expected duplicate feed error")
	}
	addon, err := New(nil, Config{AddonID: "a", Feeds: []Feed{{Path: "/tmp/feed.xml"}}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := addon.Descriptor().Catalogs[0].ID; got != hashID("feed", "/tmp/feed.xml") {
		t.Fatalf("expected hashed feed id, got %s", got)
	}
}

func TestCatalogAndMeta(t *testing.T) {
	addon, _ := newTestAddon(t, testFeed, Config{})
	ctx := context.Background()

	catalog, err := addon.Catalog(ctx)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if len(catalog.Pages) != 1 || len(catalog.Pages[0].Metas) != 2 {
		t.Fatalf("unexpected catalog %+v", catalog)
	}
	first := catalog.Pages[0].Metas[0]
	if first.Name != "Episode One" || first.DurationMS != 3723000 || first.ReleaseInfo != "2024-01-01" {
		t.Fatalf("unexpected first episode %+v", first)
	}
	if first.Poster != "https://example.com/ep1.png" {
		t.Fatalf("expected item image, got %q", first.Poster)
	}

	out, err := addon.Invoke(ctx, "meta", map[string]any{"id": "sample"})
	if err != nil {
		t.Fatalf("series meta: %v", err)
	}
	series := out.(SeriesMeta)
	if series.Name != "Sample Podcast" || series.Author != "Sample Host" || len(series.Videos) != 2 {
		t.Fatalf("unexpected series meta %+v", series)
	}

	out, err = addon.Invoke(ctx, "meta", map[string]any{"id": first.ID})
	if err != nil {
		t.Fatalf("episode meta: %v", err)
	}
	if ep := out.(EpisodeMeta); ep.SeriesID != "sample" || ep.Name != "Episode One" {
		t.Fatalf("unexpected episode meta %+v", ep)
	}

	text, err := mb.Encode(out)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(text, `"seriesId":"sample"`) || !strings.Contains(text, `"name":"Episode One"`) {
		t.Fatalf("unexpected encoding %s", text)
	}
}

func TestStreams(t *testing.T) {
	addon, _ := newTestAddon(t, testFeed, Config{})
	ctx := context.Background()
	catalog, _ := addon.Catalog(ctx)
	episodeID := catalog.Pages[0].Metas[1].ID

	out, err := addon.Invoke(ctx, "stream", map[string]any{"id": episodeID})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	streams := out.(StreamsReply).Streams
	if len(streams) != 1 || streams[0].URL != "https://example.com/audio2.mp3" || streams[0].Mime != "audio/mpeg" {
		t.Fatalf("unexpected streams %+v", streams)
	}

	if _, err := addon.Invoke(ctx, "stream", map[string]any{"id": "missing"}); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogMethodSearchAndPaging(t *testing.T) {
	addon, _ := newTestAddon(t, testFeed, Config{ReverseSortByDate: true})
	ctx := context.Background()

	out, err := addon.Invoke(ctx, "catalog", map[string]any{"id": "sample"})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	page := out.(mb.CatalogPage)
	if len(page.Metas) != 2 || page.Metas[0].Name != "Episode Two" {
		t.Fatalf("expected newest first, got %+v", page.Metas)
	}

	out, _ = addon.Invoke(ctx, "catalog", map[string]any{"id": "sample", "search": "first"})
	if page := out.(mb.CatalogPage); len(page.Metas) != 1 || page.Metas[0].Name != "Episode One" {
		t.Fatalf("unexpected search page %+v", page.Metas)
	}

	out, _ = addon.Invoke(ctx, "catalog", map[string]any{"id": "sample", "skip": int64(1), "limit": int64(5)})
	if page := out.(mb.CatalogPage); len(page.Metas) != 1 {
		t.Fatalf("unexpected paged result %+v", page.Metas)
	}

	out, _ = addon.Invoke(ctx, "catalog", map[string]any{})
	if page := out.(mb.CatalogPage); len(page.Metas) != 1 || page.Metas[0].Type != "series" {
		t.Fatalf("unexpected root listing %+v", page.Metas)
	}

	if _, err := addon.Invoke(ctx, "catalog", map[string]any{"id": "other"}); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFeedReloadsWhenFileChanges(t *testing.T) {
	addon, path := newTestAddon(t, testFeed, Config{})
	ctx := context.Background()

	catalog, _ := addon.Catalog(ctx)
	if len(catalog.Pages[0].Metas) != 2 {
		t.Fatalf("expected 2 episodes")
	}

	updated := strings.Replace(testFeed, "</channel>", `<item><title>Episode Three</title><guid>ep-3</guid></item></channel>`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	catalog, _ = addon.Catalog(ctx)
	if len(catalog.Pages[0].Metas) != 3 {
		t.Fatalf("expected reload with 3 episodes, got %d", len(catalog.Pages[0].Metas))
	}
}

func TestCachedCopyServedWhenFileDisappears(t *testing.T) {
	addon, path := newTestAddon(t, testFeed, Config{})
	ctx := context.Background()
	_, _ = addon.Catalog(ctx)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	catalog, err := addon.Catalog(ctx)
	if err != nil || len(catalog.Pages) != 1 {
		t.Fatalf("expected cached page, got %+v %v", catalog, err)
	}
}

func TestUnreadableFeedSkipped(t *testing.T) {
	addon, err := New(zap.NewNop(), Config{AddonID: "a", Feeds: []Feed{{ID: "gone", Path: filepath.Join(t.TempDir(), "none.xml")}}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	catalog, err := addon.Catalog(context.Background())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if catalog.Pages == nil || len(catalog.Pages) != 0 {
		t.Fatalf("expected empty pages, got %+v", catalog.Pages)
	}
}

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
<channel>
  <title>Sample Podcast</title>
  <description>Sample podcast feed</description>
  <itunes:author>Sample Host</itunes:author>
  <image>
    <url>https://example.com/podcast.png</url>
  </image>
  <item>
    <title>Episode One</title>
    <guid>ep-1</guid>
    <description>First episode</description>
    <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
    <enclosure url="https://example.com/audio1.mp3" length="123" type="audio/mpeg"/>
    <itunes:duration>01:02:03</itunes:duration>
    <itunes:image href="https://example.com/ep1.png"/>
  </item>
  <item>
    <title>Episode Two</title>
    <guid>ep-2</guid>
    <description>Second episode</description>
    <pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate>
    <enclosure url="https://example.com/audio2.mp3" length="456" type="audio/mpeg"/>
  </item>
</channel>
</rss>`
