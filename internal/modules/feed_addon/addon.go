package feedaddon

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// Feed is one RSS or Atom document on disk.
type Feed struct {
	ID   string
	Name string
	Path string
}

// Config configures the feed addon.
type Config struct {
	AddonID           string
	Name              string
	Version           string
	Feeds             []Feed
	Refresh           time.Duration
	ReverseSortByDate bool
}

// Addon serves feed files as catalog, meta and stream resources.
type Addon struct {
	log    *zap.Logger
	config Config
	desc   mb.AddonDescriptor

	cacheMu sync.Mutex
	feeds   map[string]*feedCache
}

type feedCache struct {
	Feed      cachedFeed
	ByID      map[string]cachedEpisode
	ModTime   time.Time
	Size      int64
	CheckedAt time.Time
}

type cachedFeed struct {
	FeedID      string
	Path        string
	Title       string
	Description string
	Author      string
	ImageURL    string
	Episodes    []cachedEpisode
}

type cachedEpisode struct {
	ID          string
	Title       string
	Description string
	Published   int64
	DurationMS  int64
	AudioURL    string
	AudioType   string
	ImageURL    string
	Author      string
}

// SeriesMeta is the meta answer for a feed.
type SeriesMeta struct {
	mb.MetaPreview
	Author string           `json:"author,omitempty"`
	Videos []mb.MetaPreview `json:"videos"`
}

// EpisodeMeta is the meta answer for an episode.
type EpisodeMeta struct {
	mb.MetaPreview
	Author   string `json:"author,omitempty"`
	SeriesID string `json:"seriesId"`
}

// Stream is a playable source.
type Stream struct {
	URL   string `json:"url"`
	Mime  string `json:"mime,omitempty"`
	Title string `json:"title,omitempty"`
}

// StreamsReply is the stream answer.
type StreamsReply struct {
	Streams []Stream `json:"streams"`
}

const (
	typeSeries  = "series"
	typeEpisode = "episode"
)

var idArgSchema = json.RawMessage(`{
	"type": "object",
	"required": ["id"],
	"properties": {"id": {"type": "string", "minLength": 1}}
}`)

var catalogArgSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"id": {"type": "string"},
		"search": {"type": "string"},
		"skip": {"type": "integer", "minimum": 0},
		"limit": {"type": "integer", "minimum": 1}
	}
}`)

// New builds the addon. Feed files are read lazily.
func New(log *zap.Logger, cfg Config) (*Addon, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.AddonID) == "" {
		return nil, errors.New("addon_id required")
	}
	if len(cfg.Feeds) == 0 {
		return nil, errors.New("feeds required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "Feeds"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "1.0.0"
	}

	seen := map[string]bool{}
	catalogs := make([]mb.CatalogDescriptor, 0, len(cfg.Feeds))
	for i, feed := range cfg.Feeds {
		if strings.TrimSpace(feed.Path) == "" {
			return nil, fmt.Errorf("feed %d: path required", i)
		}
		if strings.TrimSpace(feed.ID) == "" {
			feed.ID = hashID("feed", feed.Path)
		}
		if seen[feed.ID] {
			return nil, fmt.Errorf("feed %q configured twice", feed.ID)
		}
		seen[feed.ID] = true
		if strings.TrimSpace(feed.Name) == "" {
			feed.Name = feed.ID
		}
		cfg.Feeds[i] = feed
		catalogs = append(catalogs, mb.CatalogDescriptor{
			Type:  typeSeries,
			ID:    feed.ID,
			Name:  feed.Name,
			Extra: []string{"search", "skip"},
		})
	}

	return &Addon{
		log:    log,
		config: cfg,
		desc: mb.AddonDescriptor{
			ID:          cfg.AddonID,
			Name:        cfg.Name,
			Version:     cfg.Version,
			Description: "RSS and Atom feeds read from local files",
			Types:       []string{typeSeries, typeEpisode},
			Resources:   []string{"catalog", "meta", "stream"},
			Methods:     []string{"catalog", "meta", "stream"},
			Catalogs:    catalogs,
			ArgSchemas: map[string]json.RawMessage{
				"catalog": catalogArgSchema,
				"meta":    idArgSchema,
				"stream":  idArgSchema,
			},
		},
		feeds: map[string]*feedCache{},
	}, nil
}

// Descriptor returns the addon manifest.
func (a *Addon) Descriptor() mb.AddonDescriptor {
	return a.desc
}

// Catalog lists the episodes of every readable feed, one page per feed.
func (a *Addon) Catalog(ctx context.Context) (mb.Catalog, error) {
	catalog := mb.Catalog{AddonID: a.config.AddonID, Pages: []mb.CatalogPage{}}
	for _, feed := range a.config.Feeds {
		if err := ctx.Err(); err != nil {
			return mb.Catalog{}, err
		}
		cache, err := a.loadFeed(feed)
		if err != nil {
			a.log.Warn("load feed", zap.String("feed", feed.Path), zap.Error(err))
			continue
		}
		catalog.Pages = append(catalog.Pages, mb.CatalogPage{
			Type:  typeSeries,
			ID:    feed.ID,
			Name:  cache.Feed.Title,
			Metas: a.episodePreviews(cache.Feed),
		})
	}
	return catalog, nil
}

// Invoke answers catalog, meta and stream requests.
func (a *Addon) Invoke(ctx context.Context, method string, args any) (any, error) {
	params, _ := args.(map[string]any)
	switch method {
	case "catalog":
		return a.catalogPage(ctx, params)
	case "meta":
		return a.meta(ctx, stringArg(params, "id"))
	case "stream":
		return a.streams(ctx, stringArg(params, "id"))
	default:
		return nil, fmt.Errorf("feed addon: unsupported method %q", method)
	}
}

func (a *Addon) catalogPage(ctx context.Context, params map[string]any) (mb.CatalogPage, error) {
	feedID := stringArg(params, "id")
	query := strings.TrimSpace(strings.ToLower(stringArg(params, "search")))
	skip := intArg(params, "skip")
	limit := intArg(params, "limit")

	if feedID == "" {
		metas := make([]mb.MetaPreview, 0, len(a.config.Feeds))
		for _, feed := range a.config.Feeds {
			cache, err := a.loadFeed(feed)
			if err != nil {
				a.log.Warn("load feed", zap.String("feed", feed.Path), zap.Error(err))
				continue
			}
			if query != "" && !matchesQuery(query, cache.Feed.Title, cache.Feed.Description) {
				continue
			}
			metas = append(metas, seriesPreview(cache.Feed))
		}
		sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
		return mb.CatalogPage{Type: typeSeries, ID: a.config.AddonID, Name: a.config.Name, Metas: paginate(metas, skip, limit)}, nil
	}

	feed, ok := a.feedByID(feedID)
	if !ok {
		return mb.CatalogPage{}, fmt.Errorf("feed %s: %w", feedID, ports.ErrNotFound)
	}
	if err := ctx.Err(); err != nil {
		return mb.CatalogPage{}, err
	}
	cache, err := a.loadFeed(feed)
	if err != nil {
		return mb.CatalogPage{}, err
	}
	metas := a.episodePreviews(cache.Feed)
	if query != "" {
		filtered := metas[:0]
		for _, meta := range metas {
			if matchesQuery(query, meta.Name, meta.Description) {
				filtered = append(filtered, meta)
			}
		}
		metas = filtered
	}
	return mb.CatalogPage{Type: typeSeries, ID: feed.ID, Name: cache.Feed.Title, Metas: paginate(metas, skip, limit)}, nil
}

func (a *Addon) meta(ctx context.Context, id string) (any, error) {
	if feed, ok := a.feedByID(id); ok {
		cache, err := a.loadFeed(feed)
		if err != nil {
			return nil, err
		}
		return SeriesMeta{
			MetaPreview: seriesPreview(cache.Feed),
			Author:      cache.Feed.Author,
			Videos:      a.episodePreviews(cache.Feed),
		}, nil
	}
	episode, feed, err := a.findEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	return EpisodeMeta{
		MetaPreview: episodePreview(episode),
		Author:      episode.Author,
		SeriesID:    feed.FeedID,
	}, nil
}

func (a *Addon) streams(ctx context.Context, id string) (StreamsReply, error) {
	episode, _, err := a.findEpisode(ctx, id)
	if err != nil {
		return StreamsReply{}, err
	}
	if episode.AudioURL == "" {
		return StreamsReply{Streams: []Stream{}}, nil
	}
	return StreamsReply{Streams: []Stream{{URL: episode.AudioURL, Mime: episode.AudioType, Title: episode.Title}}}, nil
}

func (a *Addon) findEpisode(ctx context.Context, itemID string) (cachedEpisode, cachedFeed, error) {
	for _, feed := range a.config.Feeds {
		if err := ctx.Err(); err != nil {
			return cachedEpisode{}, cachedFeed{}, err
		}
		cache, err := a.loadFeed(feed)
		if err != nil {
			continue
		}
		if episode, ok := cache.ByID[itemID]; ok {
			return episode, cache.Feed, nil
		}
	}
	return cachedEpisode{}, cachedFeed{}, fmt.Errorf("item %s: %w", itemID, ports.ErrNotFound)
}

func (a *Addon) feedByID(feedID string) (Feed, bool) {
	for _, feed := range a.config.Feeds {
		if feed.ID == feedID {
			return feed, true
		}
	}
	return Feed{}, false
}

func (a *Addon) episodePreviews(feed cachedFeed) []mb.MetaPreview {
	episodes := append([]cachedEpisode(nil), feed.Episodes...)
	if a.config.ReverseSortByDate {
		sort.SliceStable(episodes, func(i, j int) bool { return episodes[i].Published > episodes[j].Published })
	} else {
		sort.SliceStable(episodes, func(i, j int) bool { return episodes[i].Title < episodes[j].Title })
	}
	metas := make([]mb.MetaPreview, 0, len(episodes))
	for _, episode := range episodes {
		metas = append(metas, episodePreview(episode))
	}
	return metas
}

// loadFeed returns the cached parse of a feed file, re-reading it once the
// refresh interval passed and the file changed on disk.
func (a *Addon) loadFeed(feed Feed) (*feedCache, error) {
	now := time.Now()

	a.cacheMu.Lock()
	cached, ok := a.feeds[feed.ID]
	if ok && a.config.Refresh > 0 && now.Sub(cached.CheckedAt) < a.config.Refresh {
		a.cacheMu.Unlock()
		return cached, nil
	}
	a.cacheMu.Unlock()

	info, err := os.Stat(feed.Path)
	if err != nil {
		if ok {
			a.log.Warn("feed file unavailable, serving cached copy", zap.String("feed", feed.Path), zap.Error(err))
			return cached, nil
		}
		return nil, err
	}
	if ok && info.ModTime().Equal(cached.ModTime) && info.Size() == cached.Size {
		a.cacheMu.Lock()
		cached.CheckedAt = now
		a.cacheMu.Unlock()
		return cached, nil
	}

	parsed, err := parseFeed(feed)
	if err != nil {
		if ok {
			a.log.Warn("feed parse failed, serving cached copy", zap.String("feed", feed.Path), zap.Error(err))
			return cached, nil
		}
		return nil, err
	}

	fresh := &feedCache{
		Feed:      *parsed,
		ByID:      indexEpisodes(parsed.Episodes),
		ModTime:   info.ModTime(),
		Size:      info.Size(),
		CheckedAt: now,
	}
	a.cacheMu.Lock()
	a.feeds[feed.ID] = fresh
	a.cacheMu.Unlock()
	return fresh, nil
}

func parseFeed(feed Feed) (*cachedFeed, error) {
	file, err := os.Open(feed.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	parsed, err := gofeed.NewParser().Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", feed.Path, err)
	}

	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = feed.Name
	}
	author := bestFeedAuthor(parsed)
	image := bestFeedImage(parsed)

	episodes := make([]cachedEpisode, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		episode := buildEpisode(feed.ID, parsed, item, image, author)
		if episode.ID == "" {
			continue
		}
		episodes = append(episodes, episode)
	}

	return &cachedFeed{
		FeedID:      feed.ID,
		Path:        feed.Path,
		Title:       title,
		Description: strings.TrimSpace(parsed.Description),
		Author:      author,
		ImageURL:    image,
		Episodes:    episodes,
	}, nil
}

func buildEpisode(feedID string, feed *gofeed.Feed, item *gofeed.Item, fallbackImage string, fallbackAuthor string) cachedEpisode {
	if item == nil {
		return cachedEpisode{}
	}
	audioURL, audioType := pickEnclosure(item)
	key := strings.TrimSpace(item.GUID)
	if key == "" {
		key = audioURL
	}
	if key == "" {
		key = strings.TrimSpace(item.Link)
	}
	if key == "" {
		key = strings.TrimSpace(item.Title)
	}
	if key == "" {
		return cachedEpisode{}
	}

	imageURL := bestItemImage(item)
	if imageURL == "" {
		imageURL = fallbackImage
	}
	author := bestItemAuthor(item, feed)
	if author == "" {
		author = fallbackAuthor
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = key
	}

	return cachedEpisode{
		ID:          hashID("episode", feedID+":"+key),
		Title:       title,
		Description: strings.TrimSpace(item.Description),
		Published:   toUnix(item.PublishedParsed),
		DurationMS:  parseDurationMS(item),
		AudioURL:    audioURL,
		AudioType:   audioType,
		ImageURL:    imageURL,
		Author:      author,
	}
}

func seriesPreview(feed cachedFeed) mb.MetaPreview {
	return mb.MetaPreview{
		ID:          feed.FeedID,
		Type:        typeSeries,
		Name:        feed.Title,
		Poster:      feed.ImageURL,
		Description: feed.Description,
	}
}

func episodePreview(episode cachedEpisode) mb.MetaPreview {
	release := ""
	if episode.Published > 0 {
		release = time.Unix(episode.Published, 0).UTC().Format("2006-01-02")
	}
	return mb.MetaPreview{
		ID:          episode.ID,
		Type:        typeEpisode,
		Name:        episode.Title,
		Poster:      episode.ImageURL,
		Description: episode.Description,
		ReleaseInfo: release,
		DurationMS:  episode.DurationMS,
	}
}

func pickEnclosure(item *gofeed.Item) (string, string) {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			return enc.URL, enc.Type
		}
	}
	return "", ""
}

func bestFeedAuthor(feed *gofeed.Feed) string {
	if feed == nil {
		return ""
	}
	if feed.Author != nil && feed.Author.Name != "" {
		return strings.TrimSpace(feed.Author.Name)
	}
	if feed.ITunesExt != nil && feed.ITunesExt.Author != "" {
		return strings.TrimSpace(feed.ITunesExt.Author)
	}
	return ""
}

func bestItemAuthor(item *gofeed.Item, feed *gofeed.Feed) string {
	if item.Author != nil && item.Author.Name != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	if item.ITunesExt != nil && item.ITunesExt.Author != "" {
		return strings.TrimSpace(item.ITunesExt.Author)
	}
	return bestFeedAuthor(feed)
}

func bestFeedImage(feed *gofeed.Feed) string {
	if feed.Image != nil && feed.Image.URL != "" {
		return feed.Image.URL
	}
	if feed.ITunesExt != nil && feed.ITunesExt.Image != "" {
		return feed.ITunesExt.Image
	}
	return ""
}

func bestItemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if item.ITunesExt != nil && item.ITunesExt.Image != "" {
		return item.ITunesExt.Image
	}
	return ""
}

// parseDurationMS reads itunes:duration as seconds or [[h:]m:]s.
func parseDurationMS(item *gofeed.Item) int64 {
	if item.ITunesExt == nil {
		return 0
	}
	raw := strings.TrimSpace(item.ITunesExt.Duration)
	if raw == "" {
		return 0
	}
	var total int64
	for _, part := range strings.Split(raw, ":") {
		var n int64
		if _, err := fmt.Sscanf(part, "%d", &n); err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total * 1000
}

func toUnix(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func matchesQuery(query string, fields ...string) bool {
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func paginate(items []mb.MetaPreview, skip int64, limit int64) []mb.MetaPreview {
	total := int64(len(items))
	if skip < 0 {
		skip = 0
	}
	if skip >= total {
		return []mb.MetaPreview{}
	}
	end := total
	if limit > 0 && skip+limit < total {
		end = skip + limit
	}
	return items[skip:end]
}

func indexEpisodes(episodes []cachedEpisode) map[string]cachedEpisode {
	out := make(map[string]cachedEpisode, len(episodes))
	for _, episode := range episodes {
		out[episode.ID] = episode
	}
	return out
}

func hashID(prefix string, input string) string {
	sum := sha1.Sum([]byte(input))
	return fmt.Sprintf("%s_%x", prefix, sum[:])
}

func stringArg(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

func intArg(params map[string]any, key string) int64 {
	switch v := params[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}
