package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/media_bridge/internal/adapters/addonhost"
	"github.com/mikey-austin/media_bridge/internal/adapters/clock"
	"github.com/mikey-austin/media_bridge/internal/adapters/idgen"
	"github.com/mikey-austin/media_bridge/internal/adapters/mqttserver"
	"github.com/mikey-austin/media_bridge/internal/adapters/search"
	"github.com/mikey-austin/media_bridge/internal/adapters/store"
	"github.com/mikey-austin/media_bridge/internal/bridge"
	"github.com/mikey-austin/media_bridge/internal/mbd"
	bridgenode "github.com/mikey-austin/media_bridge/internal/modules/bridge_node"
	embeddedmqtt "github.com/mikey-austin/media_bridge/internal/modules/embedded_mqtt"
	feedaddon "github.com/mikey-austin/media_bridge/internal/modules/feed_addon"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// version is stamped by the release build.
var version = "dev"

func main() {
	var (
		configPath  string
		broker      string
		identity    string
		topicBase   string
		logLevel    string
		logFormat   string
		logOutput   string
		logSource   bool
		logUTC      bool
		logColor    bool
		printConfig bool
		dryRun      bool
		moduleOnly  string
	)

	defaultConfig, err := mbd.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&broker, "broker", "", "MQTT broker URL override")
	flag.StringVar(&identity, "identity", "", "server identity override")
	flag.StringVar(&topicBase, "topic-base", "", "topic base override")
	flag.StringVar(&logLevel, "log-level", "", "log level override")
	flag.StringVar(&logFormat, "log-format", "", "log format override (text|json)")
	flag.StringVar(&logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&logSource, "log-source", false, "include source file in logs")
	flag.BoolVar(&logUTC, "log-utc", false, "use UTC timestamps in logs")
	flag.BoolVar(&logColor, "log-color", false, "enable colored log output (text only)")
	flag.StringVar(&moduleOnly, "module", "", "limit to a single module")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := mbd.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, overrides{
		broker:    broker,
		identity:  identity,
		topicBase: topicBase,
		logLevel:  logLevel,
		logFormat: logFormat,
		logOutput: logOutput,
		logSource: logSource,
		logUTC:    logUTC,
		logColor:  logColor,
	})

	if printConfig {
		if err := printResolvedConfig(os.Stdout, cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if dryRun {
		return
	}

	logger := mbd.NewLogger(mbd.LogConfig{
		Level:     cfg.Server.LogLevel,
		Format:    cfg.Server.LogFormat,
		Output:    cfg.Server.LogOutput,
		AddSource: cfg.Server.LogSource,
		UTC:       cfg.Server.LogUTC,
		Color:     cfg.Server.LogColor,
	})
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger, moduleOnly); err != nil {
		logger.Error("mbd failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg mbd.Config, logger *zap.Logger, moduleOnly string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	skipEmbedded := false
	if moduleOnly != "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled && cfg.Server.Broker == embeddedBrokerURL(cfg) {
		if err := startEmbeddedBroker(ctx, cfg, logger, cancel); err != nil {
			return fmt.Errorf("embedded mqtt: %w", err)
		}
		skipEmbedded = true
	}

	if cfg.Server.Broker == "" && !(moduleOnly == "embedded_mqtt" && cfg.Modules.EmbeddedMQTT.Enabled) {
		return errors.New("broker is required")
	}
	logger.Info("mbd starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("identity", cfg.Server.Identity),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.String("log_level", cfg.Server.LogLevel),
		zap.Strings("modules", enabledModules(cfg)),
	)

	var core *daemonCore
	if moduleOnly != "embedded_mqtt" {
		var err error
		core, err = buildCore(cfg, logger)
		if err != nil {
			return fmt.Errorf("build bridge: %w", err)
		}
		defer core.close(logger)

		hostName := cfg.Bridge.Name
		if hostName == "" {
			hostName = "mbd"
		}
		if err := core.bridge.Init(bridge.Host{Name: hostName, Version: version, DataDir: core.dataDir}); err != nil {
			return fmt.Errorf("init bridge: %w", err)
		}
	}

	var client *mqttserver.Client
	if moduleOnly != "embedded_mqtt" && cfg.Modules.BridgeNode.Enabled {
		var err error
		client, err = mqttserver.NewClient(mqttserver.Options{
			BrokerURL: cfg.Server.Broker,
			ClientID:  fmt.Sprintf("mbd-%d", time.Now().UnixNano()),
			Username:  cfg.Server.Auth.User,
			Password:  cfg.Server.Auth.Pass,
			TLSCA:     cfg.Server.TLS.CA,
			TLSCert:   cfg.Server.TLS.Cert,
			TLSKey:    cfg.Server.TLS.Key,
			Timeout:   2 * time.Second,
			Logger:    logger.Named("mqtt"),
			Debug:     cfg.Server.LogLevel == "debug",
		})
		if err != nil {
			return fmt.Errorf("mqtt connection: %w", err)
		}
		defer client.Close()
	}

	var facade bridgenode.Facade
	if core != nil {
		facade = core.bridge
	}
	modules, err := buildModules(cfg, client, facade, logger, moduleOnly, skipEmbedded)
	if err != nil {
		return fmt.Errorf("build modules: %w", err)
	}

	supervisor := mbd.Supervisor{Logger: logger}
	return supervisor.Run(ctx, modules)
}

type overrides struct {
	broker    string
	identity  string
	topicBase string
	logLevel  string
	logFormat string
	logOutput string
	logSource bool
	logUTC    bool
	logColor  bool
}

func applyOverrides(cfg *mbd.Config, o overrides) {
	if o.broker != "" {
		cfg.Server.Broker = o.broker
	}
	if o.identity != "" {
		cfg.Server.Identity = o.identity
	}
	if o.topicBase != "" {
		cfg.Server.TopicBase = o.topicBase
	}
	if o.logLevel != "" {
		cfg.Server.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Server.LogFormat = o.logFormat
	}
	if o.logOutput != "" {
		cfg.Server.LogOutput = o.logOutput
	}
	if o.logSource {
		cfg.Server.LogSource = true
	}
	if o.logUTC {
		cfg.Server.LogUTC = true
	}
	if o.logColor {
		cfg.Server.LogColor = true
	}
	if cfg.Server.TopicBase == "" {
		cfg.Server.TopicBase = mb.BaseTopic
	}
	if cfg.Server.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Server.Broker = embeddedBrokerURL(*cfg)
	}
}

// daemonCore is the bridge with the adapters it owns.
type daemonCore struct {
	bridge  *bridge.Bridge
	store   *store.Store
	dataDir string
}

func buildCore(cfg mbd.Config, logger *zap.Logger) (*daemonCore, error) {
	dataDir := cfg.Bridge.DataDir
	if dataDir == "" {
		dir, err := mbd.DefaultDataDir()
		if err != nil {
			return nil, err
		}
		dataDir = dir
	}
	storePath := cfg.Bridge.StorePath
	if storePath == "" {
		storePath = filepath.Join(dataDir, "library.db")
	}

	st, err := store.Open(storePath, clock.Clock{})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	host := addonhost.New(time.Duration(cfg.Bridge.InvokeTimeoutMS)*time.Millisecond, logger.Named("addonhost"))
	if cfg.Modules.FeedAddon.Enabled {
		addon, err := feedaddon.New(logger.Named("feed_addon"), feedAddonConfig(cfg.Modules.FeedAddon))
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("feed addon: %w", err)
		}
		if err := host.Add(addon); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	b := bridge.New(bridge.Options{
		Transport: host,
		Library:   st,
		Search: search.Index{
			Library: st,
			Addons:  host,
			Limit:   cfg.Bridge.SearchLimit,
			Log:     logger.Named("search"),
		},
		Signals:        st,
		Markers:        st,
		IDGen:          idgen.Generator{},
		IntroCeilingMS: cfg.Bridge.IntroCeilingMS,
		IntroMarginMS:  cfg.Bridge.IntroMarginMS,
		PersistEveryMS: cfg.Bridge.PersistEveryMS,
		Log:            logger.Named("bridge"),
	})
	return &daemonCore{bridge: b, store: st, dataDir: dataDir}, nil
}

func (c *daemonCore) close(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.bridge.Shutdown(ctx)
	if err := c.store.Close(); err != nil {
		logger.Warn("close store", zap.Error(err))
	}
}

func feedAddonConfig(cfg mbd.FeedAddonConfig) feedaddon.Config {
	feeds := make([]feedaddon.Feed, 0, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		feeds = append(feeds, feedaddon.Feed{ID: feed.ID, Name: feed.Name, Path: feed.Path})
	}
	addonID := cfg.AddonID
	if addonID == "" {
		addonID = "org.mediabridge.feeds"
	}
	reverse := true
	if cfg.ReverseSortByDate != nil {
		reverse = *cfg.ReverseSortByDate
	}
	return feedaddon.Config{
		AddonID:           addonID,
		Name:              cfg.Name,
		Feeds:             feeds,
		Refresh:           time.Duration(cfg.RefreshMS) * time.Millisecond,
		ReverseSortByDate: reverse,
	}
}

func buildModules(cfg mbd.Config, client *mqttserver.Client, facade bridgenode.Facade, logger *zap.Logger, moduleOnly string, skipEmbedded bool) ([]mbd.ModuleRunner, error) {
	modules := []mbd.ModuleRunner{}
	if cfg.Modules.EmbeddedMQTT.Enabled && !skipEmbedded {
		if moduleOnly == "" || moduleOnly == "embedded_mqtt" {
			mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedConfig(cfg))
			if err != nil {
				return nil, err
			}
			modules = append(modules, mbd.ModuleRunner{Name: "embedded_mqtt", Run: mod.Run})
		}
	}

	if cfg.Modules.BridgeNode.Enabled {
		if moduleOnly == "" || moduleOnly == "bridge_node" {
			if client == nil {
				return nil, errors.New("bridge_node requires an mqtt connection")
			}
			if facade == nil {
				return nil, errors.New("bridge_node requires the bridge")
			}
			node, err := bridgenode.NewModule(logger.With(zap.String("module", "bridge_node")), client, facade, bridgenode.Config{
				NodeID:    cfg.Modules.BridgeNode.NodeID,
				TopicBase: cfg.Server.TopicBase,
				Name:      cfg.Modules.BridgeNode.Name,
			})
			if err != nil {
				return nil, err
			}
			modules = append(modules, mbd.ModuleRunner{Name: "bridge_node", Run: node.Run})
		}
	}

	if moduleOnly != "" && len(modules) == 0 {
		return nil, errors.New("no modules enabled")
	}
	return modules, nil
}

func enabledModules(cfg mbd.Config) []string {
	out := []string{}
	if cfg.Modules.EmbeddedMQTT.Enabled {
		out = append(out, "embedded_mqtt")
	}
	if cfg.Modules.BridgeNode.Enabled {
		out = append(out, "bridge_node")
	}
	if cfg.Modules.FeedAddon.Enabled {
		out = append(out, "feed_addon")
	}
	return out
}

func printResolvedConfig(w io.Writer, cfg mbd.Config) error {
	_, err := fmt.Fprintf(w,
		"broker=%s identity=%s topic_base=%s log_level=%s log_format=%s log_output=%s log_source=%t log_utc=%t log_color=%t store_path=%s invoke_timeout_ms=%d intro_ceiling_ms=%d intro_margin_ms=%d modules=%v\n",
		cfg.Server.Broker,
		cfg.Server.Identity,
		cfg.Server.TopicBase,
		cfg.Server.LogLevel,
		cfg.Server.LogFormat,
		cfg.Server.LogOutput,
		cfg.Server.LogSource,
		cfg.Server.LogUTC,
		cfg.Server.LogColor,
		cfg.Bridge.StorePath,
		cfg.Bridge.InvokeTimeoutMS,
		cfg.Bridge.IntroCeilingMS,
		cfg.Bridge.IntroMarginMS,
		enabledModules(cfg),
	)
	return err
}

func embeddedConfig(cfg mbd.Config) embeddedmqtt.Config {
	return embeddedmqtt.Config{
		Listen:         cfg.Modules.EmbeddedMQTT.Listen,
		TopicBase:      cfg.Server.TopicBase,
		AllowAnonymous: cfg.Modules.EmbeddedMQTT.AllowAnonymous,
		Username:       cfg.Modules.EmbeddedMQTT.Username,
		Password:       cfg.Modules.EmbeddedMQTT.Password,
		TLSCA:          cfg.Modules.EmbeddedMQTT.TLSCA,
		TLSCert:        cfg.Modules.EmbeddedMQTT.TLSCert,
		TLSKey:         cfg.Modules.EmbeddedMQTT.TLSKey,
	}
}

func embeddedBrokerURL(cfg mbd.Config) string {
	ec := embeddedConfig(cfg)
	listen := ec.Listen
	if listen == "" {
		listen = embeddedmqtt.DefaultListen
	}
	return embeddedmqtt.BrokerURL(listen, ec.TLSEnabled())
}

func startEmbeddedBroker(ctx context.Context, cfg mbd.Config, logger *zap.Logger, cancel context.CancelFunc) error {
	mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", "embedded_mqtt")), embeddedConfig(cfg))
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- mod.Run(ctx)
	}()
	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()
	return mod.WaitReady(3 * time.Second)
}
