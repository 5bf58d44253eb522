package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/media_bridge/internal/adapters/clock"
	"github.com/mikey-austin/media_bridge/internal/adapters/config"
	"github.com/mikey-austin/media_bridge/internal/adapters/idgen"
	"github.com/mikey-austin/media_bridge/internal/adapters/mqtt"
	"github.com/mikey-austin/media_bridge/internal/adapters/output"
	"github.com/mikey-austin/media_bridge/internal/core"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

type app struct {
	service core.Service
	printer output.Printer
	bridge  string
	timeout time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(core.ExitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "mb",
		Short:        "Media Bridge CLI",
		SilenceUsage: true,
	}

	var (
		broker    string
		topicBase string
		identity  string
		bridge    string
		timeout   time.Duration
		jsonOut   bool
		noColor   bool
		tlsCA     string
		tlsCert   string
		tlsKey    string
		userOpt   string
		passOpt   string
	)

	root.PersistentFlags().StringVarP(&broker, "broker", "b", "", "MQTT broker URL")
	root.PersistentFlags().StringVar(&topicBase, "topic-base", mb.BaseTopic, "MQTT topic base")
	root.PersistentFlags().StringVarP(&identity, "identity", "i", "", "controller identity")
	root.PersistentFlags().StringVar(&bridge, "bridge", "", "bridge selector (name, alias or node id)")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 0, "command timeout")
	root.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output json")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color")
	root.PersistentFlags().StringVar(&tlsCA, "tls-ca", "", "TLS CA path")
	root.PersistentFlags().StringVar(&tlsCert, "tls-cert", "", "TLS cert path")
	root.PersistentFlags().StringVar(&tlsKey, "tls-key", "", "TLS key path")
	root.PersistentFlags().StringVar(&userOpt, "user", "", "MQTT username")
	root.PersistentFlags().StringVar(&passOpt, "pass", "", "MQTT password")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		identity = defaultIdentity(identity, cfg.Identity)
		if broker == "" {
			broker = cfg.Broker
		}
		if topicBase == mb.BaseTopic && cfg.TopicBase != "" {
			topicBase = cfg.TopicBase
		}
		timeout, err = resolveTimeout(timeout, cfg.Timeout)
		if err != nil {
			return &core.CLIError{Code: core.ExitUsage, Msg: "invalid timeout in config", Err: err}
		}
		if broker == "" {
			return &core.CLIError{Code: core.ExitUsage, Msg: "broker is required (set --broker or config)"}
		}

		clientID := fmt.Sprintf("mb-%d", time.Now().UnixNano())
		mqttClient, err := mqtt.NewClient(mqtt.Options{
			BrokerURL: broker,
			ClientID:  clientID,
			Username:  userOpt,
			Password:  passOpt,
			TLSCA:     tlsCA,
			TLSCert:   tlsCert,
			TLSKey:    tlsKey,
			TopicBase: topicBase,
			Timeout:   timeout,
		})
		if err != nil {
			return core.WrapError(core.ExitRuntime, "connect", err)
		}
		cobra.OnFinalize(mqttClient.Close)

		coreCfg := core.Config{
			Broker:    broker,
			Identity:  identity,
			TopicBase: topicBase,
			Aliases:   cfg.Aliases,
			Defaults:  core.Defaults{Bridge: cfg.Defaults.Bridge},
		}
		service := core.Service{
			Broker:   mqttClient,
			Resolver: core.Resolver{Presence: mqttClient, Config: coreCfg},
			Clock:    clock.Clock{},
			IDGen:    idgen.Generator{},
			Config:   coreCfg,
		}

		var printer output.Printer = output.HumanPrinter{NoColor: noColor}
		if jsonOut {
			printer = output.JSONPrinter{}
		}

		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, &app{
			service: service,
			printer: printer,
			bridge:  bridge,
			timeout: timeout,
		}))
		return nil
	}

	root.AddCommand(lsCommand())
	root.AddCommand(addonsCommand())
	root.AddCommand(catalogCommand())
	root.AddCommand(invokeCommand())
	root.AddCommand(dispatchCommand())
	root.AddCommand(skipIntroCommand())
	root.AddCommand(libraryCommand())
	root.AddCommand(searchCommand())

	return root
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

// resolveTimeout prefers the flag, then the config, then two seconds.
func resolveTimeout(flagVal time.Duration, cfgVal string) (time.Duration, error) {
	if flagVal > 0 {
		return flagVal, nil
	}
	if cfgVal != "" {
		d, err := time.ParseDuration(cfgVal)
		if err != nil {
			return 0, err
		}
		if d <= 0 {
			return 0, errors.New("timeout must be positive")
		}
		return d, nil
	}
	return 2 * time.Second, nil
}

func defaultIdentity(flagVal string, cfgVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if cfgVal != "" {
		return cfgVal
	}
	usr, _ := user.Current()
	host, _ := os.Hostname()
	if usr != nil && host != "" {
		return fmt.Sprintf("%s@%s", usr.Username, host)
	}
	if host != "" {
		return host
	}
	return "mb-unknown"
}

// readArg returns arg itself, or reads stdin when arg is "-".
func readArg(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
