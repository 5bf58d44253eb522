package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/media_bridge/internal/core"
)

func lsCommand() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.ListNodes(ctx, kind)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind")
	return cmd
}

func addonsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "addons",
		Short: "List addons registered on the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.Addons(ctx, app.bridge)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

func catalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog <addonId>",
		Short: "Show an addon catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.Catalog(ctx, app.bridge, args[0])
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

func invokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <addonId> <method> [args|-]",
		Short: "Invoke an addon method",
		Long:  "Invoke an addon method. args is JSON text; \"-\" reads it from stdin. Missing args send {}.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			argsText := "{}"
			if len(args) == 3 {
				text, err := readArg(args[2], cmd.InOrStdin())
				if err != nil {
					return core.WrapError(core.ExitUsage, "read args", err)
				}
				argsText = text
			}

			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			result, err := app.service.Invoke(ctx, app.bridge, args[0], args[1], argsText)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

func dispatchCommand() *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "dispatch <action> [payload|-]",
		Short: "Dispatch a UI action such as Player.Seek",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			payload := ""
			if len(args) == 2 {
				text, err := readArg(args[1], cmd.InOrStdin())
				if err != nil {
					return core.WrapError(core.ExitUsage, "read payload", err)
				}
				payload = text
			}

			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			result, err := app.service.Dispatch(ctx, app.bridge, args[0], payload, !noWait)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "send without waiting for the acknowledgement")
	return cmd
}

func skipIntroCommand() *cobra.Command {
	var tolerance int64

	cmd := &cobra.Command{
		Use:   "skipintro <itemId> <durationMs>",
		Short: "Show skip-intro data for an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			duration, err := strconv.ParseInt(strings.TrimSpace(args[1]), 10, 64)
			if err != nil {
				return &core.CLIError{Code: core.ExitUsage, Msg: "durationMs must be an integer", Err: err}
			}

			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()
			result, err := app.service.SkipIntro(ctx, app.bridge, args[0], duration, tolerance)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().Int64Var(&tolerance, "tolerance", core.DefaultIntroToleranceMS, "max distance in ms between duration and intro key")
	return cmd
}

func libraryCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "library",
		Aliases: []string{"lib"},
		Short:   "List the user library",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.Library(ctx, app.bridge)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

func searchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query...>",
		Short: "Search the library and addon catalogs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.Search(ctx, app.bridge, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}
