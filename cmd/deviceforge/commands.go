// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/DeviceForge/pkg/logging"
	"github.com/AleutianAI/DeviceForge/services/generator"
	"github.com/AleutianAI/DeviceForge/services/generator/datatypes"
	"github.com/AleutianAI/DeviceForge/services/generator/pipeline"
	"github.com/AleutianAI/DeviceForge/services/llm"
)

// cliDeps holds the constructors the commands call, replaced in tests.
type cliDeps struct {
	newService    func(cfg generator.Config) (generator.Service, error)
	newChatClient func(cfg generator.Config) (llm.ChatClient, error)
	stdin         io.Reader
}

func defaultDeps() cliDeps {
	return cliDeps{
		newService: func(cfg generator.Config) (generator.Service, error) {
			return generator.New(cfg)
		},
		newChatClient: func(cfg generator.Config) (llm.ChatClient, error) {
			return generator.NewChatClient(cfg, nil)
		},
		stdin: os.Stdin,
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd(deps cliDeps) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "deviceforge",
		Short: "Generate IEC 61499 device configurations with a language model",
		Long: `DeviceForge turns a short description of an automation project into
device configurations and system recommendations, streaming progress
over Server-Sent Events.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "",
		"Override the log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(flags, deps),
		newGenerateCmd(flags, deps),
		newConfigCmd(flags),
		newKindsCmd(),
	)
	return rootCmd
}

// loadConfig reads the configuration and applies the global flag overrides.
func loadConfig(flags *globalFlags) (generator.Config, error) {
	cfg, err := generator.LoadConfig(flags.configPath)
	if err != nil {
		return generator.Config{}, err
	}
	if flags.logLevel != "" {
		if _, err := logging.ParseLevel(flags.logLevel); err != nil {
			return generator.Config{}, err
		}
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, nil
}

// setupLogging installs the process logger. Console output goes to w.
func setupLogging(cfg logging.Config, w io.Writer) (*logging.Logger, error) {
	cfg.Output = w
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	logger.Install()
	return logger, nil
}

// =============================================================================
// serve
// =============================================================================

func newServeCmd(flags *globalFlags, deps cliDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the generation HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger, err := setupLogging(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Close()

			svc, err := deps.newService(cfg)
			if err != nil {
				return fmt.Errorf("failed to create the generation service: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return svc.Run(ctx)
		},
	}
}

// =============================================================================
// generate
// =============================================================================

type generateFlags struct {
	kind   string
	file   string
	prompt string
	pretty bool
}

func newGenerateCmd(flags *globalFlags, deps cliDeps) *cobra.Command {
	gf := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run one generation and print its events",
		Long: `Runs a single generation against the configured model and prints
every progress event. Without --pretty the output is the same SSE stream
the server sends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			// The event stream owns stdout; logs go to stderr.
			logger, err := setupLogging(cfg.Logging, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Close()

			kind, payload, err := readGeneratePayload(gf, deps.stdin)
			if err != nil {
				return err
			}

			client, err := deps.newChatClient(cfg)
			if err != nil {
				return err
			}
			orch, err := pipeline.New(client, nil, cfg.Pipeline(), nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			pretty := gf.pretty
			if !cmd.Flags().Changed("pretty") {
				pretty = isTerminal(out)
			}
			var sink pipeline.EventSink = newFrameSink(out)
			if pretty {
				sink = newPrettySink(out)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return orch.Run(ctx, uuid.NewString(), kind, payload, sink)
		},
	}
	cmd.Flags().StringVarP(&gf.kind, "kind", "k", string(datatypes.KindProjectCreation),
		"Generation kind ("+kindList()+")")
	cmd.Flags().StringVarP(&gf.file, "file", "f", "", "JSON payload file, or - for stdin")
	cmd.Flags().StringVarP(&gf.prompt, "prompt", "p", "", "Recommendation prompt (ai_recommend only)")
	cmd.Flags().BoolVar(&gf.pretty, "pretty", false,
		"Print human readable, colored output (default when stdout is a terminal)")
	return cmd
}

// readGeneratePayload resolves the kind and payload from the flags.
func readGeneratePayload(gf *generateFlags, stdin io.Reader) (datatypes.Kind, json.RawMessage, error) {
	kind, err := datatypes.ParseKind(gf.kind)
	if err != nil {
		return "", nil, err
	}

	var raw []byte
	switch {
	case gf.prompt != "" && gf.file != "":
		return "", nil, errors.New("use either --prompt or --file, not both")
	case gf.prompt != "":
		if kind != datatypes.KindAIRecommend {
			return "", nil, fmt.Errorf("--prompt is only valid with --kind %s", datatypes.KindAIRecommend)
		}
		raw, err = json.Marshal(datatypes.RecommendPayload{Prompt: gf.prompt})
	case gf.file == "-":
		raw, err = io.ReadAll(stdin)
	case gf.file != "":
		raw, err = os.ReadFile(gf.file)
	default:
		return "", nil, errors.New("a payload is required: pass --file or --prompt")
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to read the payload: %w", err)
	}

	payload := json.RawMessage(raw)
	if err := datatypes.ValidatePayload(kind, payload); err != nil {
		return "", nil, err
	}
	return kind, payload, nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func kindList() string {
	kinds := datatypes.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ", ")
}

// =============================================================================
// config / kinds
// =============================================================================

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			out, err := cfg.Masked().YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the supported generation kinds",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, k := range datatypes.Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
		},
	}
}
