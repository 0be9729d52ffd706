// Command huddle runs the Huddle meeting bot.
//
// Usage:
//
//	huddle [--config FILE]            run the bot
//	huddle serve [--config FILE]      same as above
//	huddle validate [--build]         check a configuration file
//	huddle version                    print the build version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/huddle/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "huddle:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	runServe := func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), configPath)
	}

	root := &cobra.Command{
		Use:   "huddle",
		Short: "Discord voice meeting bot",
		Long: `huddle joins a Discord voice channel, records and transcribes the meeting,
answers spoken requests addressed to it and posts a summary when it leaves.

Without a subcommand huddle runs the bot, the same as 'huddle serve'.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bot until interrupted",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		newValidateCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newValidateCmd(configPath *string) *cobra.Command {
	var build bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file without connecting to Discord",
		Long: `validate loads the configuration, applies defaults and reports every invalid
value. Provider names must be ones this build knows. With --build every
configured provider is also constructed, which catches missing API keys and
model files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			if err := checkProviderNames(cfg.Providers, reg); err != nil {
				return err
			}
			if build {
				if _, err := buildProviders(cfg, reg, nil); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", *configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&build, "build", false, "also construct every configured provider")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "huddle %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

// checkProviderNames rejects provider names that have no factory in reg.
// The audio platform is registered only once the bot connects, so it is
// checked against [config.ValidProviderNames].
func checkProviderNames(pc config.ProvidersConfig, reg *config.Registry) error {
	type entry struct {
		field, kind, name string
	}
	entries := []entry{
		{"providers.stt", "stt", pc.STT.Name},
		{"providers.tts", "tts", pc.TTS.Name},
		{"providers.llm", "llm", pc.LLM.Name},
		{"providers.audio", "audio", pc.Audio.Name},
	}
	for i, e := range pc.STTFallback {
		entries = append(entries, entry{fmt.Sprintf("providers.stt_fallback[%d]", i), "stt", e.Name})
	}
	for i, e := range pc.TTSFallback {
		entries = append(entries, entry{fmt.Sprintf("providers.tts_fallback[%d]", i), "tts", e.Name})
	}
	for i, e := range pc.LLMFallback {
		entries = append(entries, entry{fmt.Sprintf("providers.llm_fallback[%d]", i), "llm", e.Name})
	}

	var bad []string
	for _, e := range entries {
		if e.name == "" {
			continue
		}
		known := reg.Names(e.kind)
		if e.kind == "audio" {
			known = config.ValidProviderNames["audio"]
		}
		if !slices.Contains(known, e.name) {
			bad = append(bad, fmt.Sprintf("%s: unknown provider %q (known: %s)", e.field, e.name, strings.Join(known, ", ")))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid providers:\n  %s", strings.Join(bad, "\n  "))
	}
	return nil
}
