// Command bridge is the thin CLI wrapper around internal/engine.Engine: it
// loads configuration, picks the concrete upstream client and sink, loads
// the transform artifact, and runs the synchroniser until an interrupt
// signal. No business logic lives here: every decision belongs to
// pkg/config or internal/engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cdcbridge/internal/engine"
	"cdcbridge/internal/sink"
	"cdcbridge/internal/upstream"
	"cdcbridge/pkg/config"
)

var (
	cfgLogger = logrus.StandardLogger()
	cfgEnv    string
)

func main() {
	root := &cobra.Command{Use: "bridge", PersistentPreRunE: bridgeInit}
	root.PersistentFlags().StringVar(&cfgEnv, "env", "", "config overlay name (merges cmd/config/<env>.yaml)")
	root.AddCommand(runCmd(), versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func bridgeInit(cmd *cobra.Command, _ []string) error {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "info"
	}
	lv, err := logrus.ParseLevel(lvl)
	if err != nil {
		return err
	}
	cfgLogger.SetLevel(lv)
	cfgLogger.SetFormatter(&logrus.JSONFormatter{})
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the config package version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(config.Version)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the synchroniser until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgEnv)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			client, err := buildClient(cfg)
			if err != nil {
				return err
			}
			s, err := buildSink(cfg)
			if err != nil {
				return err
			}
			artifact, err := os.ReadFile(cfg.Sandbox.ArtifactPath)
			if err != nil {
				return fmt.Errorf("read transform artifact: %w", err)
			}

			eng, err := engine.New(cfg, client, s, artifact, cfgLogger)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			eng.Run(ctx)
			<-ctx.Done()
			eng.Stop()
			return nil
		},
	}
}

func buildClient(cfg *config.Config) (upstream.Client, error) {
	switch cfg.Upstream.Kind {
	case "", "rpc":
		return upstream.NewRPCClient(cfg.Upstream.URL,
			upstream.WithLogger(cfgLogger),
			upstream.WithMaxRetries(uint64(cfg.Upstream.MaxRetries)),
		), nil
	case "memory":
		return upstream.NewMemoryClient("cli-memory"), nil
	default:
		return nil, fmt.Errorf("unknown upstream.kind %q", cfg.Upstream.Kind)
	}
}

func buildSink(cfg *config.Config) (sink.Sink, error) {
	switch cfg.Sink.Kind {
	case "", "console":
		return sink.NewConsoleSink(cfg.Sink.Pretty), nil
	case "file":
		return sink.NewFileSink(cfg.Sink.Path, cfg.Sink.Pretty, cfg.Sink.FlushEvery)
	case "null":
		return sink.NewNullSink(), nil
	default:
		return nil, fmt.Errorf("unknown sink.kind %q", cfg.Sink.Kind)
	}
}
