package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"muse/internal/chat"
	"muse/internal/config"
	"muse/internal/dispatcher"
	"muse/internal/generator"
	"muse/internal/intent"
	"muse/internal/llm"
	"muse/internal/logging"
	"muse/internal/observability"
	"muse/internal/provider"
	serverhttp "muse/internal/server/http"
	"muse/internal/task"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	cyan  = color.New(color.FgCyan).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

func main() {
	root := &cobra.Command{
		Use:          "muse-server",
		Short:        "Media generation and chat orchestration server",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to a config file (yaml)")
	flags.String("listen", ":8080", "listen address")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.Bool("debug", false, "enable debug routing output")
	_ = v.BindPFlag("listen", flags.Lookup("listen"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("debug", flags.Lookup("debug"))

	return cmd
}

func runServer(cfg *config.Config) error {
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewComponentLogger("Main")

	printBanner(cfg)

	providerClient := provider.NewClient(cfg.Provider.APIKey,
		provider.WithBaseURL(cfg.Provider.BaseURL),
	)

	imageGen := generator.NewImageGenerator(providerClient, cfg.Provider.ImageModel, nil)
	audioGen := generator.NewAudioGenerator(providerClient, cfg.Provider.SpeechModel, nil)
	videoGen := generator.NewVideoGenerator(providerClient, cfg.Provider.VideoModel, nil)

	modelClient, err := llm.NewOpenAIClient(llm.Config{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
		Model:   cfg.Model.Name,
		Timeout: cfg.Timeouts.Chat,
	})
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}
	// Tool executors are injected by embedders; the server binary runs the
	// loop without one, so the model answers from context alone.
	chatLoop := chat.NewTurnLoop(modelClient, nil, cfg.Timeouts.Tool, nil)

	registry, err := task.NewRegistry(cfg.Retention, nil)
	if err != nil {
		return fmt.Errorf("task registry: %w", err)
	}

	disp := dispatcher.New(
		intent.NewClassifier(),
		registry,
		imageGen,
		audioGen,
		videoGen,
		chatLoop,
		dispatcher.Config{
			GenerateTimeout: cfg.Timeouts.Generate,
			SubmitTimeout:   cfg.Timeouts.Submit,
			PollTimeout:     cfg.Timeouts.Poll,
			VideoTimeout:    cfg.Timeouts.Video,
			PollInterval:    cfg.PollInterval,
		},
		nil,
	)

	promRegistry := prometheus.NewRegistry()
	metrics := observability.MustNewMetrics(promRegistry)
	observability.RegisterTaskStats(promRegistry, registry)

	srv := serverhttp.NewServer(
		serverhttp.Config{
			Listen:         cfg.Listen,
			AllowedOrigins: cfg.AllowedOrigins,
			Debug:          cfg.Debug,
		},
		disp, registry, chatLoop, metrics, promRegistry,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func printBanner(cfg *config.Config) {
	fmt.Printf("%s %s\n", bold("muse-server"), gray("media generation orchestrator"))
	fmt.Printf("  %s %s\n", cyan("listen:"), cfg.Listen)
	fmt.Printf("  %s %s\n", cyan("provider:"), cfg.Provider.BaseURL)
	fmt.Printf("  %s %s %s\n", cyan("model:"), cfg.Model.Name, gray("("+cfg.Model.BaseURL+")"))
	fmt.Printf("  %s %s\n", green("status:"), "starting")
}
