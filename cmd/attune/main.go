package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/havenloop/attune/ai/broadcast"
	"github.com/havenloop/attune/ai/embedding"
	"github.com/havenloop/attune/ai/llm"
	"github.com/havenloop/attune/ai/metrics"
	"github.com/havenloop/attune/ai/search"
	"github.com/havenloop/attune/ai/vectorstore"
	"github.com/havenloop/attune/internal/profile"
	"github.com/havenloop/attune/internal/version"
	"github.com/havenloop/attune/server"
	apiv1 "github.com/havenloop/attune/server/router/api/v1"
	"github.com/havenloop/attune/store"
	"github.com/havenloop/attune/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "attune",
	Short: `A behavior-routing retrieval engine. Turns each conversational turn into semantic fingerprints and ranks which assistant behavior should handle it.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		setupLogger(instanceProfile)
		if err := instanceProfile.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := run(ctx, cancel, instanceProfile); err != nil {
			slog.Error("failed to start attune", "error", err)
			os.Exit(1)
		}
	},
}

func run(ctx context.Context, cancel context.CancelFunc, instanceProfile *profile.Profile) error {
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())

	provider, err := embedding.NewOpenAIProvider(embedding.Config{
		APIKey:     instanceProfile.EmbeddingAPIKey,
		BaseURL:    instanceProfile.EmbeddingBaseURL,
		Model:      instanceProfile.EmbeddingModel,
		Dimensions: instanceProfile.EmbeddingDimensions,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	embedder := embedding.NewService(provider, embedding.ServiceConfig{Exporter: exporter})
	defer embedder.Close()

	var chatService llm.Service
	if instanceProfile.LLMAPIKey != "" || instanceProfile.LLMProvider == "ollama" {
		chatService, err = llm.NewService(llm.Config{
			Provider: instanceProfile.LLMProvider,
			Model:    instanceProfile.LLMModel,
			APIKey:   instanceProfile.LLMAPIKey,
			BaseURL:  instanceProfile.LLMBaseURL,
			Timeout:  instanceProfile.LLMTimeout,
		})
		if err != nil {
			slog.Warn("thought synthesis disabled", "error", err)
			chatService = nil
		}
	} else {
		slog.Info("no LLM configured, inner thoughts use the deterministic fallback")
	}

	var backend vectorstore.Backend
	if instanceProfile.UsesPgvector() {
		backend, err = vectorstore.NewPostgresBackend(instanceProfile.VectorDSN, instanceProfile.EmbeddingDimensions)
		if err != nil {
			slog.Warn("pgvector backend unavailable, using in-memory store", "error", err)
			backend = vectorstore.NewMemoryBackend()
		}
	} else {
		backend = vectorstore.NewMemoryBackend()
	}

	vectors := vectorstore.NewService(backend, embedder)
	if err := vectors.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}

	driver, err := db.NewDriver(instanceProfile)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	stateStore := store.New(driver)
	defer stateStore.Close()

	searcher := search.NewService(search.Config{
		Vectors: vectors,
		State:   stateStore,
	})
	broadcastService := broadcast.NewService(broadcast.Config{
		Embedder: embedder,
		LLM:      chatService,
		Searcher: searcher,
		Vectors:  vectors,
		Exporter: exporter,
	})

	api := apiv1.NewAPIV1Service(instanceProfile, broadcastService, searcher, vectors, embedder)
	s, err := server.NewServer(ctx, instanceProfile, api, exporter)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)
	go func() {
		<-c
		s.Shutdown(ctx)
		cancel()
	}()

	printGreetings(instanceProfile, vectors.Backend())

	if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-ctx.Done()
	return nil
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("port", 28085)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28085, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")

	for _, flag := range []string{"mode", "addr", "port", "data"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("attune")
	viper.AutomaticEnv()
}

// setupLogger installs the process-wide slog handler: JSON for prod, text
// with debug level for dev.
func setupLogger(instanceProfile *profile.Profile) {
	if instanceProfile.IsDev() {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
}

func printGreetings(instanceProfile *profile.Profile, backendName string) {
	fmt.Printf("Attune %s started successfully!\n", instanceProfile.Version)
	fmt.Printf("Mode: %s\n", instanceProfile.Mode)
	fmt.Printf("Vector backend: %s\n", backendName)
	if instanceProfile.Addr == "" {
		fmt.Printf("Listening on port %d\n", instanceProfile.Port)
	} else {
		fmt.Printf("Listening on %s:%d\n", instanceProfile.Addr, instanceProfile.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
