// Package main is the entry point for the HelaChat server.
// HelaChat is a multi-tenant WhatsApp automation backend that answers
// customer messages with an AI pipeline grounded in each business's own
// documents, connected Google Sheets, and live web search.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/chamikara/helachat/internal/agent"
	"github.com/chamikara/helachat/internal/bus"
	"github.com/chamikara/helachat/internal/config"
	"github.com/chamikara/helachat/internal/data"
	"github.com/chamikara/helachat/internal/dispatch"
	"github.com/chamikara/helachat/internal/embedding"
	"github.com/chamikara/helachat/internal/lang"
	"github.com/chamikara/helachat/internal/llm"
	"github.com/chamikara/helachat/internal/logging"
	"github.com/chamikara/helachat/internal/metrics"
	"github.com/chamikara/helachat/internal/server"
	"github.com/chamikara/helachat/internal/sheets"
	"github.com/chamikara/helachat/internal/vector"
	"github.com/chamikara/helachat/internal/websearch"
	"github.com/chamikara/helachat/internal/whatsapp"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
	log     *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "helachat",
		Short: "HelaChat - WhatsApp AI customer service for Sri Lankan businesses",
		Long: `HelaChat answers WhatsApp messages for registered businesses using an
AI pipeline that searches uploaded documents, connected Google Sheets,
and the web before generating a reply in the customer's language.

Start the server:        helachat serve
Show configuration:      helachat config show
Hash an admin token:     helachat hash-token <token>`,
		PersistentPreRunE: initLogging,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.helachat/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("HelaChat v%s\n", version)
		},
	})

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(hashTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func initLogging(cmd *cobra.Command, args []string) error {
	logging.SetGlobal(logging.New(logging.DefaultConfig()))
	if verbose {
		logging.EnableVerbose()
	}
	log = logging.Global().WithComponent("Main")
	return nil
}

func loadConfig() (*config.Config, error) {
	// Environment overrides from a local .env, if present
	_ = godotenv.Load()

	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

// ═══════════════════════════════════════════════════════════════════════════
// serve
// ═══════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and message dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			lcfg := logging.DefaultConfig()
			lcfg.FilePath = cfg.Logging.File
			logging.SetGlobal(logging.New(lcfg))
			logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))
			if verbose {
				logging.EnableVerbose()
			}
			log = logging.Global().WithComponent("Main")

			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := data.NewDB(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	index, err := vector.NewStore(cfg.Knowledge.IndexDir)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}

	engine := buildEmbeddingEngine(cfg)

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("create llm provider: %w", err)
	}
	log.Info("llm provider: %s (available: %v)", provider.Name(), provider.Available())

	sheetService := sheets.NewService(sheets.Config{
		CacheTTL:     time.Duration(cfg.Sheets.CacheTTLMinutes) * time.Minute,
		FetchTimeout: time.Duration(cfg.Sheets.FetchTimeoutSec) * time.Second,
	})

	web := websearch.NewSerpAPIClient(websearch.Config{
		APIKey:   cfg.WebSearch.APIKey,
		Country:  cfg.WebSearch.Country,
		Language: cfg.WebSearch.Language,
		Timeout:  time.Duration(cfg.WebSearch.TimeoutSec) * time.Second,
	})

	translator := lang.NewMyMemoryTranslator(cfg.Translation.Endpoint,
		time.Duration(cfg.Translation.TimeoutSec)*time.Second)

	events := bus.NewBusWithConfig(cfg.Observer.HistoryCount)

	var observer *bus.Observer
	if cfg.Observer.Enabled {
		observer = bus.NewObserver(events, cfg.Observer.HistoryCount)
		if err := observer.Start(); err != nil {
			return fmt.Errorf("start observer: %w", err)
		}
		defer observer.Stop()
	}

	collector := metrics.NewCollector(events)
	collector.Start()
	defer collector.Stop()

	documents := agent.NewKnowledgeSearcher(engine, index)
	sheetSearch := agent.NewSheetQuerier(sheetService, &connectionSource{store: store})

	ai := agent.New(cfg.Agent, provider, documents, sheetSearch, web, translator,
		&businessDirectory{store: store}, events)

	sender := whatsapp.NewClient(whatsapp.ClientConfig{
		AccessToken:   cfg.WhatsApp.AccessToken,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		Timeout:       time.Duration(cfg.WhatsApp.SendTimeoutSec) * time.Second,
	})
	if !sender.Available() {
		log.Warn("whatsapp credentials not configured, replies will not be delivered")
	}

	rebuilder := dispatch.NewIndexRebuilder(store,
		vector.NewSplitter(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap),
		engine, index)

	dispatcher := dispatch.New(dispatch.Config{
		Workers:    cfg.Dispatch.Workers,
		QueueSize:  cfg.Dispatch.QueueSize,
		MaxRetries: cfg.Dispatch.MaxRetries,
		RetryBase:  time.Duration(cfg.Dispatch.RetryBaseSec) * time.Second,
	}, ai, sender, store, rebuilder, events)

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	// Re-queue messages the previous run left unanswered.
	if n, err := dispatcher.Recover(ctx, store); err != nil {
		log.Warn("recovery sweep failed: %v", err)
	} else if n > 0 {
		log.Info("recovered %d pending messages", n)
	}

	srv := server.New(cfg, store, dispatcher, ai, provider, sheetService, index, observer, collector)
	return srv.Start(ctx)
}

func buildEmbeddingEngine(cfg *config.Config) embedding.Engine {
	switch cfg.Embedding.Backend {
	case "huggingface":
		return embedding.NewHuggingFaceEngine(embedding.HuggingFaceConfig{
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			Dimensions: cfg.Embedding.Dimensions,
		})
	default:
		return embedding.NewHashEngine(cfg.Embedding.Dimensions)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Store adapters for the agent's lookup interfaces
// ═══════════════════════════════════════════════════════════════════════════

type businessDirectory struct {
	store *data.Store
}

func (d *businessDirectory) BusinessByID(ctx context.Context, id int64) (*agent.Business, error) {
	biz, err := d.store.GetBusiness(ctx, id)
	if err != nil {
		return nil, err
	}
	return &agent.Business{
		ID:                 biz.ID,
		Name:               biz.Name,
		Description:        biz.Description,
		Persona:            biz.AIPersona,
		SupportedLanguages: biz.SupportedLanguages,
		DefaultLanguage:    biz.DefaultLanguage,
	}, nil
}

type connectionSource struct {
	store *data.Store
}

func (c *connectionSource) ActiveSheetConnections(ctx context.Context, businessID int64) ([]sheets.Connection, error) {
	rows, err := c.store.ListSheetConnections(ctx, businessID, true)
	if err != nil {
		return nil, err
	}

	conns := make([]sheets.Connection, 0, len(rows))
	for _, row := range rows {
		conns = append(conns, sheets.Connection{
			Name:     row.Name,
			SheetID:  row.SheetID,
			CacheTTL: time.Duration(row.CacheTTLMinutes) * time.Minute,
		})
	}
	return conns, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// config
// ═══════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("Server:      %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			fmt.Printf("Data dir:    %s\n", cfg.Data.Dir)
			fmt.Printf("Index dir:   %s\n", cfg.Knowledge.IndexDir)
			fmt.Printf("Provider:    %s (configured: %s)\n",
				cfg.LLM.DefaultProvider, strings.Join(llm.AvailableProviders(cfg), ", "))
			fmt.Printf("Embedding:   %s (%d dims)\n", cfg.Embedding.Backend, cfg.Embedding.Dimensions)
			fmt.Printf("Workers:     %d (queue %d)\n", cfg.Dispatch.Workers, cfg.Dispatch.QueueSize)
			fmt.Printf("Observer:    %v\n", cfg.Observer.Enabled)
			fmt.Printf("WhatsApp:    configured=%v\n", cfg.WhatsApp.AccessToken != "" && cfg.WhatsApp.PhoneNumberID != "")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if cfgPath != "" {
				if err := cfg.SaveToPath(cfgPath); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
				return nil
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Println("Wrote default config")
			return nil
		},
	})

	return cmd
}

// hashTokenCmd produces the bcrypt hash to store under admin.token_hash.
func hashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Hash an admin API token for the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash token: %w", err)
			}
			fmt.Println(string(hash))
			return nil
		},
	}
}
