package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/santa-tracker/santa-gateway/internal/backend"
	"github.com/santa-tracker/santa-gateway/internal/config"
	"github.com/santa-tracker/santa-gateway/internal/configstore"
	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/monitor"
	"github.com/santa-tracker/santa-gateway/internal/netutil"
	"github.com/santa-tracker/santa-gateway/internal/personalization"
	"github.com/santa-tracker/santa-gateway/internal/proxy"
	"github.com/santa-tracker/santa-gateway/internal/pull"
	"github.com/santa-tracker/santa-gateway/internal/registry"
	"github.com/santa-tracker/santa-gateway/internal/server"
	"github.com/santa-tracker/santa-gateway/internal/shutdown"
	"github.com/santa-tracker/santa-gateway/internal/storage"
	"github.com/santa-tracker/santa-gateway/internal/version"
	"github.com/santa-tracker/santa-gateway/internal/websocket"
)

type serveFlags struct {
	port      int
	ollamaURL string
	webRoot   string
	provider  string
}

var flags serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway (default)",
	RunE:  runServe,
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flags.port, "port", 0, "listen port (overrides settings and $PORT)")
	cmd.Flags().StringVar(&flags.ollamaURL, "ollama-url", "", "local backend URL (overrides settings and $OLLAMA_URL)")
	cmd.Flags().StringVar(&flags.webRoot, "web-root", "", "directory holding the tracker UI")
	cmd.Flags().StringVar(&flags.provider, "provider", "", "backend provider for this run: local or cloud")
}

func (f serveFlags) apply(cfg *config.Config) {
	if f.port > 0 {
		cfg.Server.Port = f.port
	}
	if f.ollamaURL != "" {
		cfg.Backend.OllamaURL = f.ollamaURL
	}
	if f.webRoot != "" {
		cfg.Server.WebRoot = f.webRoot
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr := settingsManager()
	cfg, err := configMgr.Load()
	if err != nil {
		fmt.Printf("Warning: failed to load settings, using defaults: %v\n", err)
		cfg = config.DefaultConfig()
	}
	cfg.ApplyEnv()
	flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	if err := logger.InitLogger(&cfg.Log); err != nil {
		fmt.Printf("Warning: failed to initialize logger: %v\n", err)
	}

	printBanner()
	logger.Info("Santa gateway starting...")
	logger.Infof("Version: %s", version.GetVersionInfo().String())
	logger.Infof("Settings file: %s", configMgr.GetConfigPath())

	store := configstore.NewStore(cfg.ConfigStore.Path())
	doc := store.Load()
	if st := store.Status(); st.Warning != "" {
		logger.Warnf("Configuration document: %s", st.Warning)
	}
	if flags.provider != "" {
		if doc, err = overrideProvider(store, flags.provider); err != nil {
			return err
		}
	}
	provider := doc.Provider()
	logger.Infof("Configuration document: %s (provider %s, model %s)", store.Path(), provider, doc.AIProvider.DefaultModel)
	warnCredentials(provider, cfg)

	storageMgr, err := storage.NewManager(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	history := storageMgr.GetStore()
	logger.Infof("Storage: %s", storageMgr.Type())

	hub := websocket.NewHub()
	client := backend.New(provider, cfg.Backend, store)
	reg := registry.New(client, time.Duration(cfg.Backend.Timeouts.Health)*time.Second)
	pulls := pull.NewManager(client, pull.Options{
		Dedupe:       cfg.Pull.Dedupe,
		KeepFinished: cfg.Pull.KeepFinished,
		Store:        history,
		Events:       hub,
	})

	proxyOpts := proxy.Options{History: history, Events: hub}
	var family *personalization.Supplier
	if cfg.Personalization.Enabled {
		family = personalization.NewSupplier(cfg.Personalization.File, hub)
		if cfg.Personalization.Watch {
			if err := family.Watch(); err != nil {
				logger.WithError(err).Warn("Family profile changes will need a manual reload")
			}
		}
		proxyOpts.Personalization = family
	}
	px := proxy.New(store, client, reg, pulls, proxyOpts)

	srv, err := server.NewServer(server.Deps{
		Settings: cfg,
		Store:    store,
		Proxy:    px,
		Registry: reg,
		Hub:      hub,
		Family:   family,
		Monitor:  monitor.NewResourceMonitor(monitor.Config{}),
		Tail:     logger.GetLogger().Tail(),
	})
	if err != nil {
		storageMgr.Close()
		return err
	}

	shutdownMgr := shutdown.NewManager(10 * time.Second)
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}, shutdown.PriorityCritical)
	if family != nil {
		shutdownMgr.Register("family-watcher", func(ctx context.Context) error {
			return family.Close()
		}, shutdown.PriorityNormal)
	}
	shutdownMgr.Register("storage", func(ctx context.Context) error {
		return storageMgr.Close()
	}, shutdown.PriorityNormal)
	shutdownMgr.Register("logger", func(ctx context.Context) error {
		return logger.GetLogger().Close()
	}, shutdown.PriorityLow)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	shutdownMgr.Start()

	fmt.Printf("✓ Provider: %s (%s)\n", provider, client.BaseURL())
	fmt.Printf("✓ Tracker UI: http://localhost:%d\n", cfg.Server.Port)
	if lan := netutil.LANURL(cfg.Server.Host, cfg.Server.Port); lan != "" {
		fmt.Printf("✓ Other devices: %s\n", lan)
	}
	fmt.Printf("✓ Configuration: %s\n", store.Path())
	fmt.Println("\nPress Ctrl+C to stop...")

	<-shutdownMgr.Done()
	shutdownMgr.Wait()
	return nil
}

// overrideProvider persists a provider chosen on the command line. A
// default model the new provider does not offer is replaced by its first
// model.
func overrideProvider(store *configstore.Store, value string) (*configstore.Configuration, error) {
	provider, ok := configstore.ProviderType(value).Normalize()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (expected local or cloud)", value)
	}

	doc := store.Load()
	if doc.Provider() == provider {
		return doc, nil
	}

	doc.AIProvider.Type = provider
	if provider == configstore.ProviderCloud {
		doc.AIProvider.AvailableModels = configstore.DefaultCloudModels()
	} else {
		doc.AIProvider.AvailableModels = configstore.DefaultConfiguration().AIProvider.AvailableModels
	}
	if _, found := doc.FindModel(doc.AIProvider.DefaultModel); !found {
		doc.AIProvider.DefaultModel = doc.AIProvider.AvailableModels[0].Name
	}

	if err := store.Save(doc); err != nil {
		return nil, fmt.Errorf("failed to switch provider to %s: %w", provider, err)
	}
	logger.Infof("Provider switched to %s", provider)
	return store.Load(), nil
}

// warnCredentials reports a missing cloud key without refusing to start
func warnCredentials(provider configstore.ProviderType, cfg *config.Config) {
	if provider != configstore.ProviderCloud || cfg.Backend.APIKey != "" {
		return
	}
	logger.Warn("No API key configured for the cloud provider; generation will fail until GROQ_API_KEY or AI_API_KEY is set")
	fmt.Print(`
╔══════════════════════════════════════════════════════╗
║              API KEY REQUIRED                        ║
╚══════════════════════════════════════════════════════╝
Set GROQ_API_KEY (or AI_API_KEY) and restart. The gateway is
running in degraded mode until then.
`)
}

func printBanner() {
	fmt.Print(`
╔══════════════════════════════════════════════════════╗
║                                                      ║
║   Santa Gateway - Santa tracker AI message gateway   ║
║                                                      ║
╚══════════════════════════════════════════════════════╝
`)
	fmt.Printf("Version: %s\n\n", version.GetVersionInfo().String())
}
