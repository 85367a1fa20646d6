package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/liquidsax/epub-reader/internal/cache"
	"github.com/liquidsax/epub-reader/internal/config"
	"github.com/liquidsax/epub-reader/internal/server"
)

var (
	version = "1.0.0"
	logger  *logrus.Logger
)

func init() {
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	// A local .env is optional; environment variables win over config.json.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bilingual-reader",
	Short: "A web-based bilingual EPUB reader with AI translation",
	Long:  `Bilingual Reader launches a web server that serves EPUB books sentence by sentence alongside AI translations, with a persistent translation cache and bilingual EPUB export.`,
	Run:   runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Run:   runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Bilingual Reader v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Manage application configuration including viewing current settings and engine API keys.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		showConfig(cmd)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		initConfig(cmd)
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Translation cache management",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show translation cache statistics",
	Run: func(cmd *cobra.Command, args []string) {
		withCache(cmd, func(store *cache.Store) {
			stats, err := store.Stats()
			if err != nil {
				fmt.Printf("❌ Failed to read cache stats: %v\n", err)
				return
			}
			fmt.Printf("Cached translations: %d\n", stats.Count)
			fmt.Printf("Approximate size: %d bytes\n", stats.Bytes)
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached translations",
	Run: func(cmd *cobra.Command, args []string) {
		withCache(cmd, func(store *cache.Store) {
			removed, err := store.Clear()
			if err != nil {
				fmt.Printf("❌ Failed to clear cache: %v\n", err)
				return
			}
			fmt.Printf("✅ Removed %d cached translations\n", removed)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().IntP("port", "p", 8080, "Port to run the web server on")
	rootCmd.PersistentFlags().StringP("output-dir", "o", "output", "Output directory for exported bilingual EPUB files")
	rootCmd.PersistentFlags().StringP("temp-dir", "t", "tmp", "Temporary directory for extracted books")
	rootCmd.PersistentFlags().StringP("cache-dir", "d", "cache", "Directory of the persistent translation cache")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path (default: config.json beside executable)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func runServer(cmd *cobra.Command, _ []string) {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cmd)

	if err := os.MkdirAll(cfg.App.TempDir, 0755); err != nil {
		logger.Fatalf("Failed to create temp directory: %v", err)
	}
	if err := os.MkdirAll(cfg.App.OutputDir, 0755); err != nil {
		logger.Fatalf("Failed to create output directory: %v", err)
	}

	store, err := cache.Open(cfg.App.CacheDir, logger)
	if err != nil {
		logger.Fatalf("Failed to open translation cache: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close translation cache: %v", err)
		}
	}()

	srv := server.New(cfg, configPath, store, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	go func() {
		logger.Infof("🚀 Starting Bilingual Reader server")
		logger.Infof("📡 Server running on port %d", cfg.Server.Port)
		logger.Infof("🌐 Access the application at http://localhost:%d", cfg.Server.Port)
		logger.Infof("🤖 Translation engine: %s (%s)", cfg.Engine.Active, cfg.ActiveEngine().Model)
		logger.Infof("💾 Cache directory: %s", cfg.App.CacheDir)
		logger.Infof("📤 Output directory: %s", cfg.App.OutputDir)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("✅ Server exited gracefully")
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	logger.Debugf("Loading configuration from: %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}

	// Override with command line flags
	if port, _ := cmd.Flags().GetInt("port"); port != 8080 {
		cfg.Server.Port = port
		logger.Debugf("Port overridden by flag: %d", port)
	}
	if outputDir, _ := cmd.Flags().GetString("output-dir"); outputDir != "output" {
		cfg.App.OutputDir = outputDir
		logger.Debugf("Output directory overridden by flag: %s", outputDir)
	}
	if tempDir, _ := cmd.Flags().GetString("temp-dir"); tempDir != "tmp" {
		cfg.App.TempDir = tempDir
		logger.Debugf("Temp directory overridden by flag: %s", tempDir)
	}
	if cacheDir, _ := cmd.Flags().GetString("cache-dir"); cacheDir != "cache" {
		cfg.App.CacheDir = cacheDir
		logger.Debugf("Cache directory overridden by flag: %s", cacheDir)
	}

	return cfg, configPath, nil
}

func setupLogging(cmd *cobra.Command) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

func withCache(cmd *cobra.Command, fn func(store *cache.Store)) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		return
	}

	store, err := cache.Open(cfg.App.CacheDir, logger)
	if err != nil {
		fmt.Printf("❌ Failed to open cache at %s: %v\n", cfg.App.CacheDir, err)
		return
	}
	defer func() { _ = store.Close() }()

	fn(store)
}

func showConfig(cmd *cobra.Command) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	fmt.Printf("📋 Bilingual Reader Configuration\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Configuration file: %s\n\n", configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("❌ Configuration file does not exist\n")
		fmt.Printf("💡 Run 'bilingual-reader config init' to create one\n")
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		return
	}

	fmt.Printf("Server Settings:\n")
	fmt.Printf("  Port: %d\n", cfg.Server.Port)
	fmt.Printf("  Read Timeout: %s\n", cfg.Server.ReadTimeout)
	fmt.Printf("  Write Timeout: %s\n", cfg.Server.WriteTimeout)
	fmt.Printf("\n")

	fmt.Printf("Translation Engine:\n")
	fmt.Printf("  Active: %s\n", cfg.Engine.Active)
	printEngine("Doubao", cfg.Engine.Doubao)
	printEngine("SiliconFlow", cfg.Engine.SiliconFlow)
	fmt.Printf("  Source Language: %s\n", cfg.Engine.SourceLang)
	fmt.Printf("  Target Language: %s\n", cfg.Engine.TargetLang)
	fmt.Printf("  Style: %s\n", cfg.Engine.TranslationStyle)
	fmt.Printf("\n")

	fmt.Printf("Application Settings:\n")
	fmt.Printf("  Temp Directory: %s\n", cfg.App.TempDir)
	fmt.Printf("  Output Directory: %s\n", cfg.App.OutputDir)
	fmt.Printf("  Cache Directory: %s\n", cfg.App.CacheDir)
}

func printEngine(name string, settings config.EngineSettings) {
	fmt.Printf("  %s:\n", name)
	fmt.Printf("    Endpoint: %s\n", settings.Endpoint)
	fmt.Printf("    Model: %s\n", settings.Model)
	if settings.APIKey != "" {
		fmt.Printf("    API Key: %s\n", maskKey(settings.APIKey))
	} else {
		fmt.Printf("    API Key: ❌ Not set\n")
	}
}

func maskKey(key string) string {
	if len(key) <= 10 {
		return "***"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

func initConfig(cmd *cobra.Command) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	fmt.Printf("🔧 Initializing Bilingual Reader Configuration\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Configuration file: %s\n\n", configPath)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("⚠️  Configuration file already exists\n")
		return
	}

	if _, err := config.Load(configPath); err != nil {
		fmt.Printf("❌ Failed to initialize configuration: %v\n", err)
		return
	}

	fmt.Printf("\n✅ Configuration initialized successfully!\n")
	fmt.Printf("💡 Set DOUBAO_API_KEY or SILICONFLOW_API_KEY, then run 'bilingual-reader' to start\n")
	fmt.Printf("📋 Use 'bilingual-reader config show' to view your configuration\n")
}
