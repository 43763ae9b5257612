package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ttommys/trainos/internal/config"
	"github.com/ttommys/trainos/internal/interpret"
	"github.com/ttommys/trainos/internal/logging"
	"github.com/ttommys/trainos/internal/prompts"
	"github.com/ttommys/trainos/internal/server"
	"github.com/ttommys/trainos/internal/store"
)

var version = "dev"

var (
	configFlag string

	queryFlag    string
	levelsFlag   []string
	languageFlag string
	providerFlag string
	modelFlag    string
	contextFlag  bool
	previewFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "trainos",
	Short: "trainos - training log analysis service",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

var interpretCmd = &cobra.Command{
	Use:   "interpret",
	Short: "Run a one-shot interpretation request",
	RunE:  runInterpret,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config, data and prompt directories",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show trainos status",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the trainos version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file path")

	interpretCmd.Flags().StringVarP(&queryFlag, "query", "q", "", "Question to interpret")
	interpretCmd.Flags().StringSliceVar(&levelsFlag, "levels", nil, "Aggregation levels (session, day, week, multi_week, block)")
	interpretCmd.Flags().StringVar(&languageFlag, "language", "", "Answer language")
	interpretCmd.Flags().StringVar(&providerFlag, "provider", "", "Provider override (mistral, openai, echo)")
	interpretCmd.Flags().StringVar(&modelFlag, "model", "", "Model override")
	interpretCmd.Flags().BoolVar(&contextFlag, "context", false, "Include the raw context in the output")
	interpretCmd.Flags().BoolVar(&previewFlag, "preview", false, "Include the prompt preview in the output")

	rootCmd.AddCommand(serveCmd, interpretCmd, onboardCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildComponents wires the store, prompt repository and interpret service
// from config.
func buildComponents(cfg *config.Config, log *zap.Logger) (*store.Store, *interpret.Service, error) {
	st, err := store.Open(cfg.DB.Path, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	repo := prompts.NewRepository(cfg.LLM.PromptsDir)
	return st, interpret.NewService(cfg, st, repo, log), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	st, interpreter, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := server.New(cfg, st, interpreter, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		return srv.Shutdown(context.Background())
	}
}

func runInterpret(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(queryFlag)
	if query == "" && len(args) > 0 {
		query = strings.Join(args, " ")
	}
	if query == "" {
		return fmt.Errorf("no query given (use -q or positional arguments)")
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	st, interpreter, err := buildComponents(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	resp, err := interpreter.Interpret(cmd.Context(), interpret.Request{
		Query:                    query,
		Levels:                   levelsFlag,
		Language:                 languageFlag,
		Provider:                 providerFlag,
		Model:                    modelFlag,
		IncludeContextInResponse: contextFlag,
		IncludeInputPreview:      previewFlag,
	})
	if err != nil {
		return err
	}

	if contextFlag || previewFlag {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(resp.Answer)
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	for _, dir := range []string{"generic", "private"} {
		if err := os.MkdirAll(filepath.Join(cfg.LLM.PromptsDir, dir), 0755); err != nil {
			return fmt.Errorf("create prompts dir: %w", err)
		}
	}
	writeIfNotExists(
		filepath.Join(cfg.LLM.PromptsDir, "generic", cfg.LLM.GenericPromptBasename+".txt"),
		defaultGenericPrompt,
	)

	fmt.Printf("Prompts ready: %s\n", cfg.LLM.PromptsDir)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set TRAINOS_API_KEY / MISTRAL_API_KEY")
	fmt.Println("  3. Run 'trainos serve' to start the API")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Provider: %s\n", cfg.Provider.Name)
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Tools: enabled=%v maxToolCalls=%d\n", cfg.LLM.ToolsEnabled, cfg.LLM.MaxToolCalls)
	fmt.Printf("Database: %s\n", cfg.DB.Path)
	if _, err := os.Stat(cfg.DB.Path); err != nil {
		fmt.Println("Database: not initialized (run 'trainos onboard')")
	}
	fmt.Printf("Prompts: %s\n", cfg.LLM.PromptsDir)
	fmt.Printf("Listen: %s:%d\n", cfg.Server.Host, cfg.Server.Port)

	return nil
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultGenericPrompt = `You analyze structured endurance training data.

Ground every statement in the provided numbers. Compare actual load against
the weekly plan when one is present. Point out notable sessions and their
reasons. Keep the answer short and actionable.
`
