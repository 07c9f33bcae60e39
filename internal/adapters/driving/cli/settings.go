package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and configure chunking, ingestion, retrieval and embedding settings.

Settings live in config.toml inside the configuration directory.`,
	Annotations: map[string]string{annotationBootstrap: bootstrapSettings},
	RunE:        runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	Args:  cobra.NoArgs,
	RunE:  runSettingsPath,
}

var settingsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with default values",
	Args:  cobra.NoArgs,
	RunE:  runSettingsInit,
}

var settingsEmbeddingCmd = &cobra.Command{
	Use:   "embedding",
	Short: "Configure embedding provider",
	Long: `Configure the embedding provider used for ingestion and search.

Changing the provider or model resets the vector dimensions to the model's
default. An existing store keeps its dimension, so documents must be
re-ingested into a fresh store after switching models.

Examples:
  kbase settings embedding --provider ollama
  kbase settings embedding --provider openai --model text-embedding-3-large`,
	Args: cobra.NoArgs,
	RunE: runSettingsEmbedding,
}

var (
	settingsForce    bool
	embeddingProvider string
	embeddingModel   string
	embeddingAPIKey  string
)

func init() {
	settingsInitCmd.Flags().BoolVar(&settingsForce, "force", false, "overwrite an existing settings file")

	settingsEmbeddingCmd.Flags().StringVar(&embeddingProvider, "provider", "", "embedding provider (ollama, openai)")
	settingsEmbeddingCmd.Flags().StringVar(&embeddingModel, "model", "", "model name (default: provider's default)")
	settingsEmbeddingCmd.Flags().StringVar(&embeddingAPIKey, "api-key", "", "API key (prompted when required and omitted)")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsPathCmd)
	settingsCmd.AddCommand(settingsInitCmd)
	settingsCmd.AddCommand(settingsEmbeddingCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	shown := *settings
	if shown.Embedding.APIKey != "" {
		shown.Embedding.APIKey = maskAPIKey(shown.Embedding.APIKey)
	}
	data, err := toml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if path := settingsService.Path(); path != "" {
		cmd.Printf("# %s\n\n", path)
	}
	cmd.Print(string(data))
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'kbase settings embedding' to fix the embedding configuration.")
	} else {
		cmd.Println("Configuration is valid.")
	}

	return nil
}

func runSettingsPath(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	path := settingsService.Path()
	if path == "" {
		return errors.New("settings are not persisted")
	}
	cmd.Println(path)
	return nil
}

func runSettingsInit(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	path := settingsService.Path()
	if path == "" {
		return errors.New("settings are not persisted")
	}
	if _, err := os.Stat(path); err == nil && !settingsForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	defaults := settingsService.GetDefaults()
	if err := settingsService.Save(&defaults); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	cmd.Printf("Wrote default settings to %s\n", path)
	return nil
}

func runSettingsEmbedding(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	provider := domain.AIProvider(strings.ToLower(strings.TrimSpace(embeddingProvider)))
	if provider == "" {
		return errors.New("--provider is required (ollama, openai)")
	}
	if !provider.IsValid() {
		return fmt.Errorf("unknown provider %q (ollama, openai)", embeddingProvider)
	}

	apiKey := embeddingAPIKey
	if provider.RequiresAPIKey() && apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if provider.RequiresAPIKey() && apiKey == "" {
		cmd.Print("Enter API key: ")
		apiKey = readPassword()
		cmd.Println()
		if apiKey == "" {
			return errors.New("API key is required for this provider")
		}
	}

	if err := settingsService.SetEmbeddingProvider(provider, embeddingModel, apiKey); err != nil {
		return fmt.Errorf("failed to configure embedding provider: %w", err)
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}
	cmd.Printf("Embedding provider configured: %s (%s, %d dimensions)\n",
		provider.Description(), settings.Embedding.Model, settings.Embedding.Dimensions)
	if provider.RequiresAPIKey() {
		cmd.Printf("API key: %s\n", maskAPIKey(apiKey))
	}
	return nil
}

//nolint:errcheck // CLI helper, error ignored for UX
func readPassword() string {
	// Try to read password without echo
	if term.IsTerminal(int(os.Stdin.Fd())) {
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err == nil {
			return string(password)
		}
	}
	// Fallback to regular input
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
