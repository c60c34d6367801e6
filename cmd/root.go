package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/scentmatch/internal/retriever"
)

const (
	app       = "scentmatch"
	envPrefix = "SCENTMATCH"
)

type Config struct {
	CatalogFile string           `mapstructure:"catalog-file"`
	Resolver    *ResolverConfig  `mapstructure:"resolver" validate:"required"`
	Retriever   *RetrieverConfig `mapstructure:"retriever" validate:"required"`
	Cache       *CacheConfig     `mapstructure:"cache" validate:"required"`
	Articles    *ArticlesConfig  `mapstructure:"articles" validate:"required"`
	AI          *AIConfig        `mapstructure:"ai" validate:"required"`
	MetricsAddr string           `mapstructure:"metrics-addr" validate:"omitempty,hostname_port"`
}

type ResolverConfig struct {
	Threshold int `mapstructure:"threshold" validate:"gte=0,lte=100"`
}

type RetrieverConfig struct {
	retriever.Config `mapstructure:",squash"`

	Headless  bool   `mapstructure:"headless"`
	ExecPath  string `mapstructure:"exec-path"`
	UserAgent string `mapstructure:"user-agent"`
}

type CacheConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=badger sqlite memory"`
	Path    string `mapstructure:"path" validate:"required_unless=Backend memory"`
}

type ArticlesConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	EngineID   string `mapstructure:"engine-id" validate:"required_if=Enabled true"`
	Results    int    `mapstructure:"results" validate:"gte=1,lte=10"`
	DB         string `mapstructure:"db"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider" validate:"oneof=gemini"`
	Gemini   *GeminiConfig `mapstructure:"gemini" validate:"required"`
}

type GeminiConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries" validate:"gte=0"`
	MaxLogLength int    `mapstructure:"max-log-length" validate:"gte=0"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "scentmatch finds perfume notes and scores how well two perfumes layer",
		Long: `scentmatch resolves perfume names from free text, retrieves their note
pyramids from Fragrantica (cached locally) and answers questions about notes,
layering and reviews in an interactive chat.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			// .env is optional
			_ = godotenv.Load()
			return initConfig()
		},
	}
)

// Root returns the command tree for execution.
func Root() *cobra.Command {
	return rootCmd
}

func Version() string {
	return version
}

func init() {
	setDefaults(viper.GetViper())

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is scentmatch.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to this file instead of stderr")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
}

func setDefaults(v *viper.Viper) {
	d := retriever.DefaultConfig()

	v.SetDefault("catalog-file", "")
	v.SetDefault("resolver.threshold", 80)

	v.SetDefault("retriever.search-url", d.SearchURL)
	v.SetDefault("retriever.search-input", d.SearchInputSelector)
	v.SetDefault("retriever.submit-button", d.SubmitSelector)
	v.SetDefault("retriever.results", d.ResultsSelector)
	v.SetDefault("retriever.page-url-pattern", d.PageURLPattern)
	v.SetDefault("retriever.primary-marker", d.PrimaryMarker)
	v.SetDefault("retriever.secondary-marker", d.SecondaryMarker)
	v.SetDefault("retriever.auto-accept-score", d.AutoAcceptScore)
	v.SetDefault("retriever.max-candidates", d.MaxCandidates)
	v.SetDefault("retriever.min-interval", d.MinInterval)
	v.SetDefault("retriever.search-timeout", d.SearchTimeout)
	v.SetDefault("retriever.results-timeout", d.ResultsTimeout)
	v.SetDefault("retriever.confirm-timeout", d.ConfirmTimeout)
	v.SetDefault("retriever.headless", true)
	v.SetDefault("retriever.exec-path", "")
	v.SetDefault("retriever.user-agent", "")

	v.SetDefault("cache.backend", "badger")
	v.SetDefault("cache.path", ".scentmatch/cache")

	v.SetDefault("articles.enabled", false)
	v.SetDefault("articles.api-key", "")
	v.SetDefault("articles.api-key-file", "")
	v.SetDefault("articles.engine-id", "")
	v.SetDefault("articles.results", 5)
	v.SetDefault("articles.db", ".scentmatch/articles.db")

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.gemini.api-key", "")
	v.SetDefault("ai.gemini.api-key-file", "")
	v.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	v.SetDefault("ai.gemini.max-retries", 3)
	v.SetDefault("ai.gemini.max-log-length", 200)

	v.SetDefault("metrics-addr", "")
}

func initConfig() error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		// Without an explicit --config a missing file means defaults only.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	return nil
}

func getConfig() (*Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}
