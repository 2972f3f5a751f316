package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Agents struct {
		DelegatorURL   string        `mapstructure:"delegator_url"`
		ProcessorURL   string        `mapstructure:"processor_url"`
		ReviewerURL    string        `mapstructure:"reviewer_url"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"agents"`
	Pipeline struct {
		AgreementThreshold  int      `mapstructure:"agreement_threshold"`
		MaxRefinementRounds int      `mapstructure:"max_refinement_rounds"`
		ComplexActions      []string `mapstructure:"complex_actions"`
	} `mapstructure:"pipeline"`
	Admission struct {
		Window time.Duration `mapstructure:"window"`
		Limit  int           `mapstructure:"limit"`
	} `mapstructure:"admission"`
	Retry struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		BaseDelay   time.Duration `mapstructure:"base_delay"`
	} `mapstructure:"retry"`
}

// LoadConfig loads the configuration from a file and the environment.
// If path is non-empty it names an explicit config file; otherwise the
// usual search paths are consulted.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8080")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.user", "postgres")
	viper.SetDefault("db.name", "workflows")
	viper.SetDefault("db.sslmode", "disable")

	viper.SetDefault("agents.request_timeout", 120*time.Second)

	viper.SetDefault("pipeline.agreement_threshold", 80)
	viper.SetDefault("pipeline.max_refinement_rounds", 1)
	viper.SetDefault("pipeline.complex_actions", []string{
		"MAKE_ACTIONABLE", "DEEP_ANALYSIS", "RESEARCH_TOPIC",
	})

	viper.SetDefault("admission.window", 10*time.Second)
	viper.SetDefault("admission.limit", 5)

	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.base_delay", time.Second)
}
