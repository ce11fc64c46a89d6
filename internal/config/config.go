// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/backtest"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/views"
	"github.com/aristath/allocator/internal/reporting"
	"github.com/aristath/allocator/internal/utils"
)

var nopLogger = zerolog.Nop()

// Config holds application configuration. It is built once by Load and not
// modified afterwards.
type Config struct {
	DataDir   string // always absolute
	LogLevel  string
	LogPretty bool
	Port      int
	DevMode   bool

	Data      DataConfig
	Portfolio PortfolioConfig
	Risk      domain.RiskLimits
	Strategy  StrategyConfig
	Backtest  BacktestConfig
	Views     ViewsConfig
	Storage   StorageConfig
	Report    ReportConfig
	Schedule  ScheduleConfig
}

// DataConfig locates price history.
type DataConfig struct {
	PricesCSV       string
	BenchmarkColumn string
	RegimeColumn    string
	HistoryYears    int
	MarketCaps      map[string]float64
}

// PortfolioConfig selects a named ticker universe from a portfolio file.
// Without a file every asset column of the price file is used.
type PortfolioConfig struct {
	File    string
	Name    string
	Tickers []string // resolved by Load
}

// StrategyConfig parameterises the decision pipeline.
type StrategyConfig struct {
	Tau            float64
	RiskAversion   float64
	RiskFreeRate   float64
	PriorMode      string
	AllocatorMode  string
	LongOnly       bool
	PeriodsPerYear int
	ConditionLimit float64
}

// BacktestConfig holds the default walk-forward settings.
type BacktestConfig struct {
	HistoryYears int
	TrainWindow  int
	TestWindow   int
	Strategies   []string
	Workers      int
}

// ViewsConfig selects the view source.
type ViewsConfig struct {
	Source      string
	File        string
	Portfolio   string
	OpenAIKey   string
	OpenAIModel string
}

// StorageConfig locates the results database. An empty path keeps results in memory.
type StorageConfig struct {
	ResultsDB string
}

// ReportConfig selects where backtest reports go. Both targets are optional.
type ReportConfig struct {
	Dir string
	S3  reporting.S3Config
}

// S3Enabled reports whether a bucket is configured.
func (r ReportConfig) S3Enabled() bool {
	return r.S3.Bucket != ""
}

// ScheduleConfig holds cron specs. Empty specs disable the job.
type ScheduleConfig struct {
	Decision string
	Backtest string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	absDataDir, err := filepath.Abs(getEnv("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	caps, err := parseMarketCaps(getEnv("MARKET_CAPS", ""))
	if err != nil {
		return nil, err
	}

	portfolio := PortfolioConfig{
		File: resolveOptional(absDataDir, getEnv("PORTFOLIO_FILE", "")),
		Name: getEnv("PORTFOLIO", views.DefaultPortfolio),
	}
	if portfolio.File != "" {
		defs, err := marketdata.LoadPortfolios(portfolio.File)
		if err != nil {
			return nil, err
		}
		if portfolio.Tickers, err = defs.Tickers(portfolio.Name); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Port:      getEnvAsInt("PORT", 8010),
		DevMode:   getEnvAsBool("DEV_MODE", false),
		Data: DataConfig{
			PricesCSV:       resolve(absDataDir, getEnv("PRICES_CSV", "prices.csv")),
			BenchmarkColumn: getEnv("BENCHMARK_COLUMN", "SPY"),
			RegimeColumn:    getEnv("REGIME_COLUMN", "VIX"),
			HistoryYears:    getEnvAsInt("DECISION_HISTORY_YEARS", 5),
			MarketCaps:      caps,
		},
		Portfolio: portfolio,
		Risk: domain.RiskLimits{
			HardCap:       getEnvAsFloat("HARD_CAP", 0.30),
			CashBuffer:    getEnvAsFloat("CASH_BUFFER", 0.05),
			DustThreshold: getEnvAsFloat("DUST_THRESHOLD", 0.01),
			Enabled:       getEnvAsBool("RISK_ENABLED", true),
		},
		Strategy: StrategyConfig{
			Tau:            getEnvAsFloat("TAU", 0.05),
			RiskAversion:   getEnvAsFloat("RISK_AVERSION", 2.5),
			RiskFreeRate:   getEnvAsFloat("RISK_FREE_RATE", 0),
			PriorMode:      getEnv("PRIOR_MODE", string(optimization.PriorEquilibrium)),
			AllocatorMode:  getEnv("ALLOCATOR_MODE", string(optimization.ModeMeanVariance)),
			LongOnly:       getEnvAsBool("LONG_ONLY", true),
			PeriodsPerYear: getEnvAsInt("PERIODS_PER_YEAR", 252),
			ConditionLimit: getEnvAsFloat("CONDITION_LIMIT", optimization.DefaultConditionLimit),
		},
		Backtest: BacktestConfig{
			HistoryYears: getEnvAsInt("HISTORY_YEARS", 0),
			TrainWindow:  getEnvAsInt("TRAIN_WINDOW", 252),
			TestWindow:   getEnvAsInt("TEST_WINDOW", 21),
			Strategies:   utils.ParseList(getEnv("STRATEGIES", strings.Join(backtest.DefaultStrategies, ","))),
			Workers:      getEnvAsInt("BACKTEST_WORKERS", 4),
		},
		Views: ViewsConfig{
			Source:      getEnv("VIEW_SOURCE", views.SourceNone),
			File:        resolveOptional(absDataDir, getEnv("VIEWS_FILE", "")),
			Portfolio:   getEnv("VIEWS_PORTFOLIO", portfolio.Name),
			OpenAIKey:   getEnv("OPENAI_API_KEY", ""),
			OpenAIModel: getEnv("OPENAI_MODEL", views.DefaultOpenAIModel),
		},
		Storage: StorageConfig{
			ResultsDB: resolveOptional(absDataDir, getEnv("RESULTS_DB", "")),
		},
		Report: ReportConfig{
			Dir: resolveOptional(absDataDir, getEnv("REPORT_DIR", "")),
			S3: reporting.S3Config{
				Endpoint:        getEnv("S3_ENDPOINT", ""),
				Region:          getEnv("S3_REGION", ""),
				Bucket:          getEnv("S3_BUCKET", ""),
				Prefix:          getEnv("S3_PREFIX", "backtests"),
				AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			},
		},
		Schedule: ScheduleConfig{
			Decision: getEnv("DECISION_SCHEDULE", ""),
			Backtest: getEnv("BACKTEST_SCHEDULE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the settings are consistent. Errors wrap domain.ErrConfig.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return domain.Errorf(domain.ErrConfig, "port %d out of range", c.Port)
	}
	if c.Data.HistoryYears < 0 {
		return domain.Errorf(domain.ErrConfig, "decision history years must not be negative")
	}
	if c.Portfolio.File != "" && len(c.Portfolio.Tickers) == 0 {
		return domain.Errorf(domain.ErrConfig, "portfolio %q from %s resolved no tickers", c.Portfolio.Name, c.Portfolio.File)
	}
	if _, err := views.New(c.ViewsGeneratorConfig(), nopLogger); err != nil {
		return err
	}
	if _, err := allocation.NewPipeline(c.PipelineConfig(), nil, nopLogger); err != nil {
		return err
	}
	if err := c.BacktestConfig().Validate(); err != nil {
		return err
	}
	if c.Report.S3Enabled() && (c.Report.S3.AccessKeyID == "" || c.Report.S3.SecretAccessKey == "") {
		return domain.Errorf(domain.ErrConfig, "S3_BUCKET requires S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY")
	}
	return nil
}

// PipelineConfig returns the decision pipeline parameters.
func (c *Config) PipelineConfig() allocation.Config {
	s := c.Strategy
	return allocation.Config{
		Tau:            s.Tau,
		PeriodsPerYear: s.PeriodsPerYear,
		ConditionLimit: s.ConditionLimit,
		Prior: optimization.PriorConfig{
			Mode:           optimization.PriorMode(s.PriorMode),
			RiskAversion:   s.RiskAversion,
			RiskFreeRate:   s.RiskFreeRate,
			PeriodsPerYear: s.PeriodsPerYear,
		},
		Allocator: optimization.AllocatorConfig{
			Mode:           optimization.AllocatorMode(s.AllocatorMode),
			RiskAversion:   s.RiskAversion,
			LongOnly:       s.LongOnly,
			RiskFreeRate:   s.RiskFreeRate,
			ConditionLimit: s.ConditionLimit,
		},
		Limits: c.Risk,
	}
}

// BacktestConfig returns the default backtest run settings.
func (c *Config) BacktestConfig() backtest.Config {
	return backtest.Config{
		HistoryYears: c.Backtest.HistoryYears,
		TrainWindow:  c.Backtest.TrainWindow,
		TestWindow:   c.Backtest.TestWindow,
		Strategies:   append([]string(nil), c.Backtest.Strategies...),
		RiskEnabled:  c.Risk.Enabled,
		Workers:      c.Backtest.Workers,
		RiskFreeRate: c.Strategy.RiskFreeRate,
		Pipeline:     c.PipelineConfig(),
	}
}

// ViewsGeneratorConfig returns the view source settings.
func (c *Config) ViewsGeneratorConfig() views.Config {
	return views.Config{
		Source:      c.Views.Source,
		File:        c.Views.File,
		Portfolio:   c.Views.Portfolio,
		OpenAIKey:   c.Views.OpenAIKey,
		OpenAIModel: c.Views.OpenAIModel,
	}
}

// parseMarketCaps reads "AAPL=3.1e12,MSFT=2.9e12".
func parseMarketCaps(s string) (map[string]float64, error) {
	entries := utils.ParseList(s)
	if len(entries) == 0 {
		return nil, nil
	}
	caps := make(map[string]float64, len(entries))
	for _, entry := range entries {
		asset, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, domain.Errorf(domain.ErrConfig, "market cap entry %q is not ASSET=VALUE", entry)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || v <= 0 {
			return nil, domain.Errorf(domain.ErrConfig, "market cap for %s must be a positive number", asset)
		}
		caps[strings.TrimSpace(asset)] = v
	}
	return caps, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func resolveOptional(dir, path string) string {
	if path == "" {
		return ""
	}
	return resolve(dir, path)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
