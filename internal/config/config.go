package config

import (
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"InfraSentinel/internal/model"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SENTINEL_"

// Config holds all application configuration.
type Config struct {
	Admin      string           `yaml:"admin"`
	Principals PrincipalsConfig `yaml:"principals"`
	Feed       FeedConfig       `yaml:"feed"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Solvency   SolvencyConfig   `yaml:"solvency"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Reserve    ReserveConfig    `yaml:"reserve"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Projects   []ProjectConfig  `yaml:"projects"`
}

// PrincipalsConfig names the identities the components act as.
type PrincipalsConfig struct {
	SolvencyStore  string `yaml:"solvency_store"`
	MilestoneStore string `yaml:"milestone_store"`
	Workflow       string `yaml:"workflow"`
}

// FeedConfig points at the oracle report feed. Empty BaseURL uses the mock feed.
type FeedConfig struct {
	BaseURL    string  `yaml:"base_url"`
	APIKey     string  `yaml:"api_key"`
	Proxy      string  `yaml:"proxy"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
	// RemoteSolvency fetches solvency reports from the feed instead of scoring locally.
	RemoteSolvency bool `yaml:"remote_solvency"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type ScheduleConfig struct {
	SolvencyCron  string `yaml:"solvency_cron"`
	MilestoneCron string `yaml:"milestone_cron"`
	ReserveCron   string `yaml:"reserve_cron"`
}

type SolvencyConfig struct {
	RescueThreshold uint8 `yaml:"rescue_threshold"`
	HistoryCapacity int   `yaml:"history_capacity"`
}

// LedgerConfig amounts are decimal strings: NativeUSDPrice in dollars,
// MinRescueTarget in whole native units.
type LedgerConfig struct {
	NativeUSDPrice  string        `yaml:"native_usd_price"`
	MinRescueTarget string        `yaml:"min_rescue_target"`
	RescueWindow    time.Duration `yaml:"rescue_window"`
	StateFile       string        `yaml:"state_file"`
}

type ReserveConfig struct {
	MinRatioBps  int64         `yaml:"min_ratio_bps"`
	MaxStaleness time.Duration `yaml:"max_staleness"`
}

type DatabaseConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ProjectConfig bootstraps one project. Dollar amounts are decimal strings.
type ProjectConfig struct {
	Name             string `yaml:"name"`
	TotalBudget      string `yaml:"total_budget"`
	CapitalDeployed  string `yaml:"capital_deployed"`
	CapitalRemaining string `yaml:"capital_remaining"`
	FundingVelocity  string `yaml:"funding_velocity"`
	BurnRate         string `yaml:"burn_rate"`
	Milestones       int    `yaml:"milestones"`
	ClaimedReserves  string `yaml:"claimed_reserves"`
}

// Load reads config from a YAML file, then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: read file")
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, eris.Wrap(err, "config: parse")
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func env(name string) (string, bool) {
	v := os.Getenv(EnvPrefix + name)
	return v, v != ""
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"ADMIN":              &c.Admin,
		"TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":   &c.Telegram.ChatID,
		"FEED_BASE_URL":      &c.Feed.BaseURL,
		"FEED_API_KEY":       &c.Feed.APIKey,
		"SOLVENCY_CRON":      &c.Schedule.SolvencyCron,
		"MILESTONE_CRON":     &c.Schedule.MilestoneCron,
		"RESERVE_CRON":       &c.Schedule.ReserveCron,
		"NATIVE_USD_PRICE":   &c.Ledger.NativeUSDPrice,
		"LEDGER_STATE_FILE":  &c.Ledger.StateFile,
		"SQLITE_PATH":        &c.Database.SQLitePath,
		"LOG_LEVEL":          &c.Log.Level,
		"LOG_FORMAT":         &c.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := env(name); ok {
			*dst = v
		}
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" && c.Feed.Proxy == "" {
		c.Feed.Proxy = v
	}
	if v, ok := env("RESCUE_THRESHOLD"); ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return eris.Wrapf(err, "config: %sRESCUE_THRESHOLD", EnvPrefix)
		}
		c.Solvency.RescueThreshold = uint8(n)
	}
	if v, ok := env("RESCUE_WINDOW"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return eris.Wrapf(err, "config: %sRESCUE_WINDOW", EnvPrefix)
		}
		c.Ledger.RescueWindow = d
	}
	if v, ok := env("REMOTE_SOLVENCY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return eris.Wrapf(err, "config: %sREMOTE_SOLVENCY", EnvPrefix)
		}
		c.Feed.RemoteSolvency = b
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Principals.SolvencyStore == "" {
		c.Principals.SolvencyStore = "solvency-store"
	}
	if c.Principals.MilestoneStore == "" {
		c.Principals.MilestoneStore = "milestone-store"
	}
	if c.Principals.Workflow == "" {
		c.Principals.Workflow = "report-workflow"
	}
	if c.Feed.RatePerSec <= 0 {
		c.Feed.RatePerSec = 5
	}
	if c.Feed.Burst <= 0 {
		c.Feed.Burst = 1
	}
	if c.Schedule.SolvencyCron == "" {
		c.Schedule.SolvencyCron = "0 0 * * * *"
	}
	if c.Schedule.MilestoneCron == "" {
		c.Schedule.MilestoneCron = "0 */15 * * * *"
	}
	if c.Schedule.ReserveCron == "" {
		c.Schedule.ReserveCron = "0 30 * * * *"
	}
	if c.Solvency.RescueThreshold == 0 {
		c.Solvency.RescueThreshold = 25
	}
	if c.Solvency.HistoryCapacity <= 0 {
		c.Solvency.HistoryCapacity = 100
	}
	if c.Ledger.MinRescueTarget == "" {
		c.Ledger.MinRescueTarget = "10"
	}
	if c.Ledger.RescueWindow <= 0 {
		c.Ledger.RescueWindow = 14 * 24 * time.Hour
	}
	if c.Ledger.StateFile == "" {
		c.Ledger.StateFile = "data/ledger_state.json"
	}
	if c.Reserve.MinRatioBps == 0 {
		c.Reserve.MinRatioBps = 8000
	}
	if c.Reserve.MaxStaleness <= 0 {
		c.Reserve.MaxStaleness = 24 * time.Hour
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/infra_sentinel.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate checks that all required fields are set and amounts parse.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Admin) == "" {
		return eris.New("admin is required")
	}
	seen := map[string]string{c.Admin: "admin"}
	for field, p := range map[string]string{
		"principals.solvency_store":  c.Principals.SolvencyStore,
		"principals.milestone_store": c.Principals.MilestoneStore,
		"principals.workflow":        c.Principals.Workflow,
	} {
		if other, dup := seen[p]; dup {
			return eris.Errorf("%s duplicates %s (%q)", field, other, p)
		}
		seen[p] = field
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return eris.New("telegram.chat_id is required with telegram.bot_token")
	}
	if c.Reserve.MinRatioBps <= 0 || c.Reserve.MinRatioBps > model.MaxBasisPoints {
		return eris.Errorf("reserve.min_ratio_bps must be in 1..%d", model.MaxBasisPoints)
	}
	if c.Solvency.RescueThreshold > 100 {
		return eris.New("solvency.rescue_threshold must be at most 100")
	}
	if _, err := c.Ledger.NativePrice(); err != nil {
		return err
	}
	if _, err := c.Ledger.MinTarget(); err != nil {
		return err
	}

	names := make(map[string]bool, len(c.Projects))
	for i, p := range c.Projects {
		if strings.TrimSpace(p.Name) == "" {
			return eris.Errorf("projects[%d].name is required", i)
		}
		if names[p.Name] {
			return eris.Errorf("project %q listed twice", p.Name)
		}
		names[p.Name] = true
		if p.Milestones < 1 || p.Milestones > 255 {
			return eris.Errorf("project %q: milestones must be in 1..255", p.Name)
		}
		if _, err := p.Financials(); err != nil {
			return err
		}
		if _, err := p.Reserves(); err != nil {
			return err
		}
	}
	return nil
}

// NativePrice is the USD price of one native unit, zero when unset.
func (l LedgerConfig) NativePrice() (model.USD, error) {
	if l.NativeUSDPrice == "" {
		return 0, nil
	}
	usd, err := ParseUSD(l.NativeUSDPrice)
	if err != nil {
		return 0, eris.Wrap(err, "ledger.native_usd_price")
	}
	return usd, nil
}

// MinTarget is the fallback rescue target in wei.
func (l LedgerConfig) MinTarget() (*big.Int, error) {
	wei, err := ParseWei(l.MinRescueTarget)
	if err != nil {
		return nil, eris.Wrap(err, "ledger.min_rescue_target")
	}
	if wei.Sign() == 0 {
		return nil, eris.New("ledger.min_rescue_target must be positive")
	}
	return wei, nil
}

// ID derives the project id from its name.
func (p ProjectConfig) ID() model.ProjectID {
	return model.ProjectIDFromName(p.Name)
}

// Financials parses the project's dollar amounts.
func (p ProjectConfig) Financials() (model.ProjectFinancials, error) {
	var fin model.ProjectFinancials
	fields := []struct {
		name string
		raw  string
		dst  *model.USD
	}{
		{"total_budget", p.TotalBudget, &fin.TotalBudget},
		{"capital_deployed", p.CapitalDeployed, &fin.CapitalDeployed},
		{"capital_remaining", p.CapitalRemaining, &fin.CapitalRemaining},
		{"funding_velocity", p.FundingVelocity, &fin.FundingVelocity},
		{"burn_rate", p.BurnRate, &fin.BurnRate},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := ParseUSD(f.raw)
		if err != nil {
			return fin, eris.Wrapf(err, "project %q: %s", p.Name, f.name)
		}
		*f.dst = v
	}
	return fin, nil
}

// Reserves parses the claimed reserves, zero when unset.
func (p ProjectConfig) Reserves() (model.USD, error) {
	if p.ClaimedReserves == "" {
		return 0, nil
	}
	v, err := ParseUSD(p.ClaimedReserves)
	if err != nil {
		return 0, eris.Wrapf(err, "project %q: claimed_reserves", p.Name)
	}
	return v, nil
}

// ParseUSD parses a non-negative dollar amount such as "1250000.50" into
// micro-dollars. Digits past the sixth decimal are rounded.
func ParseUSD(s string) (model.USD, error) {
	d, err := parseAmount(s)
	if err != nil {
		return 0, err
	}
	micro := d.Shift(6).Round(0)
	if !micro.BigInt().IsInt64() {
		return 0, eris.Errorf("amount %q out of range", s)
	}
	return model.USD(micro.IntPart()), nil
}

// ParseWei parses a non-negative amount of whole native units such as "2.5"
// into wei.
func ParseWei(s string) (*big.Int, error) {
	d, err := parseAmount(s)
	if err != nil {
		return nil, err
	}
	return d.Shift(18).Round(0).BigInt(), nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "parse amount %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, eris.Errorf("amount %q is negative", s)
	}
	return d, nil
}
