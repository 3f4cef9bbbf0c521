package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ahmethakanbesel/stock-etl/internal/apperror"
)

const (
	ProviderFinnhub = "finnhub"
	ProviderPolygon = "polygon"
	ProviderAlpaca  = "alpaca"

	DefaultBatchSize = 50
	dateFormat       = "2006-01-02"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// defaultDelays are the per-provider spacing defaults between entities. They
// mirror the free-tier quotas of each provider.
var defaultDelays = map[string]time.Duration{
	ProviderFinnhub: time.Second,
	ProviderPolygon: 13 * time.Second,
	ProviderAlpaca:  300 * time.Millisecond,
}

// Env holds everything read from the process environment.
type Env struct {
	DatabaseURL string `env:"DATABASE_URL"`
	JobsFile    string `env:"JOBS_FILE, default=config/jobs.yaml"`
	Job         string `env:"JOB, default=us-quotes"`
	RunDate     string `env:"RUN_DATE"`
	Timezone    string `env:"RUN_TIMEZONE, default=UTC"`

	// Postgres pool tuning; ignored for SQLite.
	DBMaxConns       int32         `env:"DB_MAX_CONNS, default=4"`
	DBSimpleProtocol bool          `env:"DB_SIMPLE_PROTOCOL"`
	DBConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT, default=30s"`

	BatchSize    int           `env:"BATCH_SIZE"`
	MaxRuntime   time.Duration `env:"MAX_RUNTIME"`
	LeaseTimeout string        `env:"LEASE_TIMEOUT"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT, default=15s"`

	FinnhubAPIKey   string `env:"FINNHUB_API_KEY"`
	PolygonAPIKey   string `env:"POLYGON_API_KEY"`
	PolygonBaseURL  string `env:"POLYGON_BASE_URL"`
	AlpacaAPIKey    string `env:"APCA_API_KEY_ID"`
	AlpacaAPISecret string `env:"APCA_API_SECRET_KEY"`
	AlpacaDataURL   string `env:"ALPACA_DATA_URL"`
	AlpacaFeed      string `env:"ALPACA_FEED, default=iex"`

	LogLevel  string `env:"LOG_LEVEL, default=info"`
	LogFormat string `env:"LOG_FORMAT, default=json"`
	Port      string `env:"PORT, default=8080"`
}

// Profile is one entry of the jobs file. Zero values fall back to defaults.
type Profile struct {
	Market         string                   `yaml:"market"`
	QueueTable     string                   `yaml:"queue_table"`
	TargetTable    string                   `yaml:"target_table"`
	BatchSize      int                      `yaml:"batch_size"`
	MaxRuntime     time.Duration            `yaml:"max_runtime"`
	LeaseTimeout   string                   `yaml:"lease_timeout"`
	Providers      []string                 `yaml:"providers"`
	Delays         map[string]time.Duration `yaml:"delays"`
	Financials     bool                     `yaml:"financials"`
	FinnhubMetrics map[string]string        `yaml:"finnhub_metrics"`
}

// JobsFile is the YAML document listing the job profiles.
type JobsFile struct {
	Jobs map[string]Profile `yaml:"jobs"`
}

// Job is a fully resolved job profile.
type Job struct {
	Name           string
	Market         string
	QueueTable     string
	TargetTable    string
	BatchSize      int
	MaxRuntime     time.Duration
	LeaseTimeout   time.Duration
	Providers      []string
	Delays         map[string]time.Duration
	Financials     bool
	FinnhubMetrics map[string]string
}

// Overrides come from command-line flags and win over the environment.
type Overrides struct {
	Job        string
	RunDate    string
	BatchSize  int
	MaxRuntime time.Duration
}

type Config struct {
	Env
	Job     Job
	RunDate time.Time
	// Jobs holds every resolved profile of the jobs file, keyed by name.
	Jobs map[string]Job
}

// LoadEnv reads the environment only. It never fails on missing values;
// Validate does that.
func LoadEnv(ctx context.Context) (Env, error) {
	var env Env
	if err := envconfig.Process(ctx, &env); err != nil {
		return Env{}, apperror.Wrap(apperror.Config, "read environment", err)
	}
	return env, nil
}

// Load reads the environment and the jobs file, resolves the selected job
// and validates the result.
func Load(ctx context.Context, o Overrides) (*Config, error) {
	env, err := LoadEnv(ctx)
	if err != nil {
		return nil, err
	}

	if o.Job != "" {
		env.Job = o.Job
	}
	if o.RunDate != "" {
		env.RunDate = o.RunDate
	}
	if o.BatchSize > 0 {
		env.BatchSize = o.BatchSize
	}
	if o.MaxRuntime > 0 {
		env.MaxRuntime = o.MaxRuntime
	}

	jobs, err := LoadJobs(env.JobsFile)
	if err != nil {
		return nil, err
	}

	return Resolve(env, jobs, time.Now())
}

// LoadJobs parses the YAML jobs file at path.
func LoadJobs(path string) (*JobsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.Wrap(apperror.Config, "read jobs file", err)
	}

	jf := &JobsFile{}
	if err := yaml.Unmarshal(data, jf); err != nil {
		return nil, apperror.Wrap(apperror.Config, "parse jobs file", err)
	}
	if len(jf.Jobs) == 0 {
		return nil, apperror.New(apperror.Config, fmt.Sprintf("jobs file %s defines no jobs", path))
	}
	return jf, nil
}

// Resolve merges env over the selected profile and validates everything the
// run needs. now is used to derive the default run date.
func Resolve(env Env, jobs *JobsFile, now time.Time) (*Config, error) {
	resolved, err := ResolveJobs(jobs)
	if err != nil {
		return nil, err
	}
	cfg := &Config{Env: env, Jobs: resolved}

	job, ok := cfg.Jobs[env.Job]
	if !ok {
		return nil, apperror.New(apperror.Config,
			fmt.Sprintf("unknown job %q (available: %s)", env.Job, strings.Join(cfg.JobNames(), ", ")))
	}

	if env.BatchSize != 0 {
		job.BatchSize = env.BatchSize
	}
	if env.MaxRuntime != 0 {
		job.MaxRuntime = env.MaxRuntime
	}
	if env.LeaseTimeout != "" {
		lease, err := parseLease(env.LeaseTimeout)
		if err != nil {
			return nil, err
		}
		job.LeaseTimeout = lease
	} else if job.LeaseTimeout < 0 {
		job.LeaseTimeout = 2 * job.MaxRuntime
	}
	cfg.Job = job

	runDate, err := resolveRunDate(env.RunDate, env.Timezone, now)
	if err != nil {
		return nil, err
	}
	cfg.RunDate = runDate

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveJobs applies defaults to every profile and validates table names and
// providers. Lease timeouts left unset are derived from MaxRuntime.
func ResolveJobs(jobs *JobsFile) (map[string]Job, error) {
	out := make(map[string]Job, len(jobs.Jobs))
	for name, p := range jobs.Jobs {
		j, err := resolveProfile(name, p)
		if err != nil {
			return nil, err
		}
		out[name] = j
	}
	return out, nil
}

// Validate checks the selected job against the environment: the store must be
// configured and the primary provider must have credentials.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return apperror.New(apperror.Config, "DATABASE_URL is required")
	}
	if c.Job.BatchSize <= 0 {
		return apperror.New(apperror.Config, "batch size must be positive")
	}
	if c.Job.MaxRuntime <= 0 {
		return apperror.New(apperror.Config, "max runtime must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return apperror.New(apperror.Config, "HTTP_TIMEOUT must be positive")
	}
	primary := c.Job.Providers[0]
	if !c.HasCredentials(primary) {
		return apperror.New(apperror.Config,
			fmt.Sprintf("missing credentials for primary provider %q", primary))
	}
	return nil
}

// HasCredentials reports whether the environment carries API credentials for
// the named provider.
func (c *Config) HasCredentials(provider string) bool {
	switch provider {
	case ProviderFinnhub:
		return c.FinnhubAPIKey != ""
	case ProviderPolygon:
		return c.PolygonAPIKey != ""
	case ProviderAlpaca:
		return c.AlpacaAPIKey != "" && c.AlpacaAPISecret != ""
	default:
		return false
	}
}

// ActiveProviders returns the job's providers in precedence order, dropping
// secondary providers that have no credentials.
func (c *Config) ActiveProviders() (active, skipped []string) {
	for i, p := range c.Job.Providers {
		if i == 0 || c.HasCredentials(p) {
			active = append(active, p)
			continue
		}
		skipped = append(skipped, p)
	}
	return active, skipped
}

// JobNames returns the configured job names in sorted order.
func (c *Config) JobNames() []string {
	names := make([]string, 0, len(c.Jobs))
	for n := range c.Jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func resolveProfile(name string, p Profile) (Job, error) {
	j := Job{
		Name:           name,
		Market:         p.Market,
		QueueTable:     p.QueueTable,
		TargetTable:    p.TargetTable,
		BatchSize:      p.BatchSize,
		MaxRuntime:     p.MaxRuntime,
		Providers:      p.Providers,
		Financials:     p.Financials,
		FinnhubMetrics: p.FinnhubMetrics,
		Delays:         make(map[string]time.Duration),
	}

	if j.QueueTable == "" {
		j.QueueTable = strings.ReplaceAll(name, "-", "_") + "_queue"
	}
	if j.TargetTable == "" {
		j.TargetTable = "stocks"
	}
	if j.BatchSize == 0 {
		j.BatchSize = DefaultBatchSize
	}
	if j.MaxRuntime == 0 {
		j.MaxRuntime = 11 * time.Minute
	}

	j.LeaseTimeout = -1
	if p.LeaseTimeout != "" {
		lease, err := parseLease(p.LeaseTimeout)
		if err != nil {
			return Job{}, err
		}
		j.LeaseTimeout = lease
	}

	for _, t := range []string{j.QueueTable, j.TargetTable} {
		if !identPattern.MatchString(t) {
			return Job{}, apperror.New(apperror.Config,
				fmt.Sprintf("job %s: invalid table name %q", name, t))
		}
	}

	if len(j.Providers) == 0 {
		return Job{}, apperror.New(apperror.Config, fmt.Sprintf("job %s: no providers configured", name))
	}
	for _, prov := range j.Providers {
		if _, ok := defaultDelays[prov]; !ok {
			return Job{}, apperror.New(apperror.Config, fmt.Sprintf("job %s: unknown provider %q", name, prov))
		}
		j.Delays[prov] = defaultDelays[prov]
	}
	for prov, d := range p.Delays {
		if !slices.Contains(j.Providers, prov) {
			return Job{}, apperror.New(apperror.Config,
				fmt.Sprintf("job %s: delay set for unused provider %q", name, prov))
		}
		j.Delays[prov] = d
	}

	return j, nil
}

// parseLease accepts a duration, or "0"/"off" to disable lease reclaiming.
func parseLease(v string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "off", "false":
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, apperror.New(apperror.Config, fmt.Sprintf("invalid lease timeout %q", v))
	}
	return d, nil
}

func resolveRunDate(v, tz string, now time.Time) (time.Time, error) {
	if v != "" {
		d, err := time.Parse(dateFormat, v)
		if err != nil {
			return time.Time{}, apperror.New(apperror.Config,
				fmt.Sprintf("invalid run date %q, expected YYYY-MM-DD", v))
		}
		return d, nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, apperror.Wrap(apperror.Config, "load RUN_TIMEZONE", err)
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), nil
}
