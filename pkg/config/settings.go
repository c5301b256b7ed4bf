package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/awsnare/awsnare/pkg/engine/fetch"
	"github.com/awsnare/awsnare/pkg/engine/match"
	"github.com/awsnare/awsnare/pkg/engine/registry"
	"github.com/awsnare/awsnare/pkg/errs"
	"github.com/awsnare/awsnare/pkg/storage"
	"github.com/spf13/viper"
)

// Detection groups the scan pipeline settings.
type Detection struct {
	RulesFile      string `mapstructure:"rules_file"`
	StagingDir     string `mapstructure:"staging_dir"`
	OutputDir      string `mapstructure:"output_dir"`
	KeyLayout      string `mapstructure:"key_layout"`
	Workers        int    `mapstructure:"workers"`
	Dedup          string `mapstructure:"dedup"`
	Prefilter      string `mapstructure:"prefilter"`
	LookbackDays   int    `mapstructure:"lookback_days"`
	Validate       bool   `mapstructure:"validate"`
	Strict         bool   `mapstructure:"strict"`
	ArtifactMirror string `mapstructure:"artifact_mirror"`
	HistoryDB      string `mapstructure:"history_db"`
}

// Notify holds the Slack webhook target.
type Notify struct {
	SlackWebhook string `mapstructure:"slack_webhook"`
	SlackChannel string `mapstructure:"slack_channel"`
}

// Telemetry holds observability settings.
type Telemetry struct {
	OtelEndpoint string `mapstructure:"otel_endpoint"`
	JSONLogs     bool   `mapstructure:"json_logs"`
	MetricsFile  string `mapstructure:"metrics_file"`
}

// Settings is the whole configuration. It is loaded once at startup and
// passed explicitly to whatever needs it.
type Settings struct {
	DefaultRegion string   `mapstructure:"default_region"`
	Regions       []string `mapstructure:"regions"`
	SnareTag      string   `mapstructure:"snare_tag"`
	TrailName     string   `mapstructure:"trail_name"`
	TrailRegion   string   `mapstructure:"trail_region"`
	TrailBucket   string   `mapstructure:"trail_bucket"`
	AccountID     string   `mapstructure:"account_id"`
	Snares        []string `mapstructure:"snares"`

	Detection Detection `mapstructure:"detection"`
	Notify    Notify    `mapstructure:"notify"`
	Telemetry Telemetry `mapstructure:"telemetry"`

	// Path is the file the settings were read from and are saved to.
	Path string `mapstructure:"-"`
}

// DefaultPath returns ~/.awsnare.yaml, or the bare file name when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(home, DefaultFileName)
}

// Load reads settings from path (DefaultPath when empty), applying defaults
// and AWSNARE_* environment overrides. A missing file is not an error.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultPath()
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Config(path, err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errs.Config(path, err)
	}
	s.Path = path
	return s, nil
}

// Save writes the settings back to s.Path.
func (s *Settings) Save() error {
	if s.Path == "" {
		s.Path = DefaultPath()
	}
	v := viper.New()
	for k, val := range s.Values() {
		v.Set(k, val)
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &errs.IOError{Path: dir, Err: err}
		}
	}
	v.SetConfigType("yaml")
	if err := v.WriteConfigAs(s.Path); err != nil {
		return &errs.IOError{Path: s.Path, Err: err}
	}
	return nil
}

// Values flattens the settings into dotted viper keys.
func (s *Settings) Values() map[string]any {
	return map[string]any{
		"default_region": s.DefaultRegion,
		"regions":        s.Regions,
		"snare_tag":      s.SnareTag,
		"trail_name":     s.TrailName,
		"trail_region":   s.TrailRegion,
		"trail_bucket":   s.TrailBucket,
		"account_id":     s.AccountID,
		"snares":         s.Snares,

		"detection.rules_file":      s.Detection.RulesFile,
		"detection.staging_dir":     s.Detection.StagingDir,
		"detection.output_dir":      s.Detection.OutputDir,
		"detection.key_layout":      s.Detection.KeyLayout,
		"detection.workers":         s.Detection.Workers,
		"detection.dedup":           s.Detection.Dedup,
		"detection.prefilter":       s.Detection.Prefilter,
		"detection.lookback_days":   s.Detection.LookbackDays,
		"detection.validate":        s.Detection.Validate,
		"detection.strict":          s.Detection.Strict,
		"detection.artifact_mirror": s.Detection.ArtifactMirror,
		"detection.history_db":      s.Detection.HistoryDB,

		"notify.slack_webhook": s.Notify.SlackWebhook,
		"notify.slack_channel": s.Notify.SlackChannel,

		"telemetry.otel_endpoint": s.Telemetry.OtelEndpoint,
		"telemetry.json_logs":     s.Telemetry.JSONLogs,
		"telemetry.metrics_file":  s.Telemetry.MetricsFile,
	}
}

// SnareARNs returns the decoy registry.
func (s *Settings) SnareARNs() []string {
	return s.Snares
}

// Validate checks every setting a detection run depends on. All problems are
// reported together as one *errs.ConfigError.
func (s *Settings) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if !IsKnownRegion(s.DefaultRegion) {
		add("default_region %q is not a known AWS region", s.DefaultRegion)
	}
	for _, r := range s.Regions {
		if !IsKnownRegion(r) {
			add("region %q is not a known AWS region", r)
		}
	}
	if s.TrailRegion != "" && !IsKnownRegion(s.TrailRegion) {
		add("trail_region %q is not a known AWS region", s.TrailRegion)
	}
	for i, arn := range s.Snares {
		if strings.TrimSpace(arn) == "" {
			add("snares[%d] is empty", i)
		}
	}

	d := s.Detection
	if d.RulesFile == "" {
		add("detection.rules_file is empty")
	}
	if d.StagingDir == "" {
		add("detection.staging_dir is empty")
	}
	if d.OutputDir == "" {
		add("detection.output_dir is empty")
	}
	if d.Workers < 1 {
		add("detection.workers must be positive, got %d", d.Workers)
	}
	if d.LookbackDays < 0 {
		add("detection.lookback_days must not be negative, got %d", d.LookbackDays)
	}
	if err := fetch.ValidateLayout(d.KeyLayout); err != nil {
		problems = append(problems, err)
	}
	if _, err := match.ParseDedup(d.Dedup); err != nil {
		problems = append(problems, err)
	}
	if _, err := registry.New(nil, registry.Mode(d.Prefilter)); err != nil {
		problems = append(problems, err)
	}
	if d.ArtifactMirror != "" {
		if _, err := storage.ParseLocation(d.ArtifactMirror); err != nil {
			problems = append(problems, err)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errs.Config(s.Path, errors.Join(problems...))
}
