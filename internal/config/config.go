// Package config loads run configuration files (YAML, JSON or TOML) into a
// validated profile.RunProfile. Scalar settings can be overridden from the
// environment with the STAGERUN_ prefix, e.g. STAGERUN_BASE_URL.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"stagerun/internal/profile"
	"stagerun/internal/script"
	"stagerun/internal/threshold"
)

const EnvPrefix = "STAGERUN"

// Stage is one ramp step as written in a config file.
type Stage struct {
	Duration time.Duration `mapstructure:"duration"`
	Target   int           `mapstructure:"target"`
}

// Request describes the HTTP call made each iteration. Path, Body and
// header values are templates.
type Request struct {
	Method  string            `mapstructure:"method"`
	Path    string            `mapstructure:"path"`
	Headers map[string]string `mapstructure:"headers"`
	Body    string            `mapstructure:"body"`
}

// Check is one response assertion as written in a config file.
type Check struct {
	Name         string        `mapstructure:"name"`
	Status       int           `mapstructure:"status"`
	BodyContains string        `mapstructure:"body_contains"`
	MaxDuration  time.Duration `mapstructure:"max_duration"`
}

// File is the on-disk run configuration.
type File struct {
	BaseURL          string        `mapstructure:"base_url"`
	Pacing           time.Duration `mapstructure:"pacing"`
	StartUsers       int           `mapstructure:"start_users"`
	Stages           []Stage       `mapstructure:"stages"`
	Thresholds       []string      `mapstructure:"thresholds"`
	AbortOnViolation bool          `mapstructure:"abort_on_violation"`
	Iterations       int64         `mapstructure:"iterations"`
	Request          Request       `mapstructure:"request"`
	Checks           []Check       `mapstructure:"checks"`

	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	Insecure          bool          `mapstructure:"insecure"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	ThresholdInterval time.Duration `mapstructure:"threshold_interval"`
	GracefulStop      time.Duration `mapstructure:"graceful_stop"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "")
	v.SetDefault("pacing", "0s")
	v.SetDefault("start_users", 0)
	v.SetDefault("abort_on_violation", false)
	v.SetDefault("iterations", 0)
	v.SetDefault("request.method", "GET")
	v.SetDefault("request.path", "")
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("insecure", false)
	v.SetDefault("tick_interval", profile.DefaultTickInterval.String())
	v.SetDefault("threshold_interval", profile.DefaultEvalInterval.String())
	v.SetDefault("graceful_stop", profile.DefaultGracefulStop.String())
	v.SetDefault("shutdown_grace", profile.DefaultShutdownGrace.String())
}

// Read parses the file at path. The format follows the file extension.
func Read(path string) (*File, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, &profile.ConfigurationError{Field: path, Reason: "cannot be read", Err: err}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, &profile.ConfigurationError{Field: path, Reason: "is malformed", Err: err}
	}
	return &f, nil
}

// Load reads path and builds a validated RunProfile from it.
func Load(path string, log zerolog.Logger) (*profile.RunProfile, error) {
	f, err := Read(path)
	if err != nil {
		return nil, err
	}
	return f.Build(nil, log)
}

// Build turns f into a RunProfile. A nil sender uses an HTTPSender
// configured from f.
func (f *File) Build(sender script.Sender, log zerolog.Logger) (*profile.RunProfile, error) {
	p := &profile.RunProfile{
		StartUsers:       f.StartUsers,
		Pacing:           f.Pacing,
		Iterations:       f.Iterations,
		AbortOnViolation: f.AbortOnViolation,
		TickInterval:     f.TickInterval,
		EvalInterval:     f.ThresholdInterval,
		GracefulStop:     f.GracefulStop,
		ShutdownGrace:    f.ShutdownGrace,
	}

	for _, s := range f.Stages {
		p.Stages = append(p.Stages, profile.Stage{Duration: s.Duration, Target: s.Target})
	}

	for i, expr := range f.Thresholds {
		spec, err := threshold.Parse(expr)
		if err != nil {
			return nil, &profile.ConfigurationError{Field: fmt.Sprintf("thresholds[%d]", i), Reason: "is invalid", Err: err}
		}
		p.Thresholds = append(p.Thresholds, spec)
	}

	// Structural errors first, so an empty stage list is reported as such
	// rather than as a missing script.
	if err := p.Stages.Validate(); err != nil {
		return nil, err
	}

	if f.RequestTimeout <= 0 {
		return nil, &profile.ConfigurationError{Field: "request_timeout", Reason: "must be greater than 0"}
	}
	if sender == nil {
		sender = script.NewHTTPSender(f.RequestTimeout, f.Insecure)
	}

	checks := make([]script.Check, 0, len(f.Checks))
	for i, c := range f.Checks {
		if c.Name == "" {
			return nil, &profile.ConfigurationError{Field: fmt.Sprintf("checks[%d].name", i), Reason: "is required"}
		}
		checks = append(checks, script.Check{
			Name:         c.Name,
			Status:       c.Status,
			BodyContains: c.BodyContains,
			MaxDuration:  c.MaxDuration,
		})
	}

	s, err := script.NewHTTPScript(sender, script.RequestSpec{
		Method:  f.Request.Method,
		BaseURL: f.BaseURL,
		Path:    f.Request.Path,
		Headers: f.Request.Headers,
		Body:    f.Request.Body,
	}, checks, log)
	if err != nil {
		return nil, &profile.ConfigurationError{Field: "request", Reason: "is invalid", Err: err}
	}
	p.Script = s

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
