package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

// Enum helpers.
const (
	ServiceModeManual = "manual"
	ServiceModeTimer  = "timer"

	LogFormatJSON = "json"
	LogFormatText = "text"

	CompressNone = "none"
	CompressZstd = "zstd"

	FormatJSON = "json"
	FormatYAML = "yaml"
)

const schemaFile = "config.cue"

//go:embed config.cue
var cueSource []byte

var (
	cueCtx      *cue.Context
	schema      cue.Value
	batchSchema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource, cue.Filename(schemaFile))
	if compiled.Err() != nil {
		panic(compiled.Err())
	}
	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = mustLookup(compiled, "#Config")
	batchSchema = mustLookup(compiled, "#Batch")
}

func mustLookup(v cue.Value, path string) cue.Value {
	ret := v.LookupPath(cue.ParsePath(path))
	if ret.Err() != nil {
		panic(ret.Err())
	}
	if err := ret.Validate(); err != nil {
		panic(err)
	}
	return ret
}

type Config struct {
	Version int      `json:"version" yaml:"version"` // fixed 0 for now
	Runner  *Runner  `json:"runner,omitempty" yaml:"runner,omitempty"`
	Monitor *Monitor `json:"monitor,omitempty" yaml:"monitor,omitempty"`
	Service Service  `json:"service" yaml:"service"`
}

// Runner tunes the process runner. Durations use Go syntax (100ms, 2s).
type Runner struct {
	MaxOutput    *int     `json:"max_output,omitempty" yaml:"max_output,omitempty"`
	PollInterval *string  `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	DrainTimeout *string  `json:"drain_timeout,omitempty" yaml:"drain_timeout,omitempty"`
	KillGrace    *string  `json:"kill_grace,omitempty" yaml:"kill_grace,omitempty"`
	WaitDelay    *string  `json:"wait_delay,omitempty" yaml:"wait_delay,omitempty"`
	Shell        []string `json:"shell,omitempty" yaml:"shell,omitempty"`
}

// Monitor configures the liveness monitor and its HTTP decision endpoint.
type Monitor struct {
	Enabled       *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	CheckInterval *string `json:"check_interval,omitempty" yaml:"check_interval,omitempty"`
	PollInterval  *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	CheckTimeout  *string `json:"check_timeout,omitempty" yaml:"check_timeout,omitempty"`
	URL           *string `json:"url,omitempty" yaml:"url,omitempty"`
	TokenEnv      *string `json:"token_env,omitempty" yaml:"token_env,omitempty"` // name of the env variable holding a bearer token
}

type Service struct {
	Mode       string         `json:"mode" yaml:"mode"` // manual | timer
	Verbose    *bool          `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	LogFormat  *string        `json:"log_format,omitempty" yaml:"log_format,omitempty"`
	Schedule   *TimerSchedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Dir        *string        `json:"dir,omitempty" yaml:"dir,omitempty"` // report directory
	Compress   *string        `json:"compress,omitempty" yaml:"compress,omitempty"`
	Format     *string        `json:"format,omitempty" yaml:"format,omitempty"`
	Repository *Repository    `json:"repository,omitempty" yaml:"repository,omitempty"`
	NATS       *NATS          `json:"nats,omitempty" yaml:"nats,omitempty"`
	SQS        *SQS           `json:"sqs,omitempty" yaml:"sqs,omitempty"`
}

// TimerSchedule holds either a cron expression or an ISO8601 duration.
type TimerSchedule struct {
	Cron     string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Repository receives reports over HTTP.
type Repository struct {
	URL string `json:"url" yaml:"url"`
}

type NATS struct {
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

type SQS struct {
	QueueURL string  `json:"queue_url" yaml:"queue_url"`
	Region   *string `json:"region,omitempty" yaml:"region,omitempty"`
}

// DefaultConfig is the configuration written on first run.
func DefaultConfig(_ context.Context) Config {
	return Config{
		Version: 0,
		Runner: &Runner{
			MaxOutput:    ptr(1000),
			PollInterval: ptr("100ms"),
			DrainTimeout: ptr("5s"),
			KillGrace:    ptr("500ms"),
			WaitDelay:    ptr("10s"),
		},
		Monitor: &Monitor{
			Enabled:       ptr(false),
			CheckInterval: ptr("10s"),
			PollInterval:  ptr("100ms"),
		},
		Service: Service{
			Mode:      ServiceModeManual,
			Verbose:   ptr(false),
			LogFormat: ptr(LogFormatJSON),
			Format:    ptr(FormatJSON),
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if err := out.validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// validate covers the rules the schema does not express.
func (c Config) validate() error {
	if m := c.Monitor; m != nil && Get(m.Enabled) && m.URL == nil {
		return errors.New("monitor.url: required when monitor is enabled")
	}
	if s := c.Service.Schedule; s != nil {
		if (s.Cron == "") == (s.Duration == "") {
			return errors.New("service.schedule: exactly one of cron or duration must be set")
		}
	}
	return nil
}

// Duration parses an optional Go duration string, falling back to dflt
// when the value is unset.
func Duration(s *string, dflt time.Duration) (time.Duration, error) {
	if s == nil || *s == "" {
		return dflt, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", *s, err)
	}
	return d, nil
}

// Get dereferences pt or returns the zero value.
func Get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}

// GetOr dereferences pt or returns dflt.
func GetOr[T any](pt *T, dflt T) T {
	if pt == nil {
		return dflt
	}
	return *pt
}

func ptr[T any](v T) *T {
	return &v
}
