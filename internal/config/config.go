package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"order-approval-service/internal/workflows"
)

// EnvPrefix scopes environment overrides, e.g. ORDER_APPROVAL_TEMPORAL_HOST_PORT.
const EnvPrefix = "ORDER_APPROVAL"

type Temporal struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

type Log struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type Config struct {
	Temporal        Temporal
	Approvers       []string
	DecisionTimeout time.Duration
	Activity        workflows.ActivityConfig

	HTTPAddr    string
	MetricsAddr string

	DBDSN        string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	Log             Log
	TracingEndpoint string
	TracingInsecure bool
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", workflows.TaskQueue)

	v.SetDefault("approvers", []string{"me", "myself", "i"})
	v.SetDefault("decision_timeout", time.Duration(0))

	d := workflows.DefaultActivityConfig()
	v.SetDefault("activity.start_to_close_timeout", d.StartToCloseTimeout)
	v.SetDefault("activity.initial_interval", d.InitialInterval)
	v.SetDefault("activity.backoff_coefficient", d.BackoffCoefficient)
	v.SetDefault("activity.maximum_attempts", d.MaximumAttempts)

	v.SetDefault("http.addr", ":8090")
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("db.dsn", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "order-notifications")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 14)
	v.SetDefault("log.compress", false)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
}

// Load reads path (optional, any format viper understands) over the defaults,
// then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		Temporal: Temporal{
			HostPort:  v.GetString("temporal.host_port"),
			Namespace: v.GetString("temporal.namespace"),
			TaskQueue: strings.TrimSpace(v.GetString("temporal.task_queue")),
		},
		Approvers:       list(v.GetStringSlice("approvers")),
		DecisionTimeout: v.GetDuration("decision_timeout"),
		Activity: workflows.ActivityConfig{
			StartToCloseTimeout: v.GetDuration("activity.start_to_close_timeout"),
			InitialInterval:     v.GetDuration("activity.initial_interval"),
			BackoffCoefficient:  v.GetFloat64("activity.backoff_coefficient"),
			MaximumAttempts:     v.GetInt32("activity.maximum_attempts"),
		},
		HTTPAddr:     v.GetString("http.addr"),
		MetricsAddr:  v.GetString("metrics.addr"),
		DBDSN:        v.GetString("db.dsn"),
		RedisURL:     v.GetString("redis.url"),
		KafkaBrokers: list(v.GetStringSlice("kafka.brokers")),
		KafkaTopic:   v.GetString("kafka.topic"),
		Log: Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age"),
			Compress:   v.GetBool("log.compress"),
		},
		TracingEndpoint: v.GetString("tracing.endpoint"),
		TracingInsecure: v.GetBool("tracing.insecure"),
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config invalid: %w", err)
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Temporal.TaskQueue == "" {
		errs = append(errs, errors.New("temporal.task_queue is required"))
	}
	if len(c.Approvers) == 0 {
		errs = append(errs, errors.New("approvers must list at least one approver"))
	}
	if c.DecisionTimeout < 0 {
		errs = append(errs, errors.New("decision_timeout must not be negative"))
	}
	if c.Activity.StartToCloseTimeout <= 0 {
		errs = append(errs, errors.New("activity.start_to_close_timeout must be positive"))
	}
	if c.Activity.MaximumAttempts < 0 {
		errs = append(errs, errors.New("activity.maximum_attempts must be >= 0"))
	}
	return errors.Join(errs...)
}

// list flattens comma separated entries, so both YAML lists and
// ORDER_APPROVAL_APPROVERS="me,myself" work.
func list(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
