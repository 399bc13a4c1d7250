package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// PathEnv names the variable holding the optional YAML config path.
const PathEnv = "PANOQ_CONFIG_PATH"

var (
	knownBackends        = []string{"placeholder", "subprocess", "remote"}
	knownBackoffPolicies = []string{"fixed", "linear", "exponential", "exp_equal_jitter", "exp_full_jitter"}
)

// Config is read from YAML, then overridden by environment variables.
// Zero values are replaced by defaults before validation.
type Config struct {
	HTTPHost string `yaml:"httpHost" envconfig:"HTTP_HOST"`
	Port     int    `yaml:"port" envconfig:"HTTP_PORT"`

	RedisURL    string `yaml:"redisUrl" envconfig:"REDIS_URL"`
	TaskQueue   string `yaml:"taskQueue" envconfig:"TASK_QUEUE"`
	ResultQueue string `yaml:"resultQueue" envconfig:"RESULT_QUEUE"`

	InferenceTimeoutSeconds int    `yaml:"inferenceTimeoutSeconds" envconfig:"INFERENCE_TIMEOUT_SECONDS"`
	PollTimeoutSeconds      int    `yaml:"pollTimeoutSeconds" envconfig:"POLL_TIMEOUT_SECONDS"`
	LoopBackoffPolicy       string `yaml:"loopBackoffPolicy" envconfig:"LOOP_BACKOFF_POLICY"`
	LoopBackoffSeconds      int    `yaml:"loopBackoffSeconds" envconfig:"LOOP_BACKOFF_SECONDS"`
	LoopBackoffMaxSeconds   int    `yaml:"loopBackoffMaxSeconds" envconfig:"LOOP_BACKOFF_MAX_SECONDS"`

	InferenceBackend   string `yaml:"inferenceBackend" envconfig:"INFERENCE_BACKEND"`
	ProjectRoot        string `yaml:"projectRoot" envconfig:"PROJECT_ROOT"`
	WeightsDir         string `yaml:"weightsDir" envconfig:"WEIGHTS_DIR"`
	OutputsDir         string `yaml:"outputsDir" envconfig:"OUTPUTS_DIR"`
	HFHome             string `yaml:"hfHome" envconfig:"HF_HOME"`
	PythonBin          string `yaml:"pythonBin" envconfig:"PYTHON_BIN"`
	InferenceScript    string `yaml:"inferenceScript" envconfig:"INFERENCE_SCRIPT"`
	RemoteInferenceURL string `yaml:"remoteInferenceUrl" envconfig:"REMOTE_INFERENCE_URL"`
	Views              int    `yaml:"views" envconfig:"PANO_VIEWS"`

	LogLevel  string `yaml:"logLevel" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"logFormat" envconfig:"LOG_FORMAT"`
	Env       string `yaml:"env" envconfig:"PANOQ_ENV"`

	TracingEnabled     bool    `yaml:"tracingEnabled" envconfig:"TRACING_ENABLED"`
	OTLPEndpoint       string  `yaml:"otlpEndpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure       bool    `yaml:"otlpInsecure" envconfig:"OTEL_EXPORTER_OTLP_INSECURE"`
	TracingSampleRatio float64 `yaml:"tracingSampleRatio" envconfig:"TRACING_SAMPLE_RATIO"`

	// Zero disables rate limiting of the synchronous test endpoint.
	TestRateLimitRPM   int `yaml:"testRateLimitRpm" envconfig:"TEST_RATE_LIMIT_RPM"`
	TestRateLimitBurst int `yaml:"testRateLimitBurst" envconfig:"TEST_RATE_LIMIT_BURST"`
}

// LoadConfig reads filePath, which must exist.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	if err := c.finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadConfigOptional behaves like LoadConfig but treats an empty path or a
// missing file as an empty YAML document.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath != "" {
		c, err := LoadConfig(filePath)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	var c Config
	if err := c.finish(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadDotEnv exports variables from the given .env files without replacing
// variables already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) finish() error {
	if err := envconfig.Process("", c); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.HTTPHost == "" {
		c.HTTPHost = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.RedisURL == "" {
		c.RedisURL = "redis://localhost:6379/0"
	}
	if c.TaskQueue == "" {
		c.TaskQueue = "panorama:task"
	}
	if c.ResultQueue == "" {
		c.ResultQueue = "panorama:result"
	}
	if c.InferenceTimeoutSeconds == 0 {
		c.InferenceTimeoutSeconds = 600
	}
	if c.PollTimeoutSeconds == 0 {
		c.PollTimeoutSeconds = 5
	}
	if c.LoopBackoffPolicy == "" {
		c.LoopBackoffPolicy = "fixed"
	}
	if c.LoopBackoffSeconds == 0 {
		c.LoopBackoffSeconds = 5
	}
	if c.LoopBackoffMaxSeconds == 0 {
		c.LoopBackoffMaxSeconds = 60
	}
	if c.InferenceBackend == "" {
		c.InferenceBackend = "placeholder"
	}
	if c.ProjectRoot == "" {
		c.ProjectRoot = "/app"
	}
	if c.WeightsDir == "" {
		c.WeightsDir = c.ProjectRoot + "/weights"
	}
	if c.OutputsDir == "" {
		c.OutputsDir = c.ProjectRoot + "/outputs"
	}
	if c.HFHome == "" {
		c.HFHome = "./cache/huggingface"
	}
	if c.PythonBin == "" {
		c.PythonBin = "python3"
	}
	if c.InferenceScript == "" {
		c.InferenceScript = "demo.py"
	}
	if c.Views == 0 {
		c.Views = 8
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = "localhost:4317"
	}
	if c.TracingSampleRatio == 0 {
		c.TracingSampleRatio = 1
	}
}

func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if u, err := url.Parse(c.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss" && u.Scheme != "unix") {
		errs = append(errs, "redisUrl must be a redis://, rediss:// or unix:// URL")
	}
	if strings.TrimSpace(c.TaskQueue) == "" || strings.TrimSpace(c.ResultQueue) == "" {
		errs = append(errs, "taskQueue and resultQueue are required")
	} else if c.TaskQueue == c.ResultQueue {
		errs = append(errs, "taskQueue and resultQueue must differ")
	}
	if c.InferenceTimeoutSeconds <= 0 {
		errs = append(errs, "inferenceTimeoutSeconds must be positive")
	}
	if c.PollTimeoutSeconds <= 0 {
		errs = append(errs, "pollTimeoutSeconds must be positive")
	}
	if !contains(knownBackoffPolicies, c.LoopBackoffPolicy) {
		errs = append(errs, "loopBackoffPolicy must be one of "+strings.Join(knownBackoffPolicies, ", "))
	}
	if c.LoopBackoffSeconds <= 0 || c.LoopBackoffMaxSeconds < c.LoopBackoffSeconds {
		errs = append(errs, "loopBackoffSeconds must be positive and not exceed loopBackoffMaxSeconds")
	}
	if !contains(knownBackends, c.InferenceBackend) {
		errs = append(errs, "inferenceBackend must be one of "+strings.Join(knownBackends, ", "))
	}
	if c.InferenceBackend == "remote" {
		u, err := url.Parse(c.RemoteInferenceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "remoteInferenceUrl must be a valid http(s) URL when inferenceBackend is remote")
		}
	}
	if c.Views <= 0 {
		errs = append(errs, "views must be positive")
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		errs = append(errs, "tracingSampleRatio must be within [0, 1]")
	}
	if c.TestRateLimitRPM < 0 || c.TestRateLimitBurst < 0 {
		errs = append(errs, "testRateLimitRpm and testRateLimitBurst must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTPHost, strconv.Itoa(c.Port))
}

func (c *Config) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutSeconds) * time.Second
}

func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}

func (c *Config) LoopBackoff() (base, max time.Duration) {
	return time.Duration(c.LoopBackoffSeconds) * time.Second, time.Duration(c.LoopBackoffMaxSeconds) * time.Second
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
