package cfg

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"churninsight/internal/common"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	AppName           string
	AppVersion        string
	Host              string
	Port              int
	ModelPath         string
	AllowedOrigins    []string
	LogLevel          string
	LogFormat         string
	DataPath          string
	InferenceWorkers  int
	InferenceTimeout  time.Duration
	PythonPath        string
	DashboardInterval time.Duration
	ShutdownTimeout   time.Duration
	KPICacheTTL       time.Duration
}

// Addr is the listen address.
func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type ConfigFile struct {
	Service struct {
		Name           string   `yaml:"name"`
		Version        string   `yaml:"version"`
		Host           string   `yaml:"host"`
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"service"`

	Model struct {
		Path             string `yaml:"path"`
		Workers          int    `yaml:"workers"`
		InferenceTimeout string `yaml:"inferenceTimeout"`
		PythonPath       string `yaml:"pythonPath"`
	} `yaml:"model"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Storage struct {
		DataPath string `yaml:"dataPath"`
	} `yaml:"storage"`

	Dashboard struct {
		Interval    string `yaml:"interval"`
		KPICacheTTL string `yaml:"kpiCacheTTL"`
	} `yaml:"dashboard"`

	System struct {
		ShutdownTimeout string `yaml:"shutdownTimeout"`
	} `yaml:"system"`
}

// Load reads settings from the environment, optionally seeded by a .env file
// and a YAML file named by CONFIG_FILE. Environment variables always win.
func Load() (Settings, error) {
	if err := loadDotEnv(); err != nil {
		return Settings{}, err
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

// loadDotEnv populates unset variables from ENV_FILE, or ./.env when present.
func loadDotEnv() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		AppName:           getEnvOrDefault(common.EnvAppName, orDefault(config.Service.Name, common.DefaultAppName)),
		AppVersion:        getEnvOrDefault(common.EnvAppVersion, orDefault(config.Service.Version, common.DefaultAppVersion)),
		Host:              getEnvOrDefault(common.EnvHost, orDefault(config.Service.Host, common.DefaultHost)),
		Port:              getIntFromEnvOrConfig(common.EnvPort, config.Service.Port, common.DefaultPort),
		ModelPath:         getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.Path, common.DefaultModelPath)),
		AllowedOrigins:    getListFromEnvOrConfig(common.EnvAllowedOrigins, config.Service.AllowedOrigins, common.DefaultAllowedOrigins),
		LogLevel:          strings.ToLower(getEnvOrDefault(common.EnvLogLevel, orDefault(config.Logging.Level, common.DefaultLogLevel))),
		LogFormat:         strings.ToLower(getEnvOrDefault(common.EnvLogFormat, orDefault(config.Logging.Format, common.DefaultLogFormat))),
		DataPath:          getEnvOrDefault(common.EnvDataPath, orDefault(config.Storage.DataPath, common.DefaultDataPath)),
		InferenceWorkers:  getIntFromEnvOrConfig(common.EnvInferenceWorkers, config.Model.Workers, common.DefaultInferenceWorkers),
		InferenceTimeout:  getDurationFromEnvOrConfig(common.EnvInferenceTimeout, config.Model.InferenceTimeout, common.DefaultInferenceTimeout),
		PythonPath:        getEnvOrDefault(common.EnvPythonPath, config.Model.PythonPath),
		DashboardInterval: getDurationFromEnvOrConfig(common.EnvDashboardInterval, config.Dashboard.Interval, common.DefaultDashboardInterval),
		ShutdownTimeout:   getDurationFromEnvOrConfig(common.EnvShutdownTimeout, config.System.ShutdownTimeout, common.DefaultShutdownTimeout),
		KPICacheTTL:       getDurationFromEnvOrConfig(common.EnvKPICacheTTL, config.Dashboard.KPICacheTTL, common.DefaultKPICacheTTL),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		AppName:           getEnvOrDefault(common.EnvAppName, common.DefaultAppName),
		AppVersion:        getEnvOrDefault(common.EnvAppVersion, common.DefaultAppVersion),
		Host:              getEnvOrDefault(common.EnvHost, common.DefaultHost),
		Port:              getIntOrDefault(common.EnvPort, common.DefaultPort),
		ModelPath:         getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		AllowedOrigins:    splitOrDefault(os.Getenv(common.EnvAllowedOrigins), splitList(common.DefaultAllowedOrigins)),
		LogLevel:          strings.ToLower(getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel)),
		LogFormat:         strings.ToLower(getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat)),
		DataPath:          getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		InferenceWorkers:  getIntOrDefault(common.EnvInferenceWorkers, common.DefaultInferenceWorkers),
		InferenceTimeout:  getDurationOrDefault(common.EnvInferenceTimeout, mustDuration(common.DefaultInferenceTimeout)),
		PythonPath:        os.Getenv(common.EnvPythonPath), // optional
		DashboardInterval: getDurationOrDefault(common.EnvDashboardInterval, mustDuration(common.DefaultDashboardInterval)),
		ShutdownTimeout:   getDurationOrDefault(common.EnvShutdownTimeout, mustDuration(common.DefaultShutdownTimeout)),
		KPICacheTTL:       getDurationOrDefault(common.EnvKPICacheTTL, mustDuration(common.DefaultKPICacheTTL)),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orDefault(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("bad default duration %q: %v", s, err))
	}
	return d
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	return splitList(v)
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getDurationFromEnvOrConfig(key, configValue, defaultValue string) time.Duration {
	if env := os.Getenv(key); env != "" {
		if d, err := time.ParseDuration(env); err == nil {
			return d
		}
	}
	if d, err := time.ParseDuration(configValue); err == nil {
		return d
	}
	return mustDuration(defaultValue)
}

func getListFromEnvOrConfig(key string, configValue []string, defaultValue string) []string {
	if env := os.Getenv(key); env != "" {
		return splitList(env)
	}
	if len(configValue) > 0 {
		return configValue
	}
	return splitList(defaultValue)
}

var (
	logLevels  = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	logFormats = map[string]bool{"json": true, "console": true}
)

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return errors.New(common.ErrMsgModelPathRequired)
	}
	if settings.DataPath == "" {
		return errors.New(common.ErrMsgDataPathRequired)
	}
	if settings.Host == "" {
		return errors.New("host cannot be empty")
	}

	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}
	if settings.InferenceWorkers < common.MinInferenceWorkers || settings.InferenceWorkers > common.MaxInferenceWorkers {
		return fmt.Errorf("inference workers must be between %d and %d, got %d",
			common.MinInferenceWorkers, common.MaxInferenceWorkers, settings.InferenceWorkers)
	}

	if settings.InferenceTimeout < 10*time.Millisecond || settings.InferenceTimeout > time.Minute {
		return fmt.Errorf("inference timeout must be between 10ms and 1m, got %v", settings.InferenceTimeout)
	}
	if settings.DashboardInterval < 100*time.Millisecond || settings.DashboardInterval > time.Hour {
		return fmt.Errorf("dashboard interval must be between 100ms and 1h, got %v", settings.DashboardInterval)
	}
	if settings.ShutdownTimeout < time.Second || settings.ShutdownTimeout > 5*time.Minute {
		return fmt.Errorf("shutdown timeout must be between 1s and 5m, got %v", settings.ShutdownTimeout)
	}
	if settings.KPICacheTTL < 0 || settings.KPICacheTTL > time.Hour {
		return fmt.Errorf("KPI cache TTL must be between 0 and 1h, got %v", settings.KPICacheTTL)
	}

	if settings.LogLevel == "warning" {
		settings.LogLevel = "warn"
	}
	if !logLevels[settings.LogLevel] {
		return fmt.Errorf("unknown log level %q", settings.LogLevel)
	}
	if !logFormats[settings.LogFormat] {
		return fmt.Errorf("log format must be json or console, got %q", settings.LogFormat)
	}

	for _, origin := range settings.AllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("allowed origin %q must be * or an http(s) URL", origin)
		}
	}

	return nil
}
