package cfg

import (
	"strings"
	"testing"
	"time"
)

// createValidSettings creates a valid Settings struct for testing
func createValidSettings() *Settings {
	return &Settings{
		AppName:           "Netflix Churn Prediction Service",
		AppVersion:        "1.0.0",
		Host:              "0.0.0.0",
		Port:              8000,
		ModelPath:         "models/churn_model.json",
		AllowedOrigins:    []string{"http://localhost:8080"},
		LogLevel:          "info",
		LogFormat:         "json",
		DataPath:          "data",
		InferenceWorkers:  4,
		InferenceTimeout:  5 * time.Second,
		DashboardInterval: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		KPICacheTTL:       30 * time.Second,
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	settings := createValidSettings()

	if err := validateSettings(settings); err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
}

func TestValidateSettings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantMsg string
	}{
		{"missing model path", func(s *Settings) { s.ModelPath = "" }, "MODEL_PATH is required"},
		{"missing data path", func(s *Settings) { s.DataPath = "" }, "DATA_PATH is required"},
		{"empty host", func(s *Settings) { s.Host = "" }, "host cannot be empty"},
		{"port zero", func(s *Settings) { s.Port = 0 }, "port must be between"},
		{"port too high", func(s *Settings) { s.Port = 65536 }, "port must be between"},
		{"too many workers", func(s *Settings) { s.InferenceWorkers = 1000 }, "inference workers"},
		{"inference timeout too short", func(s *Settings) { s.InferenceTimeout = time.Millisecond }, "inference timeout"},
		{"inference timeout too long", func(s *Settings) { s.InferenceTimeout = 2 * time.Minute }, "inference timeout"},
		{"dashboard interval too short", func(s *Settings) { s.DashboardInterval = time.Millisecond }, "dashboard interval"},
		{"shutdown timeout too short", func(s *Settings) { s.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"negative cache ttl", func(s *Settings) { s.KPICacheTTL = -time.Second }, "KPI cache TTL"},
		{"log format", func(s *Settings) { s.LogFormat = "xml" }, "log format"},
		{"origin without scheme", func(s *Settings) { s.AllowedOrigins = []string{"example.com"} }, "allowed origin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)

			err := validateSettings(settings)
			if err == nil {
				t.Fatalf("Expected error for %s", tt.name)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantMsg, err)
			}
		})
	}
}

func TestValidateSettings_Boundaries(t *testing.T) {
	settings := createValidSettings()
	settings.Port = 1
	settings.InferenceWorkers = 1
	settings.KPICacheTTL = 0
	settings.AllowedOrigins = []string{"*"}
	settings.LogLevel = "warning"

	if err := validateSettings(settings); err != nil {
		t.Errorf("Expected boundary values to pass, got: %v", err)
	}
	if settings.LogLevel != "warn" {
		t.Errorf("Expected warning to normalize to warn, got %q", settings.LogLevel)
	}
}
