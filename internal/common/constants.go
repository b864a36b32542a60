package common

// Service identity
const (
	ServiceID    = "churn-prediction"
	ModelVersion = "v1.0.0"
)

// Environment variable keys
const (
	EnvConfigFile        = "CONFIG_FILE"
	EnvHost              = "HOST"
	EnvPort              = "PORT"
	EnvModelPath         = "MODEL_PATH"
	EnvAllowedOrigins    = "ALLOWED_ORIGINS"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogFormat         = "LOG_FORMAT"
	EnvAppName           = "APP_NAME"
	EnvAppVersion        = "APP_VERSION"
	EnvDataPath          = "DATA_PATH"
	EnvInferenceWorkers  = "INFERENCE_WORKERS"
	EnvInferenceTimeout  = "INFERENCE_TIMEOUT"
	EnvPythonPath        = "PYTHON_PATH"
	EnvDashboardInterval = "DASHBOARD_INTERVAL"
	EnvShutdownTimeout   = "SHUTDOWN_TIMEOUT"
	EnvKPICacheTTL       = "KPI_CACHE_TTL"
)

// Configuration defaults
const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 8000
	DefaultModelPath         = "models/churn_model.json"
	DefaultAllowedOrigins    = "http://localhost:8080"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultAppName           = "Netflix Churn Prediction Service"
	DefaultAppVersion        = "1.0.0"
	DefaultDataPath          = "data"
	DefaultInferenceWorkers  = 4
	DefaultInferenceTimeout  = "5s"
	DefaultDashboardInterval = "5s"
	DefaultShutdownTimeout   = "10s"
	DefaultKPICacheTTL       = "30s"
)

// Prediction labels
const (
	LabelWillChurn    = "will_churn"
	LabelWillContinue = "will_continue"
)

// ChurnThreshold is the inclusive probability at which a customer is labelled will_churn.
const ChurnThreshold = 0.5

// Risk tier boundaries, inclusive lower bounds.
const (
	HighRiskThreshold   = 0.7
	MediumRiskThreshold = 0.3
)

// Common error messages
const (
	ErrMsgModelPathRequired = "MODEL_PATH is required"
	ErrMsgDataPathRequired  = "DATA_PATH is required"
)

// Validation constants
const (
	MinPort             = 1
	MaxPort             = 65535
	MinInferenceWorkers = 1
	MaxInferenceWorkers = 256
)
