package config

// Well-known configuration keys. The application keys mirror the
// environment contract of the migration analyzer; the KEEPER_* keys
// tune the supervisor itself.
const (
	KeyAnthropicAPIKey = "ANTHROPIC_API_KEY"
	KeyAdminEmail      = "ADMIN_EMAIL"
	KeyAdminPassword   = "ADMIN_PASSWORD"
	KeyAdminKey        = "ADMIN_KEY"

	KeyAWSRegion = "AWS_DEFAULT_REGION"

	KeyFirebaseProjectID = "FIREBASE_PROJECT_ID"
	KeyFirebaseWebAPIKey = "FIREBASE_WEB_API_KEY"

	KeyAppMode  = "APP_MODE"
	KeyAppPort  = "APP_PORT"
	KeyAppHost  = "APP_HOST"
	KeyAppDebug = "APP_DEBUG"

	KeyAppBinary       = "KEEPER_APP_BIN"
	KeyAppArgs         = "KEEPER_APP_ARGS"
	KeyAppWorkDir      = "KEEPER_APP_DIR"
	KeyHealthPath      = "KEEPER_HEALTH_PATH"
	KeyHealthInterval  = "KEEPER_HEALTH_INTERVAL"
	KeyHealthTimeout   = "KEEPER_HEALTH_TIMEOUT"
	KeyHealthThreshold = "KEEPER_HEALTH_THRESHOLD"
	KeyStartupTimeout  = "KEEPER_STARTUP_TIMEOUT"
	KeyStopGrace       = "KEEPER_STOP_GRACE"
	KeyRestartBudget   = "KEEPER_RESTART_BUDGET"
	KeyRestartBackoff  = "KEEPER_RESTART_BACKOFF"
	KeyControlAddr     = "KEEPER_CONTROL_ADDR"
	KeyOTLPEndpoint    = "KEEPER_OTLP_ENDPOINT"
	KeyLogLevel        = "LOG_LEVEL"
	KeyLogFormat       = "LOG_FORMAT"
)

// Entry describes a single configuration key.
type Entry struct {
	// Key is the environment variable name.
	Key string
	// Required entries must be present and non-empty at load time.
	Required bool
	// Default is used when the key is absent from every source.
	Default string
	// Sensitive values are redacted in any log or display surface.
	Sensitive bool
	// Description is shown by `keeper config show`.
	Description string
}

// Schema returns the full set of entries keeper resolves.
// Order is the display order of `keeper config show`.
func Schema() []Entry {
	return []Entry{
		{Key: KeyAnthropicAPIKey, Required: true, Sensitive: true, Description: "Anthropic API credential for the analyzer"},
		{Key: KeyAdminEmail, Required: true, Description: "Administrator login email"},
		{Key: KeyAdminPassword, Required: true, Sensitive: true, Description: "Administrator login password"},
		{Key: KeyAdminKey, Sensitive: true, Description: "Administrator API key for the control surface"},
		{Key: KeyAWSRegion, Default: "us-east-1", Description: "AWS region exported to the application"},
		{Key: KeyFirebaseProjectID, Description: "Firebase project for third-party auth"},
		{Key: KeyFirebaseWebAPIKey, Sensitive: true, Description: "Firebase web API key"},
		{Key: KeyAppMode, Default: "production", Description: "Application mode"},
		{Key: KeyAppPort, Default: "8501", Description: "Port the application serves on"},
		{Key: KeyAppHost, Default: "0.0.0.0", Description: "Address the application binds"},
		{Key: KeyAppDebug, Default: "false", Description: "Application debug flag"},
		{Key: KeyAppBinary, Default: "streamlit", Description: "Executable the supervisor spawns"},
		{Key: KeyAppArgs, Default: "run streamlit_app_ec2.py", Description: "Arguments before the templated port/address flags"},
		{Key: KeyAppWorkDir, Default: "/opt/dbmigration", Description: "Working directory for the application"},
		{Key: KeyHealthPath, Default: "/_stcore/health", Description: "Liveness endpoint polled by the supervisor"},
		{Key: KeyHealthInterval, Default: "5s", Description: "Interval between liveness probes"},
		{Key: KeyHealthTimeout, Default: "2s", Description: "Per-probe timeout"},
		{Key: KeyHealthThreshold, Default: "3", Description: "Consecutive probe failures before the service is failed"},
		{Key: KeyStartupTimeout, Default: "30s", Description: "How long to wait for the first successful probe"},
		{Key: KeyStopGrace, Default: "10s", Description: "Grace period between SIGTERM and SIGKILL"},
		{Key: KeyRestartBudget, Default: "5", Description: "Automatic restart attempts before giving up"},
		{Key: KeyRestartBackoff, Default: "1s", Description: "Initial backoff before an automatic restart, doubled per attempt"},
		{Key: KeyControlAddr, Default: "127.0.0.1:8565", Description: "Bind address of the keeper control API"},
		{Key: KeyOTLPEndpoint, Description: "OTLP metrics endpoint host:port (empty disables export)"},
		{Key: KeyLogLevel, Default: "info", Description: "Supervisor log level"},
		{Key: KeyLogFormat, Default: "console", Description: "Supervisor log format (console or json)"},
	}
}

// schemaByKey indexes the schema for lookups.
func schemaByKey() map[string]Entry {
	entries := Schema()
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.Key] = e
	}
	return m
}
