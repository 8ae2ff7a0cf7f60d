package instrumentation

// Metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusUnknown = "unknown"

	OAuthResultSuccess      = "success"
	OAuthResultFailure      = "failure"
	OAuthResultInvalidState = "invalid_state"
	OAuthResultRevoked      = "revoked"

	ServiceNotion = "notion"
	ServiceOpenAI = "openai"

	NodeKindDashboard = "dashboard"
	NodeKindCategory  = "category"
)

// Exporter names accepted in Config.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)
