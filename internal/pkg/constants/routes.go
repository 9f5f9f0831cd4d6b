package constants

// Static route constants
const (
	APIRoute           = "/api"
	APIV1Route         = "/v1"
	StripeWebhookRoute = "/webhooks/stripe"
	MetricsRoute       = "/metrics"
	DocsRoute          = "/docs/api/"
	// OpenAPI document relative to the project root
	OpenAPIFile = "public/docs/v1/openapi.yml"
)
