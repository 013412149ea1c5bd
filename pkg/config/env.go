package config

// EnvPrefix is empty because every field tag carries its full variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DefaultSQLiteDSN = "file:backoffice.db?cache=shared&_foreign_keys=on"
)

const (
	EnvAppEnv   = "BACKOFFICE_APP_ENV"
	EnvPort     = "BACKOFFICE_APP_PORT"
	EnvLogLevel = "BACKOFFICE_LOG_LEVEL"
	EnvCORS     = "BACKOFFICE_CORS_ALLOWED_ORIGINS"

	EnvDBDSN  = "BACKOFFICE_DB_DSN"
	EnvDBHost = "BACKOFFICE_DB_HOST"
	EnvDBUser = "BACKOFFICE_DB_USER"
	EnvDBName = "BACKOFFICE_DB_NAME"

	EnvRedisURL     = "BACKOFFICE_REDIS_URL"
	EnvJWTSecret    = "BACKOFFICE_JWT_SECRET"
	EnvJWTIssuer    = "BACKOFFICE_JWT_ISSUER"
	EnvUseSQLite    = "BACKOFFICE_USE_SQLITE"
	EnvFreePlanCode = "BACKOFFICE_FREE_PLAN_CODE"

	EnvGCPProjectID     = "BACKOFFICE_GCP_PROJECT_ID"
	EnvGCSProofBucket   = "BACKOFFICE_GCS_PROOF_BUCKET"
	EnvPubSubBillingTop = "BACKOFFICE_PUBSUB_BILLING_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
