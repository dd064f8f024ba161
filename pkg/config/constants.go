package config

const EnvPrefix = "RENTFLOW"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "RENTFLOW_APP_ENV"
	EnvPort     = "RENTFLOW_APP_PORT"
	EnvDBDSN    = "RENTFLOW_DB_DSN"
	EnvDBHost   = "RENTFLOW_DB_HOST"
	EnvDBUser   = "RENTFLOW_DB_USER"
	EnvDBName   = "RENTFLOW_DB_NAME"
	EnvDBDriver = "RENTFLOW_DB_DRIVER"
	EnvRedisURL = "RENTFLOW_REDIS_URL"

	EnvJWTSecret  = "RENTFLOW_JWT_SECRET"
	EnvJWTIssuer  = "RENTFLOW_JWT_ISSUER"
	EnvJWTExpMins = "RENTFLOW_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID = "RENTFLOW_GCP_PROJECT_ID"

	EnvPubSubNotificationTopic = "RENTFLOW_PUBSUB_NOTIFICATION_TOPIC"
	EnvPubSubJobsTopic         = "RENTFLOW_PUBSUB_JOBS_TOPIC"

	EnvOfferTTL       = "RENTFLOW_ASSIGNMENT_OFFER_TTL"
	EnvMaxActiveJobs  = "RENTFLOW_ASSIGNMENT_MAX_ACTIVE_JOBS"
	EnvLedgerAttempts = "RENTFLOW_LEDGER_MAX_ATTEMPTS"
	EnvCronInterval   = "RENTFLOW_CRON_INTERVAL"

	EnvCORSAllowedOrigins = "RENTFLOW_CORS_ALLOWED_ORIGINS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
