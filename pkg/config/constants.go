package config

// EnvPrefix is passed to envconfig; variable names are fully spelled out in
// struct tags so the prefix stays empty.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names shared between Load and the test helpers.
const (
	EnvAppEnv     = "RENTLEDGER_APP_ENV"
	EnvPort       = "RENTLEDGER_APP_PORT"
	EnvDBDSN      = "RENTLEDGER_DB_DSN"
	EnvDBHost     = "RENTLEDGER_DB_HOST"
	EnvDBUser     = "RENTLEDGER_DB_USER"
	EnvDBName     = "RENTLEDGER_DB_NAME"
	EnvRedisURL   = "RENTLEDGER_REDIS_URL"
	EnvJWTSecret  = "RENTLEDGER_JWT_SECRET"
	EnvJWTIssuer  = "RENTLEDGER_JWT_ISSUER"
	EnvJWTExpMins = "RENTLEDGER_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID         = "RENTLEDGER_GCP_PROJECT_ID"
	EnvPubSubDomainTopic    = "RENTLEDGER_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubDomainSub      = "RENTLEDGER_PUBSUB_DOMAIN_SUBSCRIPTION"
	EnvPubSubNotifyTopic    = "RENTLEDGER_PUBSUB_NOTIFICATION_TOPIC"
	EnvPubSubAnalyticsTopic = "RENTLEDGER_PUBSUB_ANALYTICS_TOPIC"
	EnvPubSubAnalyticsSub   = "RENTLEDGER_PUBSUB_ANALYTICS_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
