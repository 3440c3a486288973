package config

// Environment variable names shared by config loading, tests and tooling.
const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "SETTLEMENT_APP_ENV"
	EnvPort     = "SETTLEMENT_APP_PORT"
	EnvLogLevel = "SETTLEMENT_LOG_LEVEL"

	EnvDBDSN  = "SETTLEMENT_DB_DSN"
	EnvDBHost = "SETTLEMENT_DB_HOST"
	EnvDBUser = "SETTLEMENT_DB_USER"
	EnvDBName = "SETTLEMENT_DB_NAME"

	EnvRedisURL = "SETTLEMENT_REDIS_URL"

	EnvJWTSecret = "SETTLEMENT_JWT_SECRET"
	EnvJWTIssuer = "SETTLEMENT_JWT_ISSUER"

	EnvGCPProjectID = "SETTLEMENT_GCP_PROJECT_ID"

	EnvPubSubOrdersSub       = "SETTLEMENT_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvPubSubNotificationTop = "SETTLEMENT_PUBSUB_NOTIFICATION_TOPIC"
	EnvPubSubSettlementTop   = "SETTLEMENT_PUBSUB_SETTLEMENT_TOPIC"
	EnvPubSubSettlementSub   = "SETTLEMENT_PUBSUB_SETTLEMENT_SUBSCRIPTION"

	EnvGraceWindow  = "SETTLEMENT_CONFIRMATION_GRACE_WINDOW"
	EnvPayoutPeriod = "SETTLEMENT_PAYOUT_PERIOD"

	EnvPayoutWebhookSecret = "SETTLEMENT_PAYOUT_WEBHOOK_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
