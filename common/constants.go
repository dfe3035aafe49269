package common

import "time"

const DefaultRpcWaitTime = 30 * time.Second

const DefaultReaperInterval = time.Minute

const DefaultReaperBatchSize = 100

const ServiceName = "ecotrace"

const (
	Env_MetricsEndpoint  = "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"
	Env_TracesEndpoint   = "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"
	Env_DbHost           = "DB_HOST"
	Env_DbName           = "DB_NAME"
	Env_DbPassword       = "DB_PASSWORD"
	Env_DbPort           = "DB_PORT"
	Env_DbUsername       = "DB_USERNAME"
	Env_DiscordAlert     = "DISCORD_ALERT_WEBHOOK"
	Env_DiscordWarning   = "DISCORD_WARNING_WEBHOOK"
	Env_DiscordTest      = "DISCORD_TEST_WEBHOOK"
	Env_EvidenceBucket   = "EVIDENCE_BUCKET"
	Env_EventQueueSuffix = "EVENT_QUEUE_SUFFIX"
)
