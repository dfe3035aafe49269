package models

type MetricName string

// Counts
const (
	MetricName_RequestCreated   MetricName = "request_created"
	MetricName_RequestClaimed   MetricName = "request_claimed"
	MetricName_ClaimLost        MetricName = "claim_lost"
	MetricName_ClaimExpired     MetricName = "claim_expired"
	MetricName_RequestReleased  MetricName = "request_released"
	MetricName_RequestSealed    MetricName = "request_sealed"
	MetricName_CodeMismatch     MetricName = "code_mismatch"
	MetricName_StaleVerify      MetricName = "stale_verify"
	MetricName_RequestExpired   MetricName = "request_expired"
	MetricName_TransitionRetry  MetricName = "transition_retry"
	MetricName_EventPublishFail MetricName = "event_publish_fail"
)

// Distributions
const (
	MetricName_CollectedWeight MetricName = "collected_weight"
	MetricName_QualityRating   MetricName = "quality_rating"
)

const MetricsCallerName = "ecotrace"
