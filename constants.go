package ecotrace

const (
	Env_AwsEndpoint   = "AWS_ENDPOINT"
	Env_AwsRegion     = "AWS_REGION"
	Env_DbAwsEndpoint = "DB_AWS_ENDPOINT"
	Env_Env           = "ENV"
	Env_EnvTag        = "ENV_TAG"
	Env_LogLevel      = "LOG_LEVEL"
)

const EnvTag_Prod = "prod"
