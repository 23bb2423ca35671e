// Package config provides application configuration management from
// environment variables, optionally overlaid on a YAML file.
//
// # Configuration Structure
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_READ_TIMEOUT="15s"
//	WARDEN_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	WARDEN_STORAGE_TYPE="memory"  # memory, postgres
//	WARDEN_POSTGRES_URL="postgres://localhost/warden?sslmode=disable"
//	WARDEN_CACHE_ENABLED="true"
//	WARDEN_REDIS_URL="localhost:6379"
//
// Event retry settings:
//
//	WARDEN_EVENT_RETRY_ENABLED="true"
//	WARDEN_EVENT_RETRY_SCHEDULE="*/5 * * * *"
//	WARDEN_EVENT_RETRY_BATCH="50"
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"
//	WARDEN_METRICS_ENABLED="true"
//	WARDEN_OTEL_ENABLED="false"
//	WARDEN_OTEL_ENDPOINT="localhost:4317"
//
// A YAML file named by WARDEN_CONFIG_FILE is loaded first; environment
// variables override its values.
package config
