// Package config provides application configuration management from environment variables.
//
// # Overview
//
// Every setting is read from an ACCESSGATE_ prefixed environment variable with a default.
// LoadConfig can first load .env files; variables already set in the environment win.
//
// # Configuration Structure
//
// Server settings:
//
//	ACCESSGATE_HOST="0.0.0.0"
//	ACCESSGATE_PORT="8080"
//	ACCESSGATE_SHUTDOWN_TIMEOUT="30s"
//	ACCESSGATE_CORS_ORIGINS="https://app.example.com,https://admin.example.com"
//
// Database settings:
//
//	ACCESSGATE_DB_DRIVER="postgres"  # postgres, sqlite3
//	ACCESSGATE_DB_URL="postgres://localhost/accessgate?sslmode=disable"
//	ACCESSGATE_DB_MAX_CONNS="20"
//
// Change notifications:
//
//	ACCESSGATE_REDIS_ENABLED="true"
//	ACCESSGATE_REDIS_URL="redis://localhost:6379/0"
//	ACCESSGATE_REDIS_CHANNEL="accessgate:changes"
//
// Bootstrap:
//
//	ACCESSGATE_MANIFEST_PATH="/etc/accessgate/manifest.yaml"
//	ACCESSGATE_MANIFEST_WATCH="true"
//	ACCESSGATE_INTEGRITY_SCHEDULE="@every 1h"
//
// Observability settings:
//
//	ACCESSGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	ACCESSGATE_METRICS_ENABLED="true"
//	ACCESSGATE_OTEL_ENABLED="true"
//	ACCESSGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig(".env")
//	if err != nil {
//		log.Fatal(err)
//	}
package config
