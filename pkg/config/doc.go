// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEKEEPER_HOST="0.0.0.0"
//	GATEKEEPER_PORT="8080"
//	GATEKEEPER_HEALTH_PORT="9090"
//	GATEKEEPER_ENV="production"  # development exposes internal error detail
//	GATEKEEPER_TRUSTED_PROXIES="10.0.0.0/8"  # forwarding headers are ignored from anyone else
//
// Database and Redis:
//
//	GATEKEEPER_DATABASE_URL="postgres://localhost/gatekeeper?sslmode=disable"
//	GATEKEEPER_DATABASE_REPLICA_URLS="postgres://replica1/gatekeeper,postgres://replica2/gatekeeper"
//	GATEKEEPER_REDIS_URL="redis://localhost:6379"  # optional, enables the distributed limiter
//
// Authentication:
//
//	GATEKEEPER_JWT_SECRET="..."           # required
//	GATEKEEPER_JWT_REFRESH_SECRET="..."   # required, must differ
//	GATEKEEPER_ACCESS_TOKEN_TTL="24h"
//	GATEKEEPER_REFRESH_TOKEN_TTL="168h"
//	GATEKEEPER_REQUIRE_EMAIL_VERIFICATION="true"
//	GATEKEEPER_FRONTEND_URL="http://localhost:5173"
//
// Mail:
//
//	GATEKEEPER_MAIL_PROVIDER="sendgrid"  # log, sendgrid
//	GATEKEEPER_SENDGRID_API_KEY="SG...."
//	GATEKEEPER_MAIL_WORKERS="4"
//	GATEKEEPER_MAIL_QUEUE_SIZE="100"
//
// Maintenance and audit archive:
//
//	GATEKEEPER_RESET_PURGE_SCHEDULE="@every 1h"
//	GATEKEEPER_SESSION_SWEEP_SCHEDULE="@every 1h"
//	GATEKEEPER_DB_HEALTH_SCHEDULE="@every 1m"
//	GATEKEEPER_AUDIT_ARCHIVE_ENABLED="true"
//	GATEKEEPER_AUDIT_ARCHIVE_SCHEDULE="15 0 * * *"
//	GATEKEEPER_S3_BUCKET="gatekeeper-audit"
//
// Observability settings:
//
//	GATEKEEPER_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEKEEPER_OTEL_ENABLED="true"
//	GATEKEEPER_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
