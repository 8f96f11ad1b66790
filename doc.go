// Package adsync extracts Google Ads account and reporting data and writes it
// as a Singer message stream (SCHEMA, RECORD and STATE lines on stdout).
//
// # Architecture
//
// A sync run is the cartesian product of the selected catalog streams and the
// eligible customer accounts, walked stream-major:
//
//  1. internal/hierarchy resolves the eligible accounts, either by a
//     breadth-first walk of the customer_client hierarchy under
//     manager_account_id, or by probing every account the credentials can
//     access.
//  2. internal/scheduler orders streams and accounts, rotates both lists to
//     the checkpoint left by an interrupted run, and persists the checkpoint
//     before each (stream, customer) pair.
//  3. pkg/streams runs the GAQL query for one pair through pkg/googleads and
//     emits records through pkg/singer. Report streams bookmark on
//     segments.date.
//
// State is written to stdout as STATE messages and, when a state_backend is
// configured, to a local file, a GCS object or an S3 object (pkg/state).
//
// # Quick Start
//
//	adsync accounts --config config.json
//	adsync sync --config config.json --catalog catalog.json --state state.json
//
// # Configuration
//
// Config files are JSON or YAML. ${VAR} references are substituted from the
// environment and ADSYNC_* variables override individual keys:
//
//	{
//	  "developer_token": "${GOOGLE_ADS_DEVELOPER_TOKEN}",
//	  "oauth_client_id": "...",
//	  "oauth_client_secret": "...",
//	  "refresh_token": "...",
//	  "manager_account_id": "123-456-7890",
//	  "account_ids": ["1111111111"],
//	  "query_limit": 10000,
//	  "state_backend": {"type": "gcs", "bucket": "taps", "key": "adsync/state.json"},
//	  "observability": {"metrics_addr": ":9102"}
//	}
//
// # Observability
//
// Logs are structured JSON on stderr (zap). Prometheus metrics are served on
// observability.metrics_addr and OpenTelemetry spans are exported to stderr
// when observability.enable_tracing is set.
package adsync
