// Package config loads and validates the overseer-gateway YAML configuration.
//
// Config files support ${VAR_NAME} environment variable expansion and
// duration strings ("2s", "5m") for the metrics push cadence and ledger
// retention settings. Missing optional fields fall back to defaults;
// Validate rejects configs without a server address or database path.
package config
