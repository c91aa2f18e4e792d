/*
config.go - Server configuration

PURPOSE:
  Resolves runtime settings for the fulfillment ledger server. Values
  are read in order of increasing precedence: .env file (if present),
  then environment variables, then command-line flags.

SETTINGS:
  PORT / --port, -p    HTTP listen port (default 8080)
  DB_PATH / --db, -d   SQLite database path (default fulfillment.db,
                       use ":memory:" for an in-memory database)
  RECONCILE_INTERVAL / --reconcile-interval
                       how often the reconciliation sweep runs
                       (default 1h; 0 disables the scheduler)

SEE ALSO:
  - cmd/server/main.go: startup sequence
*/
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Config stores HTTP service settings.
type Config struct {
	Port              int
	DBPath            string
	ReconcileInterval time.Duration
}

// Load reads configuration in order: .env (if present) → environment → flags.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("warning: .env not loaded: %v", err)
	}

	port := 8080
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	dbPath := "fulfillment.db"
	if v := os.Getenv("DB_PATH"); v != "" {
		dbPath = v
	}
	reconcileInterval := time.Hour
	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			reconcileInterval = d
		}
	}

	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.IntVarP(&port, "port", "p", port, "port to listen on")
	fs.StringVarP(&dbPath, "db", "d", dbPath, "SQLite database path")
	fs.DurationVar(&reconcileInterval, "reconcile-interval", reconcileInterval,
		"how often the reconciliation sweep runs (0 disables it)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", port)
	}
	if dbPath == "" {
		return nil, fmt.Errorf("database path must not be empty")
	}
	if reconcileInterval < 0 {
		return nil, fmt.Errorf("invalid reconcile interval: %v", reconcileInterval)
	}
	return &Config{Port: port, DBPath: dbPath, ReconcileInterval: reconcileInterval}, nil
}
