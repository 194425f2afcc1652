package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":2222"`
	AdminAddr  string `envconfig:"ADMIN_ADDR" default:":8080"`
	DataPath   string `envconfig:"DATA_PATH" default:"/var/lib/sundew"`

	// AccessProbability is the chance, per attempt, that a never-before-seen
	// password is accepted. Must be in [0, 1].
	AccessProbability float64 `envconfig:"ACCESS_PROBABILITY" default:"0.2"`

	AuditLogPath string `envconfig:"AUDIT_LOG_PATH" default:"/var/lib/sundew/audit.jsonl"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/var/lib/sundew/sundew.db"`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// ServerVersion is the identification string presented during the SSH
	// handshake. It should look like a stock OpenSSH deployment.
	ServerVersion string `envconfig:"SERVER_VERSION" default:"SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5"`

	// CommandsFile optionally points at a YAML file of extra emulated
	// commands merged over the built-in table.
	CommandsFile string `envconfig:"COMMANDS_FILE" default:""`

	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
}

var Cfg Settings

// Load reads settings from SUNDEW_* environment variables into Cfg.
func Load() error {
	if err := envconfig.Process("SUNDEW", &Cfg); err != nil {
		return fmt.Errorf("process environment: %w", err)
	}
	if Cfg.AccessProbability < 0 || Cfg.AccessProbability > 1 {
		return fmt.Errorf("SUNDEW_ACCESS_PROBABILITY must be in [0,1], got %v", Cfg.AccessProbability)
	}
	return nil
}
