package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/drydock.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/drydock.log"`
	DockerHost   string `envconfig:"DOCKER_HOST" default:""`
	CatalogPath  string `envconfig:"CATALOG_PATH" default:""`
	AuthDisabled bool   `envconfig:"AUTH_DISABLED" default:"false"`

	// Session policy
	MaxSessionsPerUser int           `envconfig:"MAX_SESSIONS_PER_USER" default:"5"`
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	SessionMaxAge      time.Duration `envconfig:"SESSION_MAX_AGE" default:"8h"`
	TerminationGrace   time.Duration `envconfig:"TERMINATION_GRACE" default:"100ms"`

	// Background job intervals, cron "@every" durations
	ReapInterval      string `envconfig:"REAP_INTERVAL" default:"5m"`
	ReconcileInterval string `envconfig:"RECONCILE_INTERVAL" default:"15m"`
	StatsInterval     string `envconfig:"STATS_INTERVAL" default:"30s"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("DRYDOCK", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
