package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SecurityConfig struct {
	IdentitySecret string
	IdentityTTL    time.Duration
}

// LockConfig tunes the advisory lock that serializes read-modify-write
// cycles against a project's collaboration state.
type LockConfig struct {
	AcquireTimeout time.Duration
	PollInterval   time.Duration
	StaleAfter     time.Duration
}

// CollabConfig carries the liveness and leasing knobs. The inactivity
// threshold and the heartbeat interval are both exposed because the two
// interact: a threshold shorter than the heartbeat interval evicts healthy
// sessions. The shipped defaults keep the aggressive demo threshold.
type CollabConfig struct {
	HeartbeatInterval      time.Duration
	InactivityThreshold    time.Duration
	CleanupInterval        time.Duration
	LeaseTTL               time.Duration
	ActivityLogLimit       int
	SimultaneousEditWindow time.Duration
}

type OccupancyConfig struct {
	MaxUsers    int
	IdleTimeout time.Duration
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Security         SecurityConfig
	Lock             LockConfig
	Collab           CollabConfig
	Occupancy        OccupancyConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("ANNOTATOR")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.identityttl", "12h")

	v.SetDefault("lock.acquiretimeout", "5s")
	v.SetDefault("lock.pollinterval", "50ms")
	v.SetDefault("lock.staleafter", "5s")

	v.SetDefault("collab.heartbeatinterval", "30s")
	v.SetDefault("collab.inactivitythreshold", "3s")
	v.SetDefault("collab.cleanupinterval", "60s")
	v.SetDefault("collab.leasettl", "30m")
	v.SetDefault("collab.activityloglimit", 50)
	v.SetDefault("collab.simultaneouseditwindow", "60s")

	v.SetDefault("occupancy.maxusers", 2)
	v.SetDefault("occupancy.idletimeout", "5m")
}
