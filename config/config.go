package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	// LockBackend selects which Lock implementation backs leader election
	// for the Batch Persister and Session Monitor: "etcd" (default) or
	// "redis" for a Redlock quorum across Redis.LockAddresses.
	LockBackend string            `mapstructure:"lock_backend"`
	MySQL       MySQLConfig       `mapstructure:"mysql"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	ETCD        ETCDConfig        `mapstructure:"etcd"`
	GraphQL     GraphQLConfig     `mapstructure:"graphql"`
	TokenCache  TokenCacheConfig  `mapstructure:"token_cache"`
	Session     SessionConfig     `mapstructure:"session"`
	Persister   PersisterConfig   `mapstructure:"persister"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Broadcaster BroadcasterConfig `mapstructure:"broadcaster"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// MySQLConfig backs the Durable Store Client. Proxied deployments (e.g.
// behind ProxySQL or RDS Proxy) tolerate a much larger pool than a direct
// connection, which needs pre-ping and a conservative ceiling.
type MySQLConfig struct {
	Master           string        `mapstructure:"master"`
	Slave            string        `mapstructure:"slave"`
	ProxyMode        bool          `mapstructure:"proxy_mode"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	DirectMaxOpen    int           `mapstructure:"direct_max_open_conns"`
	DirectMaxIdle    int           `mapstructure:"direct_max_idle_conns"`
	DirectPrePing    bool          `mapstructure:"direct_pre_ping"`
	BatchUpsertChunk int           `mapstructure:"batch_upsert_chunk"`
}

type RedisConfig struct {
	// hot store, used for rankings/bids/session cache
	DataAddress       string        `mapstructure:"data_address"`
	Password          string        `mapstructure:"password"`
	DB                int           `mapstructure:"db"`
	PoolSize          int           `mapstructure:"pool_size"`
	MaxRetries        int           `mapstructure:"max_retries"`
	Timeout           time.Duration `mapstructure:"timeout"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	ActiveStatusTTL   time.Duration `mapstructure:"active_status_ttl"`
	EndedStatusTTL    time.Duration `mapstructure:"ended_status_ttl"`
	BidMetadataTTL    time.Duration `mapstructure:"bid_metadata_ttl"`

	// nodes used by the Redlock quorum implementation
	LockAddresses  []string      `mapstructure:"lock_addresses"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	LockRetryCount int           `mapstructure:"lock_retry_count"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	BidTopic     string   `mapstructure:"bid_topic"`
	SessionTopic string   `mapstructure:"session_topic"`
	GroupID      string   `mapstructure:"group_id"`
}

type ETCDConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

// TokenCacheConfig backs the Token Cache (component A).
type TokenCacheConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// SessionConfig configures the default auction parameters. MaxPageSize is
// loaded from config but read by no component: leaderboard page sizes are
// not capped.
type SessionConfig struct {
	DefaultAlpha       float64 `mapstructure:"default_alpha"`
	DefaultBeta        float64 `mapstructure:"default_beta"`
	DefaultGamma       float64 `mapstructure:"default_gamma"`
	DefaultInventory   int     `mapstructure:"default_inventory"`
	MaxPageSize        int     `mapstructure:"max_page_size"`
}

type PersisterConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	MaxRetries      int `mapstructure:"max_retries"`
	ScanCount       int64 `mapstructure:"scan_count"`
}

type MonitorConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

type BroadcasterConfig struct {
	SubscriberQueueDepth int `mapstructure:"subscriber_queue_depth"`
}

var AppConfig Config

// LoadConfig reads and unmarshals the process configuration file.
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &AppConfig, nil
}
