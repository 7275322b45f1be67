package config

import (
	"time"

	pkgconfig "github.com/weiawesome/wes-io-chat/pkg/config"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Chat      ChatConfig
	Auth      AuthConfig
	Log       pkglog.Config
	Database  database.Config
	Store     StoreConfig
	Cassandra CassandraConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Presence  PresenceConfig
	Kafka     KafkaConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	SendBufferSize   int           `mapstructure:"send_buffer_size"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
}

type ChatConfig struct {
	MaxContentLength int `mapstructure:"max_content_length"`
}

// AuthConfig selects how callers are identified. With Enabled the service
// verifies JWTs itself, otherwise it trusts TrustedHeader from the gateway.
type AuthConfig struct {
	Enabled        bool
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessDuration time.Duration `mapstructure:"access_duration"`
	TrustedHeader  string        `mapstructure:"trusted_header"`
}

// StoreConfig picks the message store backend: sql, cassandra or memory.
type StoreConfig struct {
	Driver string
}

type CassandraConfig struct {
	Hosts          []string
	Keyspace       string
	Consistency    string
	Username       string
	Password       string
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	Prefix  string
	TTL     time.Duration
}

type PresenceConfig struct {
	MirrorEnabled bool          `mapstructure:"mirror_enabled"`
	MirrorPrefix  string        `mapstructure:"mirror_prefix"`
	MirrorTTL     time.Duration `mapstructure:"mirror_ttl"`
	MirrorBuffer  int           `mapstructure:"mirror_buffer"`
}

type KafkaConfig struct {
	Enabled      bool
	Brokers      string
	Topic        string
	Partitions   int
	ProfileTopic string `mapstructure:"profile_topic"`
	GroupID      string `mapstructure:"group_id"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 16384)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("websocket.operation_timeout", "10s")
	v.SetDefault("websocket.allowed_origins", []string{})
	v.SetDefault("chat.max_content_length", 2000)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "wes-io-auth")
	v.SetDefault("auth.access_duration", "15m")
	v.SetDefault("auth.trusted_header", "X-User-ID")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "chat-service")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "chat")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "chat.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 30)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("store.driver", "sql")
	v.SetDefault("cassandra.hosts", []string{"localhost"})
	v.SetDefault("cassandra.keyspace", "chat")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.username", "")
	v.SetDefault("cassandra.password", "")
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.prefix", "chat:history")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("presence.mirror_enabled", false)
	v.SetDefault("presence.mirror_prefix", "presence:conversation")
	v.SetDefault("presence.mirror_ttl", "2m")
	v.SetDefault("presence.mirror_buffer", 1024)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-events")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("kafka.profile_topic", "user-profile-updated")
	v.SetDefault("kafka.group_id", "chat-service-profiles")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.enabled", "AUTH_ENABLED")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("cassandra.hosts", "CASSANDRA_HOSTS")
	v.BindEnv("cassandra.username", "CASSANDRA_USERNAME")
	v.BindEnv("cassandra.password", "CASSANDRA_PASSWORD")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.Server.ReadTimeout = pkgconfig.Duration(v, "server.read_timeout", 15*time.Second)
	cfg.Server.WriteTimeout = pkgconfig.Duration(v, "server.write_timeout", 15*time.Second)
	cfg.Server.IdleTimeout = pkgconfig.Duration(v, "server.idle_timeout", 60*time.Second)
	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.OperationTimeout = pkgconfig.Duration(v, "websocket.operation_timeout", 10*time.Second)
	cfg.Auth.AccessDuration = pkgconfig.Duration(v, "auth.access_duration", 15*time.Minute)
	cfg.Cassandra.ConnectTimeout = pkgconfig.Duration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cassandra.Timeout = pkgconfig.Duration(v, "cassandra.timeout", 5*time.Second)
	cfg.Cache.TTL = pkgconfig.Duration(v, "cache.ttl", 5*time.Minute)
	cfg.Presence.MirrorTTL = pkgconfig.Duration(v, "presence.mirror_ttl", 2*time.Minute)

	// Lists may arrive comma separated from the environment.
	cfg.Cassandra.Hosts = pkgconfig.StringSlice(v, "cassandra.hosts")
	cfg.WebSocket.AllowedOrigins = pkgconfig.StringSlice(v, "websocket.allowed_origins")

	return &cfg, nil
}
