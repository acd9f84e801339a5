package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Influx   InfluxConfig   `yaml:"influx"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Log      LogConfig      `yaml:"log"`
}

type MQTTConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	WSPort          int           `yaml:"ws_port"`
	PublicHost      string        `yaml:"public_host"` // host handed to devices, defaults to Host
	ClientID        string        `yaml:"client_id"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TopicRoot       string        `yaml:"topic_root"`
	KeepAlive       time.Duration `yaml:"keepalive"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ReconnectPeriod time.Duration `yaml:"reconnect_period"`
}

type InfluxConfig struct {
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token"`
	Org         string        `yaml:"org"`
	Bucket      string        `yaml:"bucket"`
	Measurement string        `yaml:"measurement"`
	Timeout     time.Duration `yaml:"timeout"`
	// circuit breaker sulle query
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerOpenFor  time.Duration `yaml:"breaker_open_for"`
}

type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	StatusTTL time.Duration `yaml:"status_ttl"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type GRPCConfig struct {
	Port int `yaml:"port"`
}

type IngestConfig struct {
	DedupTTL time.Duration `yaml:"dedup_ttl"`
	DedupMax int           `yaml:"dedup_max"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// Load reads the optional YAML file at path, applies environment overrides,
// then defaults, then validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	envStr("MQTT_HOST", &c.MQTT.Host)
	envStr("MQTT_PUBLIC_HOST", &c.MQTT.PublicHost)
	envStr("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	envStr("MQTT_USERNAME", &c.MQTT.Username)
	envStr("MQTT_PASSWORD", &c.MQTT.Password)
	envStr("MQTT_TOPIC_ROOT", &c.MQTT.TopicRoot)
	envStr("INFLUXDB_URL", &c.Influx.URL)
	envStr("INFLUXDB_TOKEN", &c.Influx.Token)
	envStr("INFLUXDB_ORG", &c.Influx.Org)
	envStr("INFLUXDB_BUCKET", &c.Influx.Bucket)
	envStr("POSTGRES_URL", &c.Postgres.ConnString)
	envStr("REDIS_ADDR", &c.Redis.Addr)
	envStr("REDIS_PASSWORD", &c.Redis.Password)
	envStr("LOG_LEVEL", &c.Log.Level)

	for _, e := range []struct {
		key string
		dst *int
	}{
		{"MQTT_PORT", &c.MQTT.Port},
		{"MQTT_WS_PORT", &c.MQTT.WSPort},
		{"HTTP_PORT", &c.HTTP.Port},
		{"GRPC_PORT", &c.GRPC.Port},
	} {
		if err := envInt(e.key, e.dst); err != nil {
			return err
		}
	}
	// INFLUXDB_TIMEOUT is in milliseconds
	var timeoutMS int
	if err := envInt("INFLUXDB_TIMEOUT", &timeoutMS); err != nil {
		return err
	}
	if timeoutMS > 0 {
		c.Influx.Timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MQTT.Host == "" {
		c.MQTT.Host = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.WSPort == 0 {
		c.MQTT.WSPort = 9001
	}
	if c.MQTT.PublicHost == "" {
		c.MQTT.PublicHost = c.MQTT.Host
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "telemetry-service"
	}
	if c.MQTT.TopicRoot == "" {
		c.MQTT.TopicRoot = "orto"
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60 * time.Second
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 30 * time.Second
	}
	if c.MQTT.ReconnectPeriod == 0 {
		c.MQTT.ReconnectPeriod = time.Second
	}

	if c.Influx.URL == "" {
		c.Influx.URL = "http://localhost:8086"
	}
	if c.Influx.Org == "" {
		c.Influx.Org = "orto"
	}
	if c.Influx.Bucket == "" {
		c.Influx.Bucket = "sensor_data"
	}
	if c.Influx.Measurement == "" {
		c.Influx.Measurement = "sensor_data"
	}
	if c.Influx.Timeout == 0 {
		c.Influx.Timeout = 30 * time.Second
	}
	if c.Influx.BreakerFailures == 0 {
		c.Influx.BreakerFailures = 5
	}
	if c.Influx.BreakerOpenFor == 0 {
		c.Influx.BreakerOpenFor = 30 * time.Second
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.StatusTTL == 0 {
		c.Redis.StatusTTL = 24 * time.Hour
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.GRPC.Port == 0 {
		c.GRPC.Port = 9090
	}
	if c.Ingest.DedupTTL == 0 {
		c.Ingest.DedupTTL = 10 * time.Minute
	}
	if c.Ingest.DedupMax == 0 {
		c.Ingest.DedupMax = 20000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) validate() error {
	if c.Postgres.ConnString == "" {
		return fmt.Errorf("postgres.conn_string is required")
	}
	if c.Influx.Token == "" {
		return fmt.Errorf("influx.token is required")
	}
	if strings.Contains(c.MQTT.TopicRoot, "/") || strings.ContainsAny(c.MQTT.TopicRoot, "+#") {
		return fmt.Errorf("mqtt.topic_root must be a single topic level, got %q", c.MQTT.TopicRoot)
	}
	for name, p := range map[string]int{
		"mqtt.port":    c.MQTT.Port,
		"mqtt.ws_port": c.MQTT.WSPort,
		"http.port":    c.HTTP.Port,
		"grpc.port":    c.GRPC.Port,
	} {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%s out of range: %d", name, p)
		}
	}
	if c.MQTT.KeepAlive < time.Second {
		return fmt.Errorf("mqtt.keepalive must be at least 1s")
	}
	// una scrittura lenta blocca il router MQTT: deve finire prima del keep-alive
	if c.Influx.Timeout >= c.MQTT.KeepAlive {
		return fmt.Errorf("influx.timeout (%s) must be shorter than mqtt.keepalive (%s)", c.Influx.Timeout, c.MQTT.KeepAlive)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
