package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Route      RouteConfig      `yaml:"route"`
	Geocoder   GeocoderConfig   `yaml:"geocoder"`
	Routing    RoutingConfig    `yaml:"routing"`
	Publish    PublishConfig    `yaml:"publish"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Port           string   `yaml:"port" validate:"required"`
	Env            string   `yaml:"env" validate:"oneof=development production test"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" validate:"required_if=Enabled true"`
	Port     string `yaml:"port" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn" validate:"required_if=Enabled true"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker" validate:"required_if=Enabled true"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type TrackingConfig struct {
	TimeThreshold   time.Duration `yaml:"time_threshold" validate:"gt=0"`
	DistanceMeters  float64       `yaml:"distance_meters" validate:"gt=0"`
	PickingDistance float64       `yaml:"picking_distance_meters" validate:"gt=0"`
	FirstFixTimeout time.Duration `yaml:"first_fix_timeout" validate:"gt=0"`
	RetryAttempts   int           `yaml:"retry_attempts" validate:"gte=1"`
	RetryInterval   time.Duration `yaml:"retry_interval" validate:"gt=0"`
	PollInterval    time.Duration `yaml:"poll_interval" validate:"gte=0"`
	SerialPort      string        `yaml:"serial_port"`
	SerialBaudRate  uint          `yaml:"serial_baud_rate"`
}

type RouteConfig struct {
	TimeThreshold  time.Duration `yaml:"time_threshold" validate:"gt=0"`
	DistanceMeters float64       `yaml:"distance_meters" validate:"gt=0"`
	FirstDebounce  time.Duration `yaml:"first_debounce" validate:"gte=0"`
	RedrawDebounce time.Duration `yaml:"redraw_debounce" validate:"gte=0"`
	Profile        string        `yaml:"profile" validate:"oneof=driving cycling walking"`
}

type GeocoderConfig struct {
	BaseURL      string        `yaml:"base_url" validate:"required,url"`
	UserAgent    string        `yaml:"user_agent" validate:"required"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	CacheTTL     time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	RequestsPerS int           `yaml:"requests_per_second" validate:"gte=0"`
}

type RoutingConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type PublishConfig struct {
	LocationTTL       time.Duration `yaml:"location_ttl" validate:"gt=0"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"gt=0"`
	HistoryInterval   time.Duration `yaml:"history_interval" validate:"gt=0"`
	HistoryMinMeters  float64       `yaml:"history_min_meters" validate:"gte=0"`
	StatusPoll        time.Duration `yaml:"status_poll" validate:"gt=0"`
}

type RateLimitConfig struct {
	RequestsPerMinute    int `yaml:"requests_per_minute" validate:"gt=0"`
	MapSessionsPerIPHour int `yaml:"map_sessions_per_ip_hour" validate:"gt=0"`
}

type MonitoringConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics"`
	LogLevel      string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			Env:            "development",
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		Redis: RedisConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    "6379",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "geotrack",
			TopicPrefix: "geotrack/location",
		},
		Tracking: TrackingConfig{
			TimeThreshold:   10 * time.Second,
			DistanceMeters:  20,
			PickingDistance: 50,
			FirstFixTimeout: 15 * time.Second,
			RetryAttempts:   5,
			RetryInterval:   time.Second,
			SerialPort:      "/dev/serial0",
			SerialBaudRate:  9600,
		},
		Route: RouteConfig{
			TimeThreshold:  10 * time.Second,
			DistanceMeters: 30,
			FirstDebounce:  1500 * time.Millisecond,
			RedrawDebounce: 500 * time.Millisecond,
			Profile:        "driving",
		},
		Geocoder: GeocoderConfig{
			BaseURL:      "https://nominatim.openstreetmap.org",
			UserAgent:    "geotrack/1.0",
			Timeout:      10 * time.Second,
			CacheTTL:     24 * time.Hour,
			RequestsPerS: 1,
		},
		Routing: RoutingConfig{
			BaseURL: "https://router.project-osrm.org",
			Timeout: 10 * time.Second,
		},
		Publish: PublishConfig{
			LocationTTL:       2 * time.Hour,
			HeartbeatInterval: 5 * time.Minute,
			HistoryInterval:   30 * time.Minute,
			HistoryMinMeters:  200,
			StatusPoll:        time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute:    100,
			MapSessionsPerIPHour: 30,
		},
		Monitoring: MonitoringConfig{
			EnableMetrics: true,
			LogLevel:      "info",
		},
	}
}

// Load reads .env, then an optional YAML file named by CONFIG_FILE, then the
// environment. Later sources win.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("ENV", c.Server.Env)
	c.Server.Host = getEnv("HOST", c.Server.Host)

	c.Redis.Enabled = getEnvAsBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnv("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)

	c.Postgres.Enabled = getEnvAsBool("POSTGRES_ENABLED", c.Postgres.Enabled)
	c.Postgres.DSN = getEnv("POSTGRES_DSN", c.Postgres.DSN)

	c.MQTT.Enabled = getEnvAsBool("MQTT_ENABLED", c.MQTT.Enabled)
	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)

	c.Tracking.TimeThreshold = getEnvAsDuration("TRACKING_TIME_THRESHOLD", c.Tracking.TimeThreshold)
	c.Tracking.DistanceMeters = getEnvAsFloat("TRACKING_DISTANCE_METERS", c.Tracking.DistanceMeters)
	c.Tracking.PickingDistance = getEnvAsFloat("TRACKING_PICKING_DISTANCE_METERS", c.Tracking.PickingDistance)
	c.Tracking.FirstFixTimeout = getEnvAsDuration("TRACKING_FIRST_FIX_TIMEOUT", c.Tracking.FirstFixTimeout)
	c.Tracking.RetryAttempts = getEnvAsInt("TRACKING_RETRY_ATTEMPTS", c.Tracking.RetryAttempts)
	c.Tracking.RetryInterval = getEnvAsDuration("TRACKING_RETRY_INTERVAL", c.Tracking.RetryInterval)
	c.Tracking.PollInterval = getEnvAsDuration("TRACKING_POLL_INTERVAL", c.Tracking.PollInterval)
	c.Tracking.SerialPort = getEnv("GPS_SERIAL_PORT", c.Tracking.SerialPort)
	c.Tracking.SerialBaudRate = uint(getEnvAsInt("GPS_BAUD_RATE", int(c.Tracking.SerialBaudRate)))

	c.Route.TimeThreshold = getEnvAsDuration("ROUTE_TIME_THRESHOLD", c.Route.TimeThreshold)
	c.Route.DistanceMeters = getEnvAsFloat("ROUTE_DISTANCE_METERS", c.Route.DistanceMeters)
	c.Route.FirstDebounce = getEnvAsDuration("ROUTE_FIRST_DEBOUNCE", c.Route.FirstDebounce)
	c.Route.RedrawDebounce = getEnvAsDuration("ROUTE_REDRAW_DEBOUNCE", c.Route.RedrawDebounce)
	c.Route.Profile = getEnv("ROUTE_PROFILE", c.Route.Profile)

	c.Geocoder.BaseURL = getEnv("GEOCODER_BASE_URL", c.Geocoder.BaseURL)
	c.Geocoder.UserAgent = getEnv("GEOCODER_USER_AGENT", c.Geocoder.UserAgent)
	c.Geocoder.Timeout = getEnvAsDuration("GEOCODER_TIMEOUT", c.Geocoder.Timeout)
	c.Geocoder.CacheTTL = getEnvAsDuration("GEOCODER_CACHE_TTL", c.Geocoder.CacheTTL)
	c.Geocoder.RequestsPerS = getEnvAsInt("GEOCODER_REQUESTS_PER_SECOND", c.Geocoder.RequestsPerS)

	c.Routing.BaseURL = getEnv("ROUTING_BASE_URL", c.Routing.BaseURL)
	c.Routing.Timeout = getEnvAsDuration("ROUTING_TIMEOUT", c.Routing.Timeout)

	c.Publish.LocationTTL = getEnvAsDuration("PUBLISH_LOCATION_TTL", c.Publish.LocationTTL)
	c.Publish.HeartbeatInterval = getEnvAsDuration("PUBLISH_HEARTBEAT_INTERVAL", c.Publish.HeartbeatInterval)
	c.Publish.HistoryInterval = getEnvAsDuration("PUBLISH_HISTORY_INTERVAL", c.Publish.HistoryInterval)
	c.Publish.HistoryMinMeters = getEnvAsFloat("PUBLISH_HISTORY_MIN_METERS", c.Publish.HistoryMinMeters)
	c.Publish.StatusPoll = getEnvAsDuration("PUBLISH_STATUS_POLL", c.Publish.StatusPoll)

	c.RateLimit.RequestsPerMinute = getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", c.RateLimit.RequestsPerMinute)
	c.RateLimit.MapSessionsPerIPHour = getEnvAsInt("RATE_LIMIT_MAP_SESSIONS_PER_HOUR", c.RateLimit.MapSessionsPerIPHour)

	c.Monitoring.EnableMetrics = getEnvAsBool("ENABLE_METRICS", c.Monitoring.EnableMetrics)
	c.Monitoring.LogLevel = getEnv("LOG_LEVEL", c.Monitoring.LogLevel)
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}
