package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Router    RouterConfig    `yaml:"router"`
	Transport TransportConfig `yaml:"webrtc_transport"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxRooms        int           `yaml:"max_rooms"`
	MaxPeersPerRoom int           `yaml:"max_peers_per_room"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WorkerPoolConfig covers the "worker_pool_size" and "worker" keys.
type WorkerPoolConfig struct {
	Size                int      `yaml:"size"`
	RTCMinPort          uint16   `yaml:"rtc_min_port"`
	RTCMaxPort          uint16   `yaml:"rtc_max_port"`
	LogLevel            string   `yaml:"log_level"`
	LogTags             []string `yaml:"log_tags"`
	DTLSCertificateFile string   `yaml:"dtls_certificate_file"`
	DTLSPrivateKeyFile  string   `yaml:"dtls_private_key_file"`
}

// RouterConfig covers "router.media_codecs".
type RouterConfig struct {
	MediaCodecs []MediaCodec `yaml:"media_codecs"`
}

type MediaCodec struct {
	Kind       string            `yaml:"kind"` // "audio" | "video"
	MimeType   string            `yaml:"mime_type"`
	ClockRate  uint32            `yaml:"clock_rate"`
	Channels   uint16            `yaml:"channels,omitempty"`
	Parameters map[string]string `yaml:"parameters,omitempty"`
}

// TransportConfig covers "webrtc_transport".
type TransportConfig struct {
	ListenIPs                       []ListenIP `yaml:"listen_ips"`
	InitialAvailableOutgoingBitrate int        `yaml:"initial_available_outgoing_bitrate"`
	MinimumAvailableOutgoingBitrate int        `yaml:"minimum_available_outgoing_bitrate"`
	MaximumAvailableOutgoingBitrate int        `yaml:"maximum_available_outgoing_bitrate"`
	FactorIncomingBitrate           float64    `yaml:"factor_incoming_bitrate"`
	MaxSCTPMessageSize              int        `yaml:"max_sctp_message_size"`
	MaxIncomingBitrate              int        `yaml:"max_incoming_bitrate"`
}

type ListenIP struct {
	IP          string `yaml:"ip"`
	AnnouncedIP string `yaml:"announced_ip,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatewayConfig is the ambient stack the room and socket layer depend on:
// connection framing, rate limiting, session resumption and speaker cadence.
type GatewayConfig struct {
	WSReadLimit       int64         `yaml:"ws_read_limit"`
	WSWriteTimeout    time.Duration `yaml:"ws_write_timeout"`
	WSPongTimeout     time.Duration `yaml:"ws_pong_timeout"`
	WSPingInterval    time.Duration `yaml:"ws_ping_interval"`
	WSHubPingInterval time.Duration `yaml:"ws_hub_ping_interval"`
	RateLimitPerSec   float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst    int           `yaml:"rate_limit_burst"`
	ConnRatePerSec    float64       `yaml:"conn_rate_per_sec"`
	ConnRateBurst     int           `yaml:"conn_rate_burst"`
	MaxRoomIDLength   int           `yaml:"max_room_id_length"`
	MaxUserIDLength   int           `yaml:"max_user_id_length"`

	SimulcastEnabled         bool          `yaml:"simulcast_enabled"`
	SpeakerDetectionInterval time.Duration `yaml:"speaker_detection_interval"`
	SpeakerThreshold         int           `yaml:"speaker_threshold_dbov"`
	SpeakerMaxEntries        int           `yaml:"speaker_max_entries"`

	StatsInterval time.Duration `yaml:"stats_interval"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	AutoSubscribe bool          `yaml:"auto_subscribe"`

	ConsumerAckTimeout time.Duration `yaml:"consumer_ack_timeout"`
	ConsumerAckRetries int           `yaml:"consumer_ack_retries"`
	RenegotiationDelay time.Duration `yaml:"renegotiation_delay"`
}

func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            getEnv("SFU_HOST", "0.0.0.0"),
			Port:            getEnvInt("SFU_PORT", 8080),
			ReadTimeout:     time.Duration(getEnvInt("SFU_READ_TIMEOUT", 30)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("SFU_WRITE_TIMEOUT", 30)) * time.Second,
			MaxRooms:        getEnvInt("SFU_MAX_ROOMS", 1000),
			MaxPeersPerRoom: getEnvInt("SFU_MAX_PEERS_PER_ROOM", 100),
			AllowedOrigins:  getEnvList("SFU_ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: time.Duration(getEnvInt("SFU_SHUTDOWN_TIMEOUT", 10)) * time.Second,
		},
		WorkerPool: WorkerPoolConfig{
			Size:                getEnvInt("SFU_WORKER_POOL_SIZE", runtime.NumCPU()),
			RTCMinPort:          uint16(getEnvInt("SFU_WORKER_RTC_MIN_PORT", 10000)),
			RTCMaxPort:          uint16(getEnvInt("SFU_WORKER_RTC_MAX_PORT", 20000)),
			LogLevel:            getEnv("SFU_WORKER_LOG_LEVEL", "warn"),
			LogTags:             getEnvList("SFU_WORKER_LOG_TAGS", []string{"info", "ice", "dtls", "rtp", "rtcp"}),
			DTLSCertificateFile: getEnv("SFU_WORKER_DTLS_CERT_FILE", ""),
			DTLSPrivateKeyFile:  getEnv("SFU_WORKER_DTLS_KEY_FILE", ""),
		},
		Router: RouterConfig{
			MediaCodecs: []MediaCodec{
				{Kind: "audio", MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
				{Kind: "video", MimeType: "video/VP8", ClockRate: 90000},
				{Kind: "video", MimeType: "video/VP9", ClockRate: 90000},
				{Kind: "video", MimeType: "video/H264", ClockRate: 90000},
			},
		},
		Transport: TransportConfig{
			ListenIPs: []ListenIP{
				{IP: getEnv("SFU_LISTEN_IP", "0.0.0.0"), AnnouncedIP: getEnv("SFU_PUBLIC_IP", "")},
			},
			InitialAvailableOutgoingBitrate: getEnvInt("SFU_INITIAL_OUTGOING_BITRATE", 1000000),
			MinimumAvailableOutgoingBitrate: getEnvInt("SFU_MIN_OUTGOING_BITRATE", 100000),
			MaximumAvailableOutgoingBitrate: getEnvInt("SFU_MAX_OUTGOING_BITRATE", 2500000),
			FactorIncomingBitrate:           getEnvFloat("SFU_FACTOR_INCOMING_BITRATE", 1.5),
			MaxSCTPMessageSize:              getEnvInt("SFU_MAX_SCTP_MESSAGE_SIZE", 262144),
			MaxIncomingBitrate:              getEnvInt("SFU_MAX_INCOMING_BITRATE", 1500000),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 9090),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Gateway: GatewayConfig{
			WSReadLimit:       int64(getEnvInt("SFU_WS_READ_LIMIT", 524288)),
			WSWriteTimeout:    time.Duration(getEnvInt("SFU_WS_WRITE_TIMEOUT", 10)) * time.Second,
			WSPongTimeout:     time.Duration(getEnvInt("SFU_WS_PONG_TIMEOUT", 60)) * time.Second,
			WSPingInterval:    time.Duration(getEnvInt("SFU_WS_PING_INTERVAL", 54)) * time.Second,
			WSHubPingInterval: time.Duration(getEnvInt("SFU_WS_HUB_PING_INTERVAL", 30)) * time.Second,
			RateLimitPerSec:   getEnvFloat("SFU_RATE_LIMIT_PER_SEC", 20),
			RateLimitBurst:    getEnvInt("SFU_RATE_LIMIT_BURST", 40),
			ConnRatePerSec:    getEnvFloat("SFU_CONN_RATE_PER_SEC", 5),
			ConnRateBurst:     getEnvInt("SFU_CONN_RATE_BURST", 10),
			MaxRoomIDLength:   getEnvInt("SFU_MAX_ROOM_ID_LENGTH", 128),
			MaxUserIDLength:   getEnvInt("SFU_MAX_USER_ID_LENGTH", 128),

			SimulcastEnabled:         getEnvBool("SFU_SIMULCAST_ENABLED", true),
			SpeakerDetectionInterval: time.Duration(getEnvInt("SFU_SPEAKER_DETECTION_INTERVAL_MS", 800)) * time.Millisecond,
			SpeakerThreshold:         getEnvInt("SFU_SPEAKER_THRESHOLD_DBOV", -80),
			SpeakerMaxEntries:        getEnvInt("SFU_SPEAKER_MAX_ENTRIES", 1),

			StatsInterval:      time.Duration(getEnvInt("SFU_STATS_INTERVAL_MS", 3000)) * time.Millisecond,
			SessionTTL:         time.Duration(getEnvInt("SFU_SESSION_TTL_SEC", 120)) * time.Second,
			AutoSubscribe:      getEnvBool("SFU_AUTO_SUBSCRIBE", true),
			ConsumerAckTimeout: time.Duration(getEnvInt("SFU_CONSUMER_ACK_TIMEOUT_SEC", 20)) * time.Second,
			ConsumerAckRetries: getEnvInt("SFU_CONSUMER_ACK_RETRIES", 3),
			RenegotiationDelay: time.Duration(getEnvInt("SFU_RENEGOTIATION_DELAY_MS", 150)) * time.Millisecond,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
