package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabasePath  string
	ServerAddress string
	JWTSecret     string
	JWTTTL        time.Duration
	LogLevel      string
	Environment   string

	AllowedOrigins []string

	// Document storage. MinIO is used when MinioEndpoint is set, otherwise
	// files land under UploadDir and are served from PublicBaseURL/files.
	UploadDir      string
	PublicBaseURL  string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	UploadTimeout  time.Duration

	ChromePath string
	PDFTimeout time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	OTPTTL       time.Duration

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string
	ModbusTimeout   time.Duration

	PaymentEncryptionKey string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DatabasePath:  getEnv("DATABASE_PATH", "./submeter-billing.db"),
		ServerAddress: getEnv("SERVER_ADDRESS", ":8081"),
		JWTSecret:     getEnv("JWT_SECRET", "submeter-billing-secret-change-in-production"),
		JWTTTL:        time.Duration(getEnvInt("JWT_TTL_HOURS", 24)) * time.Hour,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),

		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8081"), "/"),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "submeter-billing"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		UploadTimeout:  time.Duration(getEnvInt("UPLOAD_TIMEOUT_SECONDS", 30)) * time.Second,

		ChromePath: getEnv("CHROME_PATH", ""),
		PDFTimeout: time.Duration(getEnvInt("PDF_TIMEOUT_SECONDS", 30)) * time.Second,

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@submeter-billing.local"),
		OTPTTL:       time.Duration(getEnvInt("OTP_TTL_MINUTES", 10)) * time.Minute,

		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "submeter-billing"),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "submeter"),
		ModbusTimeout:   time.Duration(getEnvInt("MODBUS_TIMEOUT_SECONDS", 5)) * time.Second,

		PaymentEncryptionKey: getEnv("PAYMENT_ENCRYPTION_KEY", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
