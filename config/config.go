package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"yourturn-backend/schedule"
)

// Config 服务配置
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MQ       MQConfig
	Slot     SlotConfig
	Question QuestionConfig
	Auth     AuthConfig
	Limit    LimitConfig
}

type ServerConfig struct {
	Port          string
	SweepInterval time.Duration
}

type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SQLitePath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MQConfig struct {
	Driver       string
	RocketMQAddr string
	KafkaBrokers []string
	KafkaTopic   string
}

type SlotConfig struct {
	Markers  []schedule.Marker
	Window   time.Duration
	Location *time.Location
}

type QuestionConfig struct {
	MaxLength       int
	OptionMaxLength int
	// 0 表示不限制提交时间
	SubmitTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret            string
	AdminKey             string
	EligibleVoterClasses []string
}

type LimitConfig struct {
	Enabled    bool
	ClaimRate  float64
	ClaimBurst int
}

// Load 从 .env 和环境变量加载配置，时段配置非法时返回错误
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("未找到 .env 文件，使用环境变量")
	}

	markers, err := schedule.ParseMarkers(getEnv("SLOT_MARKERS", "09:00,13:00,21:00"))
	if err != nil {
		return nil, fmt.Errorf("解析SLOT_MARKERS失败: %w", err)
	}
	loc, err := time.LoadLocation(getEnv("SLOT_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("解析SLOT_TIMEZONE失败: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("SERVER_PORT", "8080"),
			SweepInterval: getDurationEnv("SWEEP_INTERVAL", 5*time.Second),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "mysql"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "3306"),
			User:       getEnv("DB_USER", "root"),
			Password:   getEnv("DB_PASSWORD", ""),
			Name:       getEnv("DB_NAME", "yourturn"),
			SQLitePath: getEnv("SQLITE_PATH", "yourturn.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		MQ: MQConfig{
			Driver:       getEnv("MQ_DRIVER", "redis"),
			RocketMQAddr: getEnv("ROCKETMQ_NAMESRV_ADDR", "127.0.0.1:9876"),
			KafkaBrokers: getListEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			KafkaTopic:   getEnv("KAFKA_TOPIC", "yourturn-events"),
		},
		Slot: SlotConfig{
			Markers:  markers,
			Window:   getDurationEnv("SLOT_WINDOW", 20*time.Second),
			Location: loc,
		},
		Question: QuestionConfig{
			MaxLength:       getIntEnv("QUESTION_MAX_LENGTH", 200),
			OptionMaxLength: getIntEnv("OPTION_MAX_LENGTH", 80),
			SubmitTimeout:   getDurationEnv("QUESTION_SUBMIT_TIMEOUT", 0),
		},
		Auth: AuthConfig{
			JWTSecret:            getEnv("JWT_SECRET", ""),
			AdminKey:             getEnv("ADMIN_KEY", ""),
			EligibleVoterClasses: getListEnv("ELIGIBLE_VOTER_CLASSES", nil),
		},
		Limit: LimitConfig{
			Enabled:    getBoolEnv("ENABLE_RATE_LIMIT", true),
			ClaimRate:  getFloatEnv("CLAIM_RATE", 5),
			ClaimBurst: getIntEnv("CLAIM_BURST", 5),
		},
	}

	// 提前校验时段配置，避免服务启动后才发现窗口重叠
	if _, err := cfg.Registry(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Registry 根据配置创建时段表
func (c *Config) Registry() (*schedule.Registry, error) {
	return schedule.NewRegistry(c.Slot.Markers, c.Slot.Window, c.Slot.Location)
}

// MySQLDSN 生成MySQL连接串
func (d DatabaseConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("环境变量 %s=%q 不是整数，使用默认值 %d", key, value, defaultValue)
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("环境变量 %s=%q 不是数字，使用默认值 %v", key, value, defaultValue)
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Printf("环境变量 %s=%q 不是合法时长，使用默认值 %s", key, value, defaultValue)
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
