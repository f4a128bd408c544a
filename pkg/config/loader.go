package config

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvInfo 集合服務設定 from .env
type EnvInfo struct {
	// service name
	RelayService string
	ChatClient   string

	// service ports
	RelayServicePort string

	// service yaml path
	RelayServiceYAMLPath string
	ChatClientYAMLPath   string

	// service log path
	RelayServiceLogPath string
	ChatClientLogPath   string
}

// EnvConfig 集合服務設定
var (
	EnvConfig = initEnv()
	envConfig EnvInfo
	once      sync.Once
	env       string
)

func initEnv() EnvInfo {
	once.Do(func() {
		path, err := GetPath(".env", 5)
		if err != nil {
			log.Printf("Warning: Could not get .env path: %v", err)
		} else if err := godotenv.Load(path); err != nil {
			log.Printf("Warning: Could not load .env file: %v", err)
		}

		env = os.Getenv("ENV")

		envConfig = EnvInfo{
			RelayService: getEnv("RELAY_SERVICE", "relay_service"),
			ChatClient:   getEnv("CHAT_CLIENT", "chat_client"),

			RelayServicePort: os.Getenv("RELAY_SERVICE_PORT"),

			RelayServiceYAMLPath: getEnv("RELAY_SERVICE_YAML", "."),
			ChatClientYAMLPath:   getEnv("CHAT_CLIENT_YAML", "."),

			RelayServiceLogPath: os.Getenv("RELAY_SERVICE_LOG"),
			ChatClientLogPath:   os.Getenv("CHAT_CLIENT_LOG"),
		}
	})

	return envConfig
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsProduction check run env
func IsProduction() bool {
	return env == "production"
}

// IsLocal check run env
func IsLocal() bool {
	return env == "local"
}

// LoadConfig 加載配置, 找不到檔案時使用 defaults
func LoadConfig[T any](serviceName string, configPath string, defaults map[string]interface{}) (T, error) {
	var cfg T

	v := viper.New()
	v.SetConfigName(serviceName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// 自動讀取環境變數, room.max_members -> ROOM_MAX_MEMBERS
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("load config %s: %w", serviceName, err)
		}
		log.Printf("Warning: %s.yaml not found in %s, using defaults", serviceName, configPath)
	} else {
		rawConfig, err := os.ReadFile(v.ConfigFileUsed())
		if err != nil {
			return cfg, fmt.Errorf("read raw config: %w", err)
		}

		// 替換 ${} 占位符為環境變數的值
		expandedConfig := os.ExpandEnv(string(rawConfig))
		if err := v.ReadConfig(bytes.NewBufferString(expandedConfig)); err != nil {
			return cfg, fmt.Errorf("read expanded config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// GetPath use fileName loop maxCount find file path
func GetPath(fileName string, maxCount int) (string, error) {
	path := "./" + fileName

	for i := 0; i < maxCount; i++ {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = "../" + path
	}
	return "", errors.New(fileName + " can't find path")
}
