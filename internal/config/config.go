package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port        string
	DBPath      string
	ConfigPath  string
	Region      string
	Currency    string
	Token       string
	Timezone    string
	ImportBatch int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:       getEnv("SMSLEDGER_PORT", "8080"),
		DBPath:     getEnv("SMSLEDGER_DB_PATH", ""),
		ConfigPath: getEnv("SMSLEDGER_CONFIG_PATH", ""),
		Region:     getEnv("SMSLEDGER_REGION", "KR"),
		Currency:   getEnv("SMSLEDGER_CURRENCY", "KRW"),
		Token:      getEnv("SMSLEDGER_TOKEN", ""),
		Timezone:   getEnv("SMSLEDGER_TIMEZONE", "Asia/Seoul"),
	}

	batch := getEnv("SMSLEDGER_IMPORT_BATCH", "100")
	n, err := strconv.Atoi(batch)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("SMSLEDGER_IMPORT_BATCH must be a positive integer, got %q", batch)
	}
	cfg.ImportBatch = n

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("SMSLEDGER_DB_PATH is required")
	}
	if c.ConfigPath == "" {
		return fmt.Errorf("SMSLEDGER_CONFIG_PATH is required")
	}
	if c.Token == "" {
		return fmt.Errorf("SMSLEDGER_TOKEN is required")
	}
	return nil
}

func (c *Config) ValidToken(token string) bool {
	return token != "" && token == c.Token
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
