package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App      App      `yaml:"app"`
	Database Database `yaml:"database"`
	Logger   Logger   `yaml:"logger"`
	Blob     Blob     `yaml:"blob"`
	Whatsapp Whatsapp `yaml:"whatsapp"`
	Allows   Allows   `yaml:"allows"`
}

type App struct {
	Name string `yaml:"name"`
	Port string `yaml:"port"`
	Host string `yaml:"host"`
}

type Database struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	Name string `yaml:"name"`
}

type Logger struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// Blob configures the media object store. Dir is the directory binary
// payloads are written under; BaseURL is the public prefix recorded on
// message rows.
type Blob struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
}

// Whatsapp tunes session lifecycle timing. Zero valued fields keep the
// built-in defaults.
type Whatsapp struct {
	ConnectTimeoutSec    int `yaml:"connect_timeout_sec"`
	ReconnectBaseSec     int `yaml:"reconnect_base_sec"`
	ReconnectMaxSec      int `yaml:"reconnect_max_sec"`
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts"`
	EchoCacheTTLSec      int `yaml:"echo_cache_ttl_sec"`
}

type Allows struct {
	Methods []string `yaml:"methods"`
	Origins []string `yaml:"origins"`
	Headers []string `yaml:"headers"`
}

func InitConfig() *Config {
	var configs Config
	file_name, _ := filepath.Abs("./config.yaml")
	yaml_file, _ := os.ReadFile(file_name)
	yaml.Unmarshal(yaml_file, &configs)

	// Override with environment variables if they exist (for Docker)
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		configs.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		configs.Database.Port = dbPort
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		configs.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		configs.Database.Pass = dbPassword
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		configs.Database.Name = dbName
	}

	// Override app configuration with environment variables
	if appHost := os.Getenv("APP_HOST"); appHost != "" {
		configs.App.Host = appHost
	}
	if appPort := os.Getenv("APP_PORT"); appPort != "" {
		configs.App.Port = appPort
	}
	if appName := os.Getenv("APP_NAME"); appName != "" {
		configs.App.Name = appName
	}

	if logMode := os.Getenv("LOG_MODE"); logMode != "" {
		configs.Logger.Mode = logMode
	}
	if blobDir := os.Getenv("BLOB_DIR"); blobDir != "" {
		configs.Blob.Dir = blobDir
	}
	if blobURL := os.Getenv("BLOB_BASE_URL"); blobURL != "" {
		configs.Blob.BaseURL = blobURL
	}

	if configs.Blob.Dir == "" {
		configs.Blob.Dir = "./media"
	}
	if configs.Blob.BaseURL == "" {
		configs.Blob.BaseURL = "http://localhost:8000/media"
	}

	return &configs
}
