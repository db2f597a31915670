package core

import (
	"fmt"
	"os"
	"time"

	"github.com/jo-hoe/palettebox/internal/backend/imageprocessing"
	"github.com/jo-hoe/palettebox/internal/lifecycle"
	"gopkg.in/yaml.v3"
)

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

type BlobStore struct {
	Directory     string `yaml:"directory"`
	PublicBaseURL string `yaml:"publicBaseURL"`
}

type Upload struct {
	MaxFileSizeBytes      int64    `yaml:"maxFileSizeBytes"`
	AllowedMimeTypes      []string `yaml:"allowedMimeTypes"`
	MaxImagesPerCharacter int      `yaml:"maxImagesPerCharacter"`
	MaxFilesPerRequest    int      `yaml:"maxFilesPerRequest"`
	MaxPixels             int64    `yaml:"maxPixels"`
}

type Moderator struct {
	Password               string        `yaml:"password"`
	SessionTTL             time.Duration `yaml:"sessionTTL"`
	LoginAttemptsPerMinute int           `yaml:"loginAttemptsPerMinute"`
}

type Session struct {
	Store         string `yaml:"store"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
}

type Cleanup struct {
	Enabled   *bool  `yaml:"enabled"`
	Schedule  string `yaml:"schedule"`
	LockFile  string `yaml:"lockFile"`
	BatchSize int    `yaml:"batchSize"`
}

// IsEnabled defaults to true when the key is absent.
func (c Cleanup) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type Rendering struct {
	SwatchWidth       int `yaml:"swatchWidth"`
	SwatchHeight      int `yaml:"swatchHeight"`
	DefaultThumbWidth int `yaml:"defaultThumbWidth"`
}

type ServiceConfig struct {
	Port      int       `yaml:"port"`
	Database  Database  `yaml:"database"`
	BlobStore BlobStore `yaml:"blobStore"`
	Upload    Upload    `yaml:"upload"`
	Moderator Moderator `yaml:"moderator"`
	Session   Session   `yaml:"session"`
	Cleanup   Cleanup   `yaml:"cleanup"`
	Rendering Rendering `yaml:"rendering"`
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets secrets stay out of the config file
func applyEnvOverrides(config *ServiceConfig) {
	if v, ok := os.LookupEnv("MODERATOR_PASSWORD"); ok {
		config.Moderator.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Session.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Session.RedisPassword = v
	}
	if v := os.Getenv("DATABASE_CONNECTION_STRING"); v != "" {
		config.Database.ConnectionString = v
	}
}

// validateConfig fills defaults and rejects values that cannot work
func validateConfig(config *ServiceConfig) error {
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port out of range: %d", config.Port)
	}

	if config.Database.Type == "" {
		config.Database.Type = "sqlite"
	}
	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}
	if config.Database.ConnectionString == "" {
		if config.Database.Type == "postgres" {
			return fmt.Errorf("postgres requires a connection string")
		}
		config.Database.ConnectionString = "palettebox.db"
	}

	if config.BlobStore.Directory == "" {
		config.BlobStore.Directory = "uploads"
	}
	if config.BlobStore.PublicBaseURL == "" {
		config.BlobStore.PublicBaseURL = "/uploads"
	}

	defaults := lifecycle.DefaultLimits()
	if config.Upload.MaxFileSizeBytes == 0 {
		config.Upload.MaxFileSizeBytes = defaults.MaxFileSize
	}
	if config.Upload.MaxFileSizeBytes < 0 {
		return fmt.Errorf("upload.maxFileSizeBytes must be positive")
	}
	if len(config.Upload.AllowedMimeTypes) == 0 {
		config.Upload.AllowedMimeTypes = defaults.AllowedMimeTypes
	}
	for _, m := range config.Upload.AllowedMimeTypes {
		if !defaults.IsAllowedMimeType(m) {
			return fmt.Errorf("unsupported mime type in upload.allowedMimeTypes: %s", m)
		}
	}
	if config.Upload.MaxImagesPerCharacter == 0 {
		config.Upload.MaxImagesPerCharacter = defaults.MaxImagesPerCharacter
	}
	if config.Upload.MaxFilesPerRequest == 0 {
		config.Upload.MaxFilesPerRequest = config.Upload.MaxImagesPerCharacter
	}
	if config.Upload.MaxPixels == 0 {
		config.Upload.MaxPixels = defaults.MaxPixels
	}
	if config.Upload.MaxPixels < 0 {
		return fmt.Errorf("upload.maxPixels must be positive")
	}

	if config.Moderator.SessionTTL == 0 {
		config.Moderator.SessionTTL = 24 * time.Hour
	}
	if config.Moderator.SessionTTL < 0 {
		return fmt.Errorf("moderator.sessionTTL must be positive")
	}
	if config.Moderator.LoginAttemptsPerMinute == 0 {
		config.Moderator.LoginAttemptsPerMinute = 10
	}

	switch config.Session.Store {
	case "":
		config.Session.Store = "memory"
	case "memory":
	case "redis":
		if config.Session.RedisAddr == "" {
			return fmt.Errorf("session.redisAddr is required for the redis store")
		}
	default:
		return fmt.Errorf("unsupported session store: %s", config.Session.Store)
	}

	if config.Cleanup.Schedule == "" {
		config.Cleanup.Schedule = "@every 5m"
	}
	if config.Cleanup.BatchSize == 0 {
		config.Cleanup.BatchSize = 100
	}

	if config.Rendering.SwatchWidth == 0 {
		config.Rendering.SwatchWidth = imageprocessing.DefaultSwatchWidth
	}
	if config.Rendering.SwatchHeight == 0 {
		config.Rendering.SwatchHeight = imageprocessing.DefaultSwatchHeight
	}
	if config.Rendering.DefaultThumbWidth == 0 {
		config.Rendering.DefaultThumbWidth = imageprocessing.DefaultThumbWidth
	}

	return nil
}

// Limits converts the upload section into engine limits
func (config *ServiceConfig) Limits() lifecycle.Limits {
	return lifecycle.Limits{
		MaxFileSize:           config.Upload.MaxFileSizeBytes,
		AllowedMimeTypes:      config.Upload.AllowedMimeTypes,
		MaxImagesPerCharacter: config.Upload.MaxImagesPerCharacter,
		MaxPixels:             config.Upload.MaxPixels,
	}
}
