package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/blacktop/comicpost/internal/comicpost"
	"github.com/blacktop/comicpost/internal/comicpost/vk"
	"github.com/blacktop/comicpost/internal/logutil"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	EnvAccessToken = "COMICPOST_VK_ACCESS_TOKEN"
	EnvGroupID     = "COMICPOST_VK_GROUP_ID"

	// DefaultEnvFile is read when present; a missing default file is not an error.
	DefaultEnvFile = ".env"
)

// Config is everything a run needs from the environment.
type Config struct {
	VK          VK
	XKCDURL     string        `env:"COMICPOST_XKCD_URL" env-default:"https://xkcd.com"`
	StageDir    string        `env:"COMICPOST_STAGE_DIR" env-default:"."`
	HTTPTimeout time.Duration `env:"COMICPOST_HTTP_TIMEOUT" env-default:"30s"`
}

// VK holds the community credentials.
type VK struct {
	AccessToken   string `env:"COMICPOST_VK_ACCESS_TOKEN"`
	GroupID       string `env:"COMICPOST_VK_GROUP_ID"`
	APIVersion    string `env:"COMICPOST_VK_API_VERSION" env-default:"5.131"`
	APIURL        string `env:"COMICPOST_VK_API_URL" env-default:"https://api.vk.com"`
	TargetRetries uint64 `env:"COMICPOST_VK_TARGET_RETRIES" env-default:"2"`
}

// Load reads envFile (if it exists) into the process environment and binds
// the environment into a Config. Variables already set in the environment
// take precedence over the file. When envFile is not the default, a missing
// file is an error.
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || envFile != DefaultEnvFile {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
		logutil.Debugf("no %s file, using environment only", envFile)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	cfg.VK.AccessToken = strings.TrimSpace(cfg.VK.AccessToken)
	cfg.VK.GroupID = strings.TrimSpace(cfg.VK.GroupID)

	return cfg, nil
}

// Validate reports missing or malformed VK settings.
func (c Config) Validate() error {
	var missing []string
	if c.VK.AccessToken == "" {
		missing = append(missing, EnvAccessToken)
	}
	if c.VK.GroupID == "" {
		missing = append(missing, EnvGroupID)
	}
	if len(missing) > 0 {
		return comicpost.MissingEnvError{Provider: "vk", Variables: missing}
	}

	if id, err := strconv.ParseUint(c.VK.GroupID, 10, 64); err != nil || id == 0 {
		return comicpost.ValidationError{Provider: "vk", Reason: fmt.Sprintf("%s must be a positive integer, got %q", EnvGroupID, c.VK.GroupID)}
	}
	if c.HTTPTimeout <= 0 {
		return comicpost.ValidationError{Provider: "config", Reason: "COMICPOST_HTTP_TIMEOUT must be positive"}
	}

	return nil
}

// VKConfig returns the settings for the VK client.
func (c Config) VKConfig() vk.Config {
	return vk.Config{
		AccessToken:   c.VK.AccessToken,
		GroupID:       c.VK.GroupID,
		APIVersion:    c.VK.APIVersion,
		BaseURL:       c.VK.APIURL,
		Timeout:       c.HTTPTimeout,
		TargetRetries: c.VK.TargetRetries,
	}
}
