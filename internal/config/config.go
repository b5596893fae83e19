package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Portal struct {
		LoginURL     string `yaml:"login_url"`
		DashboardURL string `yaml:"dashboard_url"`
		DiscoveryURL string `yaml:"discovery_url"`
	} `yaml:"portal"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Stealth struct {
		Headless          bool   `yaml:"headless"`
		BrowserBin        string `yaml:"browser_bin"`
		UserAgent         string `yaml:"user_agent"`
		ViewportWidthMin  int    `yaml:"viewport_width_min"`
		ViewportWidthMax  int    `yaml:"viewport_width_max"`
		ViewportHeightMin int    `yaml:"viewport_height_min"`
		ViewportHeightMax int    `yaml:"viewport_height_max"`
		ActiveStart       string `yaml:"active_start"`
		ActiveEnd         string `yaml:"active_end"`
	} `yaml:"stealth"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional
	cfg := defaultConfig()
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	var cfg Config
	cfg.Portal.LoginURL = "https://seller-uk.tiktok.com/account/login"
	cfg.Portal.DashboardURL = "https://affiliate.tiktok.com/connection/creator?shop_region=GB"
	cfg.Portal.DiscoveryURL = "https://affiliate.tiktok.com/connection/creator/discovery"
	cfg.Server.Addr = ":8080"
	cfg.Stealth.Headless = true
	cfg.Stealth.ViewportWidthMin = 1280
	cfg.Stealth.ViewportWidthMax = 1680
	cfg.Stealth.ViewportHeightMin = 720
	cfg.Stealth.ViewportHeightMax = 1050
	cfg.Stealth.ActiveStart = "09:00"
	cfg.Stealth.ActiveEnd = "22:00"
	cfg.Database.Path = "affiliatebot.db"
	cfg.Logging.Level = "info"
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AFFILIATEBOT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("AFFILIATEBOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AFFILIATEBOT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AFFILIATEBOT_HEADLESS"); v == "0" || v == "false" {
		cfg.Stealth.Headless = false
	}
	if v := os.Getenv("AFFILIATEBOT_BROWSER_BIN"); v != "" {
		cfg.Stealth.BrowserBin = v
	}
}

func validate(cfg *Config) error {
	if cfg.Portal.LoginURL == "" {
		return errors.New("portal.login_url is required")
	}
	if cfg.Portal.DiscoveryURL == "" {
		return errors.New("portal.discovery_url is required")
	}
	if cfg.Database.Path == "" {
		return errors.New("database.path is required")
	}
	return nil
}

// Credentials returns the portal account credentials from the environment.
// They are read at login time and never persisted.
func Credentials() (email, password string, err error) {
	email = os.Getenv("TIKTOK_EMAIL")
	password = os.Getenv("TIKTOK_PASSWORD")
	if email == "" || password == "" {
		return "", "", errors.New("missing TIKTOK_EMAIL or TIKTOK_PASSWORD env")
	}
	return email, password, nil
}
