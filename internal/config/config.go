package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/renderlab/renderbox/internal/provider"
)

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

type StorageConfig struct {
	DBPath  string `mapstructure:"db_path"`
	BlobDir string `mapstructure:"blob_dir"`
}

type SandboxConfig struct {
	// Provider selects the execution substrate: "docker" or "local".
	Provider         string        `mapstructure:"provider"`
	IdleAfter        time.Duration `mapstructure:"idle_after"`
	IdleTTL          time.Duration `mapstructure:"idle_ttl"`
	ReapInterval     time.Duration `mapstructure:"reap_interval"`
	ProvisionTimeout time.Duration `mapstructure:"provision_timeout"`
	// OutputDir is the subtree under a sandbox's work root that snapshots
	// capture by default.
	OutputDir    string `mapstructure:"output_dir"`
	TemplatesDir string `mapstructure:"templates_dir"`
	// LocalRoot is where the local provider keeps sandbox directories.
	LocalRoot string `mapstructure:"local_root"`
}

type DockerConfig struct {
	MaxMemory string   `mapstructure:"max_memory"`
	Network   bool     `mapstructure:"network"`
	Images    []string `mapstructure:"images"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Docker  DockerConfig  `mapstructure:"docker"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("renderbox")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.renderbox")

	home := os.Getenv("HOME")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.log_level", "INFO")
	v.SetDefault("storage.db_path", filepath.Join(home, ".renderbox", "renderbox.db"))
	v.SetDefault("storage.blob_dir", filepath.Join(home, ".renderbox", "snapshots"))
	v.SetDefault("sandbox.provider", "docker")
	v.SetDefault("sandbox.idle_after", 5*time.Minute)
	v.SetDefault("sandbox.idle_ttl", 30*time.Minute)
	v.SetDefault("sandbox.reap_interval", time.Minute)
	v.SetDefault("sandbox.provision_timeout", 60*time.Second)
	v.SetDefault("sandbox.output_dir", "output")
	v.SetDefault("sandbox.local_root", filepath.Join(home, ".renderbox", "sandboxes"))
	pol := provider.DefaultPolicy()
	v.SetDefault("docker.max_memory", pol.MaxMemory)
	v.SetDefault("docker.network", pol.Network)
	v.SetDefault("docker.images", pol.Images)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults cover a dev setup.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandEnv(&cfg.Storage.DBPath)
	expandEnv(&cfg.Storage.BlobDir)
	expandEnv(&cfg.Sandbox.LocalRoot)
	expandEnv(&cfg.Sandbox.TemplatesDir)

	return &cfg, nil
}

// expandEnv resolves a ${VAR} reference to its environment value.
func expandEnv(s *string) {
	if strings.HasPrefix(*s, "${") && strings.HasSuffix(*s, "}") {
		*s = os.Getenv((*s)[2 : len(*s)-1])
	}
}
