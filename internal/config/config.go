package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Manifest struct {
		Path string
	}
	Download struct {
		DataDir    string
		ArchiveDir string
	}
	Transfer struct {
		DelayMs         int
		StreakLimit     int
		EpisodeCap      int
		BatchSize       int
		SaveEvery       int
		RecoveryPauseMs int
		TimeoutSeconds  int
		UserAgent       string
	}
	Session struct {
		Command        string
		TimeoutSeconds int
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8090")
	v.SetDefault("database.path", "data/harvest.db")
	v.SetDefault("manifest.path", "data/manifest.csv")
	v.SetDefault("download.datadir", "data/files")
	v.SetDefault("download.archivedir", "data/archives")
	v.SetDefault("transfer.delayms", 300)
	v.SetDefault("transfer.streaklimit", 10)
	v.SetDefault("transfer.episodecap", 5)
	v.SetDefault("transfer.batchsize", 1000)
	v.SetDefault("transfer.saveevery", 50)
	v.SetDefault("transfer.recoverypausems", 2000)
	v.SetDefault("transfer.timeoutseconds", 60)
	v.SetDefault("transfer.useragent", "")
	v.SetDefault("session.command", "")
	v.SetDefault("session.timeoutseconds", 300)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "harvest-archives")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// ItemDelay is the pause applied between consecutive fetches.
func (c Config) ItemDelay() time.Duration {
	return time.Duration(c.Transfer.DelayMs) * time.Millisecond
}

// RecoveryPause is the pause before re-acquiring an expired session.
func (c Config) RecoveryPause() time.Duration {
	return time.Duration(c.Transfer.RecoveryPauseMs) * time.Millisecond
}

// RequestTimeout bounds a single document fetch.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Transfer.TimeoutSeconds) * time.Second
}

// SessionTimeout bounds one session acquisition attempt.
func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutSeconds) * time.Second
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
