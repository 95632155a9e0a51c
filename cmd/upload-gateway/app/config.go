package app

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"bytetrade.io/web3os/upload-gateway/pkg/constants"
	"bytetrade.io/web3os/upload-gateway/pkg/upload/fileutils"
	"bytetrade.io/web3os/upload-gateway/pkg/utils"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

const (
	DefaultListenAddr = ":40030"
	DefaultBodyLimit  = 32 << 20
)

// Config is set once at startup and never changed afterwards.
type Config struct {
	// UploadDir must be an existing, writable directory.
	UploadDir  string `yaml:"upload_dir"`
	ListenAddr string `yaml:"listen_addr"`
	// BodyLimit caps the size of a whole request body, in bytes.
	BodyLimit int `yaml:"body_limit"`

	SweepSchedule  string        `yaml:"sweep_schedule"`
	TempFileMaxAge time.Duration `yaml:"temp_file_max_age"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:     DefaultListenAddr,
		BodyLimit:      DefaultBodyLimit,
		SweepSchedule:  fileutils.DefaultSweepSchedule,
		TempFileMaxAge: fileutils.DefaultTempFileAge,
	}
}

// LoadConfig layers the YAML file at path (if any) and then the environment
// over the defaults. Command line flags are applied by the caller.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(constants.UploadConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	klog.Infof("loaded config file %s", path)
	return nil
}

func (c *Config) applyEnv() error {
	c.UploadDir = utils.EnvOr(constants.UploadDir, c.UploadDir)
	c.ListenAddr = utils.EnvOr(constants.UploadListenAddr, c.ListenAddr)
	c.SweepSchedule = utils.EnvOr(constants.UploadSweepSchedule, c.SweepSchedule)

	if v := os.Getenv(constants.UploadBodyLimit); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", constants.UploadBodyLimit, v, err)
		}
		c.BodyLimit = limit
	}

	if v := os.Getenv(constants.UploadTempFileMaxAge); v != "" {
		age, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", constants.UploadTempFileMaxAge, v, err)
		}
		c.TempFileMaxAge = age
	}
	return nil
}

// Validate checks the values only; the upload directory itself is checked by NewServer.
func (c Config) Validate() error {
	var errs []error
	if c.UploadDir == "" {
		errs = append(errs, fmt.Errorf("upload directory is required (--upload-dir or %s)", constants.UploadDir))
	} else if !utils.CheckDirExist(c.UploadDir) {
		errs = append(errs, fmt.Errorf("upload directory %s does not exist or is not a directory", c.UploadDir))
	}
	if c.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("listen address is required"))
	}
	if c.BodyLimit <= 0 {
		errs = append(errs, fmt.Errorf("body limit must be positive, got %d", c.BodyLimit))
	}
	if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("sweep schedule %q: %w", c.SweepSchedule, err))
	}
	if c.TempFileMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("temp file max age must be positive, got %v", c.TempFileMaxAge))
	}
	return utils.AggregateErrs(errs)
}
