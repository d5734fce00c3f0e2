package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/peergrade/peergrade/pkg/vancouver"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName = "config.yaml"

	dirMode  = 0700
	fileMode = 0600
)

// Config is the per-course run configuration, read from
// ~/.peergrade/config.yaml. Algorithm parameters are copied out of it
// into an explicit vancouver.Parameters value at grading time; nothing
// reads this struct as ambient state.
type Config struct {
	Course     Course               `yaml:"course"`
	Scale      vancouver.Scale      `yaml:"scale"`
	Assignment Assignment           `yaml:"assignment"`
	Tokens     Tokens               `yaml:"tokens"`
	SMTP       SMTP                 `yaml:"smtp"`
	Server     Server               `yaml:"server"`
	Algorithm  vancouver.Parameters `yaml:"algorithm"`
}

type Course struct {
	Name     string `yaml:"name"`
	Term     string `yaml:"term"`
	Exam     string `yaml:"exam"`
	Deadline string `yaml:"deadline"`
}

type Assignment struct {
	// Mode is "balanced" (ring shift, every paper reviewed the same
	// number of times) or "random".
	Mode       string `yaml:"mode"`
	PerStudent int    `yaml:"perStudent"`
	AllowSelf  bool   `yaml:"allowSelf"`
	Seed       int64  `yaml:"seed"`
}

type Tokens struct {
	Issuer     string `yaml:"issuer"`
	ExpiryDays int    `yaml:"expiryDays"`
}

type SMTP struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	FromName    string `yaml:"fromName"`
	FromAddress string `yaml:"fromAddress"`
	// DelayMS paces batch sends to stay under relay rate limits.
	DelayMS int `yaml:"delayMs"`
}

type Server struct {
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"baseUrl"`
}

func defaultConfig() *Config {
	return &Config{
		Course: Course{
			Name: "Course Name",
			Exam: "Midterm",
		},
		Scale: vancouver.Scale{Min: 1, Max: 10},
		Assignment: Assignment{
			Mode:       "balanced",
			PerStudent: 4,
			AllowSelf:  false,
			Seed:       1,
		},
		Tokens: Tokens{
			Issuer:     "peergrade",
			ExpiryDays: 14,
		},
		SMTP: SMTP{
			Port:    587,
			DelayMS: 500,
		},
		Server: Server{
			Port:    8080,
			BaseURL: "http://127.0.0.1:8080",
		},
		Algorithm: vancouver.DefaultParameters(),
	}
}

// Save writes the config to dirPath/config.yaml.
func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	if c == nil {
		return errors.New("config required")
	}

	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	path := filepath.Join(dirPath, ConfigFileName)
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// ReadOrCreate reads the config from dirPath, writing the defaults
// first if no file exists yet.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}

	if _, err := os.Stat(dirPath); errors.Is(err, os.ErrNotExist) {
		if err := os.Mkdir(dirPath, dirMode); err != nil {
			return nil, fmt.Errorf("creating config dir %s: %w", dirPath, err)
		}
	}

	path := filepath.Join(dirPath, ConfigFileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(dirPath, defaultConfig()); err != nil {
			return nil, fmt.Errorf("creating default config: %w", err)
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling config file %s: %w", path, err)
	}
	return &c, nil
}
