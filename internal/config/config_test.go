// Package config provides configuration management for storyline.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir string
}

func (s *ConfigSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	for _, key := range []string{
		"STORYLINE_DATABASE_DSN", "STORYLINE_DATABASE_DRIVER", "STORYLINE_WORKER_PORT",
		"STORYLINE_WIKIFIER_KEY", "STORYLINE_LOG_LEVEL", "STORYLINE_EXCLUDED_SOURCES",
	} {
		s.T().Setenv(key, "")
	}
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) writeConfig(body string) string {
	path := filepath.Join(s.tempDir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(body), 0600))
	return path
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(50, cfg.Pipeline.BatchSize)
	s.Equal(40, cfg.Pipeline.MinTokens)
	s.Equal(90*time.Minute, cfg.Pipeline.Interval)
	s.Equal(180*time.Minute, cfg.Pipeline.FetchWindow)
	s.InDelta(0.50, cfg.Clustering.SimilarityThreshold, 1e-9)
	s.Equal(24*time.Hour, cfg.Clustering.RecentWindow)
	s.Equal([]string{"Independent"}, cfg.Clustering.ExcludedSources)
	s.Equal(30, cfg.Entities.RetentionDays)
	s.Equal(5, cfg.Entities.MaxAttempts)
	s.Equal(DefaultWorkerPort, cfg.Worker.Port)
	s.Greater(cfg.Pipeline.Workers, 0)
	s.NoError(cfg.Validate())
}

// TestSettingsPath tests the settings path lives under the XDG config dir.
func (s *ConfigSuite) TestSettingsPath() {
	s.Contains(SettingsPath(), filepath.Join("storyline", "config.yaml"))
}

func (s *ConfigSuite) TestLoad_MissingFileUsesDefaults() {
	cfg, err := Load(filepath.Join(s.tempDir, "absent.yaml"))
	s.Require().NoError(err)
	s.Equal(Default().Pipeline.BatchSize, cfg.Pipeline.BatchSize)
}

func (s *ConfigSuite) TestLoad_MergesFile() {
	path := s.writeConfig(`
pipeline:
  batch_size: 20
  interval: 45m
clustering:
  similarity_threshold: 0.6
  excluded_sources: [Independent, Tabloid Daily]
`)

	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Equal(20, cfg.Pipeline.BatchSize)
	s.Equal(45*time.Minute, cfg.Pipeline.Interval)
	s.InDelta(0.6, cfg.Clustering.SimilarityThreshold, 1e-9)
	s.Equal([]string{"Independent", "Tabloid Daily"}, cfg.Clustering.ExcludedSources)
	// untouched sections keep defaults
	s.Equal(30, cfg.Entities.RetentionDays)
}

func (s *ConfigSuite) TestLoad_EnvOverrides() {
	s.T().Setenv("STORYLINE_DATABASE_DSN", "postgres://env/db")
	s.T().Setenv("STORYLINE_WORKER_PORT", "4000")
	s.T().Setenv("STORYLINE_EXCLUDED_SOURCES", "A, B ,")

	cfg, err := Load(filepath.Join(s.tempDir, "absent.yaml"))
	s.Require().NoError(err)
	s.Equal("postgres://env/db", cfg.Database.DSN)
	s.Equal(4000, cfg.Worker.Port)
	s.Equal([]string{"A", "B"}, cfg.Clustering.ExcludedSources)
}

func (s *ConfigSuite) TestLoad_InvalidFile() {
	path := s.writeConfig("pipeline: [not, a, map")
	_, err := Load(path)
	s.Error(err)
}

func (s *ConfigSuite) TestValidate() {
	tests := []struct {
		mutate func(*Config)
		name   string
	}{
		{name: "zero batch size", mutate: func(c *Config) { c.Pipeline.BatchSize = 0 }},
		{name: "threshold above one", mutate: func(c *Config) { c.Clustering.SimilarityThreshold = 1.5 }},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }},
		{name: "no attempts", mutate: func(c *Config) { c.Entities.MaxAttempts = 0 }},
		{name: "empty dsn", mutate: func(c *Config) { c.Database.DSN = "" }},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			cfg := Default()
			tt.mutate(cfg)
			s.Error(cfg.Validate())
		})
	}
}

func (s *ConfigSuite) TestExcludedSourceSet() {
	cfg := Default()
	set := cfg.ExcludedSourceSet()
	s.Contains(set, "Independent")
	s.Len(set, 1)
}
