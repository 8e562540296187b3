package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("normalize data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("normalize log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	if c.Workflow.EventBuffer <= 0 {
		c.Workflow.EventBuffer = defaultEventBuffer
	}
	if c.Workflow.ShutdownGraceSecond <= 0 {
		c.Workflow.ShutdownGraceSecond = defaultShutdownGraceSecs
	}

	if c.Stages == nil {
		c.Stages = map[string]Stage{}
	}
	normalized := make(map[string]Stage, len(c.Stages))
	for id, stage := range c.Stages {
		key := strings.ToLower(strings.TrimSpace(id))
		if key == "" {
			continue
		}
		normalized[key] = stage
	}
	c.Stages = normalized
	return nil
}
