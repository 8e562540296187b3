package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateStages()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxConcurrentJobs <= 0 {
		return errors.New("workflow.max_concurrent_jobs must be positive")
	}
	if c.Workflow.StaleTempMaxAgeHrs < 0 {
		return errors.New("workflow.stale_temp_max_age_hours must be >= 0")
	}
	if c.Workflow.MinFreeDiskMB < 0 {
		return errors.New("workflow.min_free_disk_mb must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateStages() error {
	for id, stage := range c.Stages {
		if len(stage.Command) == 0 {
			return fmt.Errorf("stages.%s.command must not be empty", id)
		}
		if strings.TrimSpace(stage.Command[0]) == "" {
			return fmt.Errorf("stages.%s.command executable must not be blank", id)
		}
	}
	return nil
}
