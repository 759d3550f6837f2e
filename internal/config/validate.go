package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable. Missing required settings for
// an enabled stage fail here, before any discovery or submission happens.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCluster(); err != nil {
		return err
	}
	if err := c.validateMicroscope(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.MdocDir == "" {
		return errors.New("paths.mdoc_dir must be set")
	}
	if c.Paths.ProcessingDir == "" {
		return errors.New("paths.processing_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateCluster() error {
	if c.Cluster.Partition == "" {
		return errors.New("cluster.partition must be set")
	}
	if c.Cluster.MaxJobs < 1 {
		return errors.New("cluster.max_jobs must be at least 1")
	}
	if c.Cluster.SubmitTimeout < 1 || c.Cluster.QueryTimeout < 1 {
		return errors.New("cluster timeouts must be at least 1 second")
	}
	return nil
}

func (c *Config) validateMicroscope() error {
	if !c.anyStageEnabled() {
		return nil
	}
	if c.Microscope.PixelSize <= 0 {
		return errors.New("microscope.pixel_size must be positive")
	}
	if c.Microscope.Voltage <= 0 {
		return errors.New("microscope.voltage must be positive")
	}
	if c.Microscope.FileType == "" {
		return errors.New("microscope.file_type must be set")
	}
	return nil
}

func (c *Config) validateStages() error {
	type stage struct {
		name     string
		enabled  bool
		template string
	}
	stages := []stage{
		{"import", c.Stages.Import, c.Templates.Import},
		{"motioncorr", c.Stages.MotionCorr, c.Templates.MotionCorr},
		{"ctffind", c.Stages.CtfFind, c.Templates.CtfFind},
		{"aretomo", c.Stages.AreTomo, c.Templates.AreTomo},
		{"reconstruct", c.Stages.Reconstruct, c.Templates.Reconstruct},
	}
	for _, s := range stages {
		if s.enabled && s.template == "" {
			return fmt.Errorf("templates.%s must be set when stages.%s is enabled", s.name, s.name)
		}
	}

	if c.Stages.MotionCorr {
		if c.MotionCorr.RelionModule == "" {
			return errors.New("motioncorr.relion_module must be set when stages.motioncorr is enabled")
		}
		if c.MotionCorr.Threads < 1 || c.MotionCorr.MPIs < 1 {
			return errors.New("motioncorr.threads and motioncorr.mpis must be at least 1")
		}
	}
	if c.Stages.CtfFind {
		if c.CtfFind.Module == "" {
			return errors.New("ctffind.module must be set when stages.ctffind is enabled")
		}
		if c.CtfFind.LowestDefocus == 0 || c.CtfFind.HighestDefocus == 0 {
			return errors.New("ctffind defocus search range must be set")
		}
	}
	if c.Stages.AreTomo {
		if c.AreTomo.Module == "" {
			return errors.New("aretomo.module must be set when stages.aretomo is enabled")
		}
		if c.AreTomo.Thickness < 1 {
			return errors.New("aretomo.thickness must be positive")
		}
	}
	if c.Stages.Reconstruct {
		if c.Reconstruct.RelionModule == "" {
			return errors.New("reconstruct.relion_module must be set when stages.reconstruct is enabled")
		}
		if c.Reconstruct.Threads < 1 {
			return errors.New("reconstruct.threads must be at least 1")
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollInterval < 1 {
		return errors.New("workflow.poll_interval must be at least 1 second")
	}
	if c.Workflow.MaxAttempts < 1 {
		return errors.New("workflow.max_attempts must be at least 1")
	}
	return nil
}

func (c *Config) anyStageEnabled() bool {
	return c.Stages.Import || c.Stages.MotionCorr || c.Stages.CtfFind ||
		c.Stages.AreTomo || c.Stages.Reconstruct
}
