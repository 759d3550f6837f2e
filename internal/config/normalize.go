package config

import "strings"

func (c *Config) normalize() error {
	for _, field := range []*string{
		&c.Paths.MdocDir,
		&c.Paths.ProcessingDir,
		&c.Paths.LogDir,
		&c.Templates.Import,
		&c.Templates.MotionCorr,
		&c.Templates.CtfFind,
		&c.Templates.AreTomo,
		&c.Templates.Reconstruct,
	} {
		trimmed := strings.TrimSpace(*field)
		if trimmed == "" {
			*field = ""
			continue
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return err
		}
		*field = expanded
	}

	c.Cluster.Partition = strings.TrimSpace(c.Cluster.Partition)
	c.Microscope.FileType = strings.TrimPrefix(strings.TrimSpace(c.Microscope.FileType), ".")
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}
