package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	MdocDir       string `toml:"mdoc_dir"`
	ProcessingDir string `toml:"processing_dir"`
	LogDir        string `toml:"log_dir"`
}

// Cluster contains SLURM submission settings shared by every stage.
type Cluster struct {
	Partition     string `toml:"partition"`
	MaxJobs       int    `toml:"max_jobs"`
	SubmitTimeout int    `toml:"submit_timeout"`
	QueryTimeout  int    `toml:"query_timeout"`
	SbatchBinary  string `toml:"sbatch_binary"`
	SqueueBinary  string `toml:"squeue_binary"`
	SacctBinary   string `toml:"sacct_binary"`
	ScancelBinary string `toml:"scancel_binary"`
}

// Microscope contains acquisition parameters shared by every stage template.
type Microscope struct {
	PixelSize   float64 `toml:"pixel_size"`
	Voltage     float64 `toml:"voltage"`
	Cs          float64 `toml:"cs"`
	Q0          float64 `toml:"q0"`
	FrameDose   float64 `toml:"frame_dose"`
	FileType    string  `toml:"file_type"`
	GainRef     string  `toml:"gainref"`
	EERGrouping int     `toml:"eer_grouping"`
}

// Stages contains the per-stage enable switches.
type Stages struct {
	Import      bool `toml:"import"`
	MotionCorr  bool `toml:"motioncorr"`
	CtfFind     bool `toml:"ctffind"`
	AreTomo     bool `toml:"aretomo"`
	Reconstruct bool `toml:"reconstruct"`
}

// Templates binds stage names to submission script template files.
type Templates struct {
	Import      string `toml:"import"`
	MotionCorr  string `toml:"motioncorr"`
	CtfFind     string `toml:"ctffind"`
	AreTomo     string `toml:"aretomo"`
	Reconstruct string `toml:"reconstruct"`
}

// MotionCorr contains parameters for the motion correction stage.
type MotionCorr struct {
	RelionModule string `toml:"relion_module"`
	ImodModule   string `toml:"imod_module"`
	MPIs         int    `toml:"mpis"`
	Threads      int    `toml:"threads"`
	Patches      string `toml:"patches"`
}

// CtfFind contains parameters for the CTF estimation stage.
type CtfFind struct {
	Module           string  `toml:"module"`
	LowestDefocus    float64 `toml:"lowest_defocus"`
	HighestDefocus   float64 `toml:"highest_defocus"`
	MinFitResolution float64 `toml:"min_fit_resolution"`
	MaxFitResolution float64 `toml:"max_fit_resolution"`
}

// AreTomo contains parameters for the tilt-series alignment stage.
type AreTomo struct {
	Module        string  `toml:"module"`
	Thickness     int     `toml:"thickness"`
	VolumeBinning int     `toml:"volume_binning"`
	DarkTol       float64 `toml:"dark_tol"`
	AliZ          int     `toml:"ali_z"`
}

// Reconstruct contains parameters for the tomogram reconstruction stage.
type Reconstruct struct {
	RelionModule string `toml:"relion_module"`
	Binning      int    `toml:"binning"`
	Threads      int    `toml:"threads"`
}

// Workflow contains orchestration timing and retry settings.
type Workflow struct {
	PollInterval int `toml:"poll_interval"`
	MaxAttempts  int `toml:"max_attempts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tomoprep.
//
// Configuration sections by subsystem:
//   - Paths: mdoc source, processing, and log directories
//   - Cluster: SLURM partition, quota, and gateway timeouts
//   - Microscope: acquisition parameters fed to stage templates
//   - Stages: per-stage enable switches
//   - Templates: stage-to-script-template bindings
//   - MotionCorr / CtfFind / AreTomo / Reconstruct: stage parameters
//   - Workflow: polling interval and retry budget
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Cluster     Cluster     `toml:"cluster"`
	Microscope  Microscope  `toml:"microscope"`
	Stages      Stages      `toml:"stages"`
	Templates   Templates   `toml:"templates"`
	MotionCorr  MotionCorr  `toml:"motioncorr"`
	CtfFind     CtfFind     `toml:"ctffind"`
	AreTomo     AreTomo     `toml:"aretomo"`
	Reconstruct Reconstruct `toml:"reconstruct"`
	Workflow    Workflow    `toml:"workflow"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tomoprep/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tomoprep.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories required for a run.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ProcessingDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
