package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"tomoprep/internal/config"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "tomoprep.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
[paths]
mdoc_dir = "~/session/mdocs"
processing_dir = "~/session/processing"
log_dir = "~/session/logs"

[cluster]
partition = "emgpu"

[microscope]
pixel_size = 1.7
voltage = 300.0
file_type = ".eer"

[stages]
import = true
motioncorr = false
ctffind = false
aretomo = false
reconstruct = false

[templates]
import = "~/templates/import_slurm.sh"
`

func TestLoadExpandsPathsAndNormalizes(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := writeConfig(t, t.TempDir(), minimalConfig)
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected existing config at %s, got %s (%v)", path, resolved, exists)
	}

	if want := filepath.Join(tempHome, "session", "mdocs"); cfg.Paths.MdocDir != want {
		t.Fatalf("mdoc_dir = %q, want %q", cfg.Paths.MdocDir, want)
	}
	if want := filepath.Join(tempHome, "templates", "import_slurm.sh"); cfg.Templates.Import != want {
		t.Fatalf("templates.import = %q, want %q", cfg.Templates.Import, want)
	}
	if cfg.Microscope.FileType != "eer" {
		t.Fatalf("file_type not normalized: %q", cfg.Microscope.FileType)
	}

	// Unset fields fall back to defaults.
	if cfg.Cluster.MaxJobs != config.Default().Cluster.MaxJobs {
		t.Fatalf("max_jobs = %d, want default", cfg.Cluster.MaxJobs)
	}
	if cfg.Workflow.MaxAttempts != config.Default().Workflow.MaxAttempts {
		t.Fatalf("max_attempts = %d, want default", cfg.Workflow.MaxAttempts)
	}
}

func TestLoadWithoutConfigFileFailsValidation(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	chdirTemp(t)

	// Defaults carry no partition or templates, so a bare Load cannot succeed.
	_, _, _, err := config.Load("")
	if err == nil {
		t.Fatal("expected validation error without a config file")
	}
	if !strings.Contains(err.Error(), "cluster.partition") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRequiresTemplatesForEnabledStages(t *testing.T) {
	body := strings.Replace(minimalConfig, `import = "~/templates/import_slurm.sh"`, `import = ""`, 1)
	path := writeConfig(t, t.TempDir(), body)

	_, _, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for enabled stage without template")
	}
	if !strings.Contains(err.Error(), "templates.import") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRequiresStageModules(t *testing.T) {
	cfg := config.Default()
	cfg.Paths = config.Paths{MdocDir: "/a", ProcessingDir: "/b", LogDir: "/c"}
	cfg.Cluster.Partition = "emgpu"
	cfg.Microscope.PixelSize = 1.35
	cfg.Microscope.Voltage = 300
	cfg.Templates = config.Templates{
		Import:      "/t/import.sh",
		MotionCorr:  "/t/mc.sh",
		CtfFind:     "/t/ctf.sh",
		AreTomo:     "/t/aretomo.sh",
		Reconstruct: "/t/rec.sh",
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing motioncorr module")
	}
	if !strings.Contains(err.Error(), "motioncorr.relion_module") {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.MotionCorr.RelionModule = "RELION/5.0"
	cfg.CtfFind.Module = "ctffind/4"
	cfg.AreTomo.Module = "AreTomo/1.3"
	cfg.Reconstruct.RelionModule = "RELION/5.0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsBadWorkflowSettings(t *testing.T) {
	path := writeConfig(t, t.TempDir(), minimalConfig+`
[workflow]
max_attempts = 0
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "max_attempts") {
		t.Fatalf("expected max_attempts error, got %v", err)
	}
}

func TestCreateSampleParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	cfg := config.Default()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	if cfg.Cluster.Partition == "" {
		t.Fatal("sample config has no partition")
	}
	if !cfg.Stages.Import || !cfg.Stages.Reconstruct {
		t.Fatal("sample config should enable all stages")
	}
}

func TestExpandPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	got, err := config.ExpandPath("~/data/session")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if got != filepath.Join(tempHome, "data", "session") {
		t.Fatalf("ExpandPath = %q", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ProcessingDir = filepath.Join(base, "processing")
	cfg.Paths.LogDir = filepath.Join(base, "logs", "nested")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.ProcessingDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("directory %s not created: %v", dir, err)
		}
	}
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(wd)
	})
}
