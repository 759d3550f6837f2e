package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"tomoprep/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// Stage submission templates written for tests. The placeholders mirror the
// values stage construction feeds the renderer so rendered scripts have no
// unresolved keys.
var stageTemplates = map[string]string{
	"import": `#!/bin/bash
#SBATCH --partition={partition}
#SBATCH --job-name=import_{position_prefix}
cd {position_directory}
relion_import --i {position_prefix}.{file_type} --angpix {pixel_size} --kV {voltage}
`,
	"motioncorr": `#!/bin/bash
#SBATCH --partition={partition}
#SBATCH --job-name=mc_{position_prefix}
module load {relion_module} {imod_module}
cd {position_directory}
mpirun -n {MPIs} relion_run_motioncorr --j {threads} --patch {motioncorr_patches} \
  --dose_per_frame {frame_dose} --eer_grouping {eer_grouping} --gainref {gainref}
`,
	"ctffind": `#!/bin/bash
#SBATCH --partition={partition}
#SBATCH --job-name=ctf_{position_prefix}
module load {ctffind_module}
cd {position_directory}
relion_run_ctffind --dFMin {min_defocus_search} --dFMax {max_defocus_search} \
  --resMin {min_ctf_fit_resolution} --resMax {max_ctf_fit_resolution} \
  --CS {Cs} --HT {voltage} --AmpCnst {Q0}
`,
	"aretomo": `#!/bin/bash
#SBATCH --partition={partition}
#SBATCH --job-name=aretomo_{position_prefix}
module load {aretomo_module}
cd {position_directory}
AreTomo -InMrc {position_prefix}.mrc -VolZ {aretomo_thickness} \
  -OutBin {aretomo_volume_binning} -DarkTol {aretomo_DarkTol} -AlignZ {aretomo_AliZ}
`,
	"reconstruct": `#!/bin/bash
#SBATCH --partition={partition}
#SBATCH --job-name=rec_{position_prefix}
module load {relion_module}
cd {position_directory}
relion_tomo_reconstruct --bin {tomo_reconstruct_binning} --j {tomo_reconstruct_threads} \
  --o {position_prefix}_rec.mrc
`,
}

// NewConfig produces a validated config seeded with unique temp directories
// and on-disk stage templates per test. It defaults microscope and stage
// parameters to realistic values and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.MdocDir = filepath.Join(base, "mdocs")
	cfgVal.Paths.ProcessingDir = filepath.Join(base, "processing")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Cluster.Partition = "emgpu"
	cfgVal.Microscope.PixelSize = 1.35
	cfgVal.Microscope.Voltage = 300
	cfgVal.Microscope.Cs = 2.7
	cfgVal.Microscope.Q0 = 0.1
	cfgVal.Microscope.FrameDose = 0.15
	cfgVal.Microscope.GainRef = filepath.Join(base, "gainref.mrc")
	cfgVal.MotionCorr.RelionModule = "relion/4.0.1"
	cfgVal.MotionCorr.ImodModule = "imod/4.11.24"
	cfgVal.CtfFind.Module = "ctffind/4.1.14"
	cfgVal.AreTomo.Module = "aretomo/1.3.4"
	cfgVal.Reconstruct.RelionModule = "relion/4.0.1"

	for _, dir := range []string{cfgVal.Paths.MdocDir, cfgVal.Paths.ProcessingDir, cfgVal.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	templateDir := filepath.Join(base, "templates")
	if err := os.MkdirAll(templateDir, 0o755); err != nil {
		t.Fatalf("mkdir templates: %v", err)
	}
	paths := make(map[string]string, len(stageTemplates))
	for name, body := range stageTemplates {
		target := filepath.Join(templateDir, name+".sh.template")
		if err := os.WriteFile(target, []byte(body), 0o644); err != nil {
			t.Fatalf("write template %s: %v", name, err)
		}
		paths[name] = target
	}
	cfgVal.Templates.Import = paths["import"]
	cfgVal.Templates.MotionCorr = paths["motioncorr"]
	cfgVal.Templates.CtfFind = paths["ctffind"]
	cfgVal.Templates.AreTomo = paths["aretomo"]
	cfgVal.Templates.Reconstruct = paths["reconstruct"]

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}

	return builder.cfg
}

// WithMaxJobs caps the number of concurrently submitted cluster jobs.
func WithMaxJobs(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cluster.MaxJobs = n
	}
}

// WithMaxAttempts sets the retry budget per stage.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxAttempts = n
	}
}

// WithOnlyStages enables exactly the named stages and disables the rest.
func WithOnlyStages(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stages.Import = false
		b.cfg.Stages.MotionCorr = false
		b.cfg.Stages.CtfFind = false
		b.cfg.Stages.AreTomo = false
		b.cfg.Stages.Reconstruct = false
		for _, name := range names {
			switch name {
			case "import":
				b.cfg.Stages.Import = true
			case "motioncorr":
				b.cfg.Stages.MotionCorr = true
			case "ctffind":
				b.cfg.Stages.CtfFind = true
			case "aretomo":
				b.cfg.Stages.AreTomo = true
			case "reconstruct":
				b.cfg.Stages.Reconstruct = true
			default:
				b.t.Fatalf("unknown stage %q", name)
			}
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.MdocDir)
}
