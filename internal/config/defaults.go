package config

const (
	defaultMdocDir       = "~/mdocs"
	defaultProcessingDir = "~/processing"
	defaultLogDir        = "~/.local/share/tomoprep/logs"
	defaultMaxJobs       = 20
	defaultSubmitTimeout = 60
	defaultQueryTimeout  = 30
	defaultSbatchBinary  = "sbatch"
	defaultSqueueBinary  = "squeue"
	defaultSacctBinary   = "sacct"
	defaultScancelBinary = "scancel"
	defaultFileType      = "mrc"
	defaultPollInterval  = 30
	defaultMaxAttempts   = 3
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			MdocDir:       defaultMdocDir,
			ProcessingDir: defaultProcessingDir,
			LogDir:        defaultLogDir,
		},
		Cluster: Cluster{
			MaxJobs:       defaultMaxJobs,
			SubmitTimeout: defaultSubmitTimeout,
			QueryTimeout:  defaultQueryTimeout,
			SbatchBinary:  defaultSbatchBinary,
			SqueueBinary:  defaultSqueueBinary,
			SacctBinary:   defaultSacctBinary,
			ScancelBinary: defaultScancelBinary,
		},
		Microscope: Microscope{
			FileType:    defaultFileType,
			EERGrouping: 1,
		},
		Stages: Stages{
			Import:      true,
			MotionCorr:  true,
			CtfFind:     true,
			AreTomo:     true,
			Reconstruct: true,
		},
		MotionCorr: MotionCorr{
			MPIs:    1,
			Threads: 8,
			Patches: "5 5",
		},
		CtfFind: CtfFind{
			LowestDefocus:    -0.5,
			HighestDefocus:   -5,
			MinFitResolution: 30,
			MaxFitResolution: 5,
		},
		AreTomo: AreTomo{
			Thickness:     1200,
			VolumeBinning: 4,
			DarkTol:       0.7,
			AliZ:          800,
		},
		Reconstruct: Reconstruct{
			Binning: 4,
			Threads: 8,
		},
		Workflow: Workflow{
			PollInterval: defaultPollInterval,
			MaxAttempts:  defaultMaxAttempts,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
