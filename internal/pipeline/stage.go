package pipeline

import (
	"math"
	"strconv"

	"tomoprep/internal/config"
)

// Stage names in pipeline order.
const (
	StageImport      = "import"
	StageMotionCorr  = "motioncorr"
	StageCtfFind     = "ctffind"
	StageAreTomo     = "aretomo"
	StageReconstruct = "reconstruct"
)

// Stage is one step of the fixed pipeline. Stages are built once at startup
// from configuration and never change during a run.
type Stage struct {
	Name         string
	Ordinal      int
	TemplatePath string
	Enabled      bool
	// Params are the configuration-derived template values for this stage.
	// Position-specific values (position_prefix, position_directory) are
	// merged in at render time.
	Params map[string]string
	// SuccessMarker is the artifact, relative to the position's working
	// directory, whose existence confirms the stage produced usable output.
	// It may reference the position_prefix placeholder.
	SuccessMarker string
}

// Stages builds the ordered stage list from configuration.
func Stages(cfg *config.Config) []Stage {
	common := commonParams(cfg)

	stages := []Stage{
		{
			Name:          StageImport,
			TemplatePath:  cfg.Templates.Import,
			Enabled:       cfg.Stages.Import,
			Params:        merge(common, map[string]string{}),
			SuccessMarker: "{position_prefix}.rawtlt",
		},
		{
			Name:         StageMotionCorr,
			TemplatePath: cfg.Templates.MotionCorr,
			Enabled:      cfg.Stages.MotionCorr,
			Params: merge(common, map[string]string{
				"relion_module":      cfg.MotionCorr.RelionModule,
				"imod_module":        cfg.MotionCorr.ImodModule,
				"MPIs":               strconv.Itoa(cfg.MotionCorr.MPIs),
				"threads":            strconv.Itoa(cfg.MotionCorr.Threads),
				"motioncorr_patches": cfg.MotionCorr.Patches,
				"frame_dose":         formatFloat(cfg.Microscope.FrameDose),
				"eer_grouping":       strconv.Itoa(cfg.Microscope.EERGrouping),
				"gainref":            cfg.Microscope.GainRef,
			}),
			SuccessMarker: "MotionCorr/job002/RELION_JOB_EXIT_SUCCESS",
		},
		{
			Name:         StageCtfFind,
			TemplatePath: cfg.Templates.CtfFind,
			Enabled:      cfg.Stages.CtfFind,
			Params: merge(common, map[string]string{
				"ctffind_module": cfg.CtfFind.Module,
				// Defocus search bounds arrive in micrometers and the
				// templates expect Angstrom.
				"min_defocus_search":     formatFloat(math.Abs(cfg.CtfFind.LowestDefocus * 10000)),
				"max_defocus_search":     formatFloat(math.Abs(cfg.CtfFind.HighestDefocus * 10000)),
				"min_ctf_fit_resolution": formatFloat(cfg.CtfFind.MinFitResolution),
				"max_ctf_fit_resolution": formatFloat(cfg.CtfFind.MaxFitResolution),
			}),
			SuccessMarker: "CTF/{position_prefix}.txt",
		},
		{
			Name:         StageAreTomo,
			TemplatePath: cfg.Templates.AreTomo,
			Enabled:      cfg.Stages.AreTomo,
			Params: merge(common, map[string]string{
				"aretomo_module":         cfg.AreTomo.Module,
				"MPIs":                   strconv.Itoa(cfg.MotionCorr.MPIs),
				"threads":                strconv.Itoa(cfg.MotionCorr.Threads),
				"aretomo_thickness":      strconv.Itoa(cfg.AreTomo.Thickness),
				"aretomo_volume_binning": strconv.Itoa(cfg.AreTomo.VolumeBinning),
				"aretomo_DarkTol":        formatFloat(cfg.AreTomo.DarkTol),
				"aretomo_AliZ":           strconv.Itoa(cfg.AreTomo.AliZ),
			}),
			SuccessMarker: "{position_prefix}_Imod/{position_prefix}.tlt",
		},
		{
			Name:         StageReconstruct,
			TemplatePath: cfg.Templates.Reconstruct,
			Enabled:      cfg.Stages.Reconstruct,
			Params: merge(common, map[string]string{
				"relion_module":            cfg.Reconstruct.RelionModule,
				"tomo_reconstruct_binning": strconv.Itoa(cfg.Reconstruct.Binning),
				"tomo_reconstruct_threads": strconv.Itoa(cfg.Reconstruct.Threads),
			}),
			SuccessMarker: "{position_prefix}_rec.mrc",
		},
	}

	for i := range stages {
		stages[i].Ordinal = i
	}
	return stages
}

func commonParams(cfg *config.Config) map[string]string {
	return map[string]string{
		"processing_directory": cfg.Paths.ProcessingDir,
		"partition":            cfg.Cluster.Partition,
		"pixel_size":           formatFloat(cfg.Microscope.PixelSize),
		"voltage":              formatFloat(cfg.Microscope.Voltage),
		"Cs":                   formatFloat(cfg.Microscope.Cs),
		"Q0":                   formatFloat(cfg.Microscope.Q0),
		"file_type":            cfg.Microscope.FileType,
	}
}

func merge(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
