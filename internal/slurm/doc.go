// Package slurm is the abstraction boundary to the external batch scheduler.
//
// The Gateway interface exposes exactly three operations (submit, query
// status, cancel) and a five-value state vocabulary; no scheduler detail
// leaks past it. Client implements Gateway over the SLURM command-line tools
// (sbatch, squeue, sacct, scancel). Tests and dry runs substitute a fake.
package slurm
