// Package pipeline defines the fixed stage sequence and the pure decision
// logic over it: which stage a position may submit next, whether a position is
// complete or stuck, and how many submissions the cluster quota admits.
//
// The stage graph is a line, not a DAG: stage k+1 becomes eligible only once
// stage k succeeded (or is disabled). All functions here are side-effect free;
// reading and writing state is the orchestrator's job.
package pipeline
