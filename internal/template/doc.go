// Package template renders SLURM submission scripts from plain-text templates
// with {key} placeholders. Templates carry no conditionals or loops; any such
// logic belongs in the orchestrator, not the script.
package template
