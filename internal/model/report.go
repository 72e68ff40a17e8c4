package model

import "time"

// Stage identifies a workflow stage
type Stage string

const (
	StageInit          Stage = "INIT"
	StageTaxonomy      Stage = "RESTORE_OR_BUILD_TAXONOMY"
	StageBuildDatabase Stage = "BUILD_DATABASE"
	StageSearch        Stage = "SEARCH"
	StageFuse          Stage = "FUSE_ANNOTATIONS"
	StagePersist       Stage = "PERSIST"
	StageBackup        Stage = "BACKUP"
	StageDone          Stage = "DONE"
	StageFailed        Stage = "FAILED"
)

// StageStatus describes how a stage concluded
type StageStatus string

const (
	StatusBuilt    StageStatus = "built"    // Stage ran and produced a fresh artifact
	StatusRestored StageStatus = "restored" // Stage satisfied from the remote stash
	StatusSkipped  StageStatus = "skipped"  // Valid cache entry, stage not re-run
	StatusFailed   StageStatus = "failed"   // Stage failed; run halted here
)

// StageResult records the outcome of a single workflow stage
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Status   StageStatus   `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	Detail   string        `json:"detail,omitempty"` // Short human-readable note (counts, error text)
}

// RunReport is the per-invocation workflow report
type RunReport struct {
	RunID           string        `json:"run_id"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	Stages          []StageResult `json:"stages"`
	TargetCount     int           `json:"target_count"`
	AnnotationCount int           `json:"annotation_count"`
	HitCount        int           `json:"hit_count"`
	Warnings        []string      `json:"warnings,omitempty"` // Provider absences and other recoverable conditions
}

// Record appends a stage outcome to the report
func (r *RunReport) Record(stage Stage, status StageStatus, d time.Duration, detail string) {
	r.Stages = append(r.Stages, StageResult{Stage: stage, Status: status, Duration: d, Detail: detail})
}

// Warn appends a recoverable warning to the report
func (r *RunReport) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Failed reports whether any stage ended in a failed status
func (r *RunReport) Failed() bool {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}
