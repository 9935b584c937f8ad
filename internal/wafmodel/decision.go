package wafmodel

import "time"

// DecisionRecord is the durable, persisted union of a Verdict, the
// Request that produced it, and its GeoAttribution, plus the fields
// the Event Log Store assigns and the optional human-review overlay.
//
// Once Id is assigned by the store it is immutable; Timestamp is
// stamped at gateway entry, not at persistence time, so it reflects
// when the request arrived rather than when the write landed.
type DecisionRecord struct {
	Id        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Request
	GeoAttribution
	Verdict

	// Hash is the verdict-cache digest computed for this request.
	// Stored for debugging cache coherence; never used as a lookup
	// key itself.
	Hash string `json:"hash"`

	// PipelineStage names which of the six decision stages
	// terminated the request. Kept distinct from DecidedBy so a
	// future stage can short-circuit without renegotiating
	// DecidedBy's enum contract.
	PipelineStage string `json:"pipeline_stage"`

	HumanDecision   *Action    `json:"human_decision,omitempty"`
	HumanReviewer   *string    `json:"human_reviewer,omitempty"`
	HumanReviewedAt *time.Time `json:"human_reviewed_at,omitempty"`
	HumanNotes      *string    `json:"human_notes,omitempty"`
}

// TrainingRow is a row copied from a DecisionRecord into the training
// table by promote_to_training. Idempotent on (DecisionId,
// LabeledBy) at the store layer.
type TrainingRow struct {
	DecisionId   int64        `json:"decision_id"`
	Features     FeatureVector `json:"features"`
	AttackFamily AttackFamily  `json:"attack_family,omitempty"`
	IsMalicious  bool          `json:"is_malicious"`
	LabeledBy    string        `json:"labeled_by"`
	LabeledAt    time.Time     `json:"labeled_at"`
}
