package pipeline

import (
	"fmt"
	"slices"
)

// State is a job's position in the pipeline.
type State string

const (
	Received     State = "received"
	Validated    State = "validated"
	Admitted     State = "admitted"
	Rejected     State = "rejected"
	Transcribing State = "transcribing"
	Completed    State = "completed"
	Failed       State = "failed"
)

var transitions = map[State][]State{
	Received:     {Validated, Rejected, Failed},
	Validated:    {Admitted, Rejected, Failed},
	Admitted:     {Transcribing, Rejected, Failed},
	Transcribing: {Completed, Failed},
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Rejected || s == Completed || s == Failed
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Job is the per-request record. It is not persisted.
type Job struct {
	ID       string  `json:"id"`
	Account  string  `json:"account,omitempty"`
	Tier     string  `json:"tier,omitempty"`
	State    State   `json:"state"`
	Filename string  `json:"filename"`
	Size     int64   `json:"size,omitempty"`
	Duration float64 `json:"duration_seconds,omitempty"`
	History  []State `json:"history"`
}

func newJob(id, account, filename string) *Job {
	return &Job{ID: id, Account: account, Filename: filename, State: Received, History: []State{Received}}
}

func (j *Job) transition(to State) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("illegal job transition %s -> %s", j.State, to)
	}
	j.State = to
	j.History = append(j.History, to)
	return nil
}
