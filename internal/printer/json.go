package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/agentbox/internal/app/run"
	"github.com/slok/agentbox/internal/model"
)

// JSONPrinter prints agentbox information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type sessionOutput struct {
	ProjectID         string    `json:"project_id"`
	SandboxID         string    `json:"sandbox_id"`
	State             string    `json:"state"`
	LastActivity      time.Time `json:"last_activity"`
	BackgroundProcess string    `json:"background_process,omitempty"`
}

type pausedOutput struct {
	ProjectID string    `json:"project_id"`
	SandboxID string    `json:"sandbox_id"`
	PausedAt  time.Time `json:"paused_at"`
}

type snapshotOutput struct {
	Files        []string          `json:"files"`
	SizeBytes    int64             `json:"size_bytes"`
	Dependencies map[string]string `json:"dependencies"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type stepOutput struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Runs     int    `json:"runs"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

type checkpointOutput struct {
	CompletedSteps []string `json:"completed_steps"`
	FailedSteps    []string `json:"failed_steps"`
}

type runOutput struct {
	Success     bool             `json:"success"`
	FailedStep  string           `json:"failed_step,omitempty"`
	Recoveries  int              `json:"recoveries"`
	Steps       []stepOutput     `json:"steps"`
	Unstable    []string         `json:"unstable"`
	Frequencies map[string]int   `json:"backtrack_frequencies"`
	Checkpoint  checkpointOutput `json:"checkpoint"`
}

type messageOutput struct {
	Message string `json:"message"`
}

// PrintSessions prints sessions in JSON format.
func (j *JSONPrinter) PrintSessions(sessions []model.SessionInfo) error {
	items := make([]sessionOutput, len(sessions))
	for i, s := range sessions {
		items[i] = sessionOutput{
			ProjectID:         s.ProjectID,
			SandboxID:         s.SandboxID,
			State:             string(s.State),
			LastActivity:      s.LastActivity.UTC(),
			BackgroundProcess: s.BackgroundProcess,
		}
	}

	return j.encode(items)
}

// PrintPaused prints a paused session in JSON format.
func (j *JSONPrinter) PrintPaused(ps model.PausedSession) error {
	return j.encode(pausedOutput{
		ProjectID: ps.ProjectID,
		SandboxID: ps.SandboxID,
		PausedAt:  ps.PausedAt.UTC(),
	})
}

// PrintSnapshot prints a snapshot summary in JSON format, file contents are not included.
func (j *JSONPrinter) PrintSnapshot(s model.FileSnapshot) error {
	deps := s.Dependencies
	if deps == nil {
		deps = map[string]string{}
	}

	return j.encode(snapshotOutput{
		Files:        s.Paths(),
		SizeBytes:    SnapshotSize(s),
		Dependencies: deps,
		UpdatedAt:    s.UpdatedAt.UTC(),
	})
}

// PrintRunResult prints a plan run result in JSON format.
func (j *JSONPrinter) PrintRunResult(res run.Result) error {
	out := runOutput{
		Success:     res.Success,
		FailedStep:  res.FailedStep,
		Recoveries:  res.Recoveries,
		Steps:       make([]stepOutput, 0, len(res.Steps)),
		Unstable:    res.Unstable,
		Frequencies: res.History.Frequencies,
		Checkpoint: checkpointOutput{
			CompletedSteps: res.Checkpoint.CompletedTasks,
			FailedSteps:    res.Checkpoint.FailedTasks,
		},
	}
	if out.Unstable == nil {
		out.Unstable = []string{}
	}
	for _, s := range res.Steps {
		out.Steps = append(out.Steps, stepOutput{
			ID:       s.ID,
			Status:   string(s.Status),
			Runs:     s.Runs,
			ExitCode: s.ExitCode,
			Error:    s.Error,
		})
	}

	return j.encode(out)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
