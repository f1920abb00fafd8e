package http

import (
	"github.com/keyur7523/koda/internal/ledger"
	"github.com/keyur7523/koda/internal/orchestrator"
	"github.com/keyur7523/koda/internal/runs"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// TaskRequest is the request body for POST /api/v1/tasks and POST /task.
type TaskRequest struct {
	Task     string `json:"task"`
	RepoPath string `json:"repo_path,omitempty"`
}

// TaskCreatedResponse is returned by POST /api/v1/tasks.
type TaskCreatedResponse struct {
	ID    string             `json:"id"`
	Phase orchestrator.Phase `json:"phase"`
}

// TaskResponse is returned by POST /task once the run parks or finishes.
type TaskResponse struct {
	ID      string                  `json:"id"`
	Phase   orchestrator.Phase      `json:"phase"`
	Task    string                  `json:"task"`
	Plan    []orchestrator.PlanStep `json:"plan"`
	Error   string                  `json:"error,omitempty"`
	Changes []ledger.Change         `json:"changes"`
}

func taskResponse(s runs.Snapshot) TaskResponse {
	return TaskResponse{
		ID:      s.ID,
		Phase:   s.Phase,
		Task:    s.Task,
		Plan:    s.Plan,
		Error:   s.Error,
		Changes: s.Changes,
	}
}

// ApproveRequest is the request body for the approval endpoints.
type ApproveRequest struct {
	Approved bool   `json:"approved"`
	Repo     string `json:"repo,omitempty"`
	Branch   string `json:"branch,omitempty"`
}

func (r ApproveRequest) decision() orchestrator.Decision {
	return orchestrator.Decision{Approved: r.Approved, Repo: r.Repo, Branch: r.Branch}
}

// ApproveResponse is the response body for the approval endpoints.
type ApproveResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Applied        int    `json:"applied"`
	Rejected       int    `json:"rejected"`
	Commit         string `json:"commit,omitempty"`
	PullRequestURL string `json:"pull_request_url,omitempty"`
}

func approveResponse(res runs.ApproveResult) ApproveResponse {
	out := ApproveResponse{
		Success:  true,
		Message:  res.Message,
		Applied:  res.Applied,
		Rejected: res.Rejected,
	}
	if res.Publish != nil {
		out.Commit = res.Publish.Commit
		out.PullRequestURL = res.Publish.PullRequestURL
	}
	return out
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string   `json:"content"`
	FindingsCount int      `json:"findings_count"`
	Rules         []string `json:"rules,omitempty"`
}
