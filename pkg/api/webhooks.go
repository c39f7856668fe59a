package api

import (
	"encoding/json"
	"net/http"
	"time"

	orbitalerrors "github.com/orbitalci/orbital/pkg/errors"
	"github.com/orbitalci/orbital/pkg/orchestrator"
	"github.com/orbitalci/orbital/pkg/pipeline"
)

// pullRequestPayload is the common pull_request shape carried by both
// webhook bodies (spec.md §6).
type pullRequestPayload struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	HeadSHA    string `json:"head_sha"`
	BaseBranch string `json:"base_branch"`
	HeadBranch string `json:"head_branch"`
}

type prValidationRequest struct {
	Repository       string             `json:"repository"`
	PullRequest      pullRequestPayload `json:"pull_request"`
	ValidationConfig string             `json:"validation_config"`
}

type prValidationResponse struct {
	Status       string    `json:"status"`
	ValidationID string    `json:"validation_id"`
	Repository   string    `json:"repository"`
	PRNumber     int       `json:"pr_number"`
	Timestamp    time.Time `json:"timestamp"`
}

// prValidationHandler delivers the code host's "PR is ready to validate"
// notification. It resolves the workflow that opened this PR and fires
// the PR_CREATED->VALIDATING trigger, carrying an optional per-PR
// validation plan override.
func (s *Server) prValidationHandler(w http.ResponseWriter, r *http.Request) {
	var req prValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Repository == "" || req.PullRequest.Number == 0 {
		writeError(w, http.StatusBadRequest, "repository and pull_request.number are required")
		return
	}

	wf, err := s.orch.FindWorkflowByPR(req.Repository, req.PullRequest.Number)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	ev := orchestrator.ExternalEvent{
		Type:     orchestrator.TriggerPRWebhook,
		PRNumber: req.PullRequest.Number,
		HeadSHA:  req.PullRequest.HeadSHA,
	}
	if req.ValidationConfig != "" {
		plan, err := pipeline.ParsePlan([]byte(req.ValidationConfig))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid validation_config: "+err.Error())
			return
		}
		ev.ValidationPlan = plan.StepDefinitions(s.orch.Config.DefaultStepTimeout)
	}

	if err := s.orch.Dispatch(wf.ID, ev); err != nil {
		writeWorkflowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, prValidationResponse{
		Status:       "accepted",
		ValidationID: wf.ID,
		Repository:   req.Repository,
		PRNumber:     req.PullRequest.Number,
		Timestamp:    time.Now(),
	})
}

type prUpdateRequest struct {
	Repository  string             `json:"repository"`
	PullRequest pullRequestPayload `json:"pull_request"`
	Action      string             `json:"action"`
}

type prUpdateResponse struct {
	Status    string    `json:"status"`
	Action    string    `json:"action"`
	PRNumber  int       `json:"pr_number"`
	Timestamp time.Time `json:"timestamp"`
}

// prUpdateHandler delivers PR lifecycle notifications (synchronize,
// closed, merged). They drive no state transition: the owner records the
// PR number in PRHistory and publishes pr.updated, and the
// requirements-completion signals and accumulated context are left
// unchanged.
func (s *Server) prUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var req prUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Repository == "" || req.PullRequest.Number == 0 {
		writeError(w, http.StatusBadRequest, "repository and pull_request.number are required")
		return
	}

	wf, err := s.orch.FindWorkflowByPR(req.Repository, req.PullRequest.Number)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	err = s.orch.Dispatch(wf.ID, orchestrator.ExternalEvent{
		Type:     orchestrator.TriggerPRUpdate,
		PRNumber: req.PullRequest.Number,
		Action:   req.Action,
	})
	if err != nil && orbitalerrors.GetType(err) != orbitalerrors.TypeNotFound {
		writeWorkflowError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, prUpdateResponse{
		Status:    "accepted",
		Action:    req.Action,
		PRNumber:  req.PullRequest.Number,
		Timestamp: time.Now(),
	})
}
