package api

import (
	"encoding/json"
	"net/http"

	orbitalerrors "github.com/orbitalci/orbital/pkg/errors"
)

// createWorkflowRequest is the POST /workflows body.
type createWorkflowRequest struct {
	ProjectID     string `json:"project_id"`
	Goal          string `json:"goal"`
	PlanningHint  string `json:"planning_hint"`
	MaxIterations int    `json:"max_iterations"`
	AutoConfirm   bool   `json:"auto_confirm"`
	AutoMergePR   bool   `json:"auto_merge_pr"`
}

func (s *Server) createWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProjectID == "" || req.Goal == "" {
		writeError(w, http.StatusBadRequest, "project_id and goal are required")
		return
	}

	wf, err := s.orch.StartWorkflow(req.ProjectID, req.Goal, req.PlanningHint, req.MaxIterations, req.AutoConfirm, req.AutoMergePR)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) getWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, err := s.orch.Workflow(id)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) cancelWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.orch.Workflow(id); err != nil {
		writeWorkflowError(w, err)
		return
	}
	s.orch.Cancel(id)
	w.WriteHeader(http.StatusAccepted)
}

func writeWorkflowError(w http.ResponseWriter, err error) {
	switch orbitalerrors.GetType(err) {
	case orbitalerrors.TypeNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case orbitalerrors.TypeInvalidTransition:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
