package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/workflow"
)

// handleExecuteDefinition runs a workflow supplied in the request body.
// Execution is asynchronous; the response carries only the execution id.
func (s *Server) handleExecuteDefinition(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body failed")
		return
	}

	wf, err := workflow.Parse(data)
	if err != nil {
		writeValidation(w, err)
		return
	}

	s.submitWorkflow(w, r, wf)
}

// handleExecuteNamed runs a workflow from the loaded definitions.
func (s *Server) handleExecuteNamed(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeNotFound(w, "no workflow definitions loaded")
		return
	}

	name := chi.URLParam(r, "name")
	wf, err := s.workflows.Get(name)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			writeNotFound(w, "workflow not found")
			return
		}
		writeInternalError(w, "loading workflow failed")
		return
	}

	s.submitWorkflow(w, r, wf)
}

func (s *Server) submitWorkflow(w http.ResponseWriter, r *http.Request, wf *workflow.Workflow) {
	id, err := workflow.Submit(s.sys, wf, "api:"+callerFrom(r.Context()))
	if err != nil {
		s.logger.Error("submitting workflow failed",
			"target", workflow.PoolName,
			"workflow", wf.Name,
			"error", err,
		)
		if errors.Is(err, actor.ErrNotRegistered) {
			writeUnavailable(w, "workflow engine")
			return
		}
		writeInternalError(w, "workflow could not be submitted")
		return
	}

	s.logger.Info("workflow accepted", "workflow", wf.Name, "execution_id", id)
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", ExecutionID: id})
}
