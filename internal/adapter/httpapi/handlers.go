package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
	"github.com/DanielMax937/round-table-sub000/internal/usecase/discussion"
	"github.com/DanielMax937/round-table-sub000/internal/usecase/job"
)

// decodeBody reads a JSON request body of at most maxBodyBytes. It writes
// the error response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeBadRequest(w, "request body too large (max 1MB)")
			return false
		}
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleCreateRoundTable(w http.ResponseWriter, r *http.Request) {
	var in discussion.CreateRoundTableInput
	if !decodeBody(w, r, &in) {
		return
	}
	rt, err := s.tables.CreateRoundTable(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) handleListRoundTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.tables.ListRoundTables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if tables == nil {
		tables = []domain.RoundTable{}
	}
	writeJSON(w, http.StatusOK, tables)
}

func (s *Server) handleGetRoundTable(w http.ResponseWriter, r *http.Request) {
	rt, err := s.tables.GetRoundTable(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

type updateRoundTableRequest struct {
	Status domain.RoundTableStatus `json:"status"`
}

func (s *Server) handleUpdateRoundTable(w http.ResponseWriter, r *http.Request) {
	var req updateRoundTableRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeBadRequest(w, "status must be one of active, paused, archived")
		return
	}

	id := r.PathValue("id")
	if err := s.tables.SetStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, err)
		return
	}
	rt, err := s.tables.GetRoundTable(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) handleDeleteRoundTable(w http.ResponseWriter, r *http.Request) {
	if err := s.tables.DeleteRoundTable(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.tables.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleRunRound streams the next round as Server-Sent Events. The round
// keeps running after the client disconnects so its messages are still
// stored; the sink just stops writing.
func (s *Server) handleRunRound(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sink := newSSESink(w, s.logger)
	defer sink.Close()

	done := make(chan error, 1)
	go func() {
		_, err := s.tables.RunRound(context.WithoutCancel(r.Context()), id, sink)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && !sink.Started() {
			writeError(w, err)
		}
	case <-r.Context().Done():
		s.logger.Info("round stream client disconnected", "round_table_id", id)
	}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var in job.SubmitInput
	if !decodeBody(w, r, &in) {
		return
	}
	j, err := s.jobs.Submit(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}
