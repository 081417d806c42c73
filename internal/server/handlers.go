package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/georep/georep/internal/replication"
)

// APIResponse is the envelope for every JSON response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) writeJSONWithStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
	logrus.WithField("error", message).WithField("status", statusCode).Warn("API error")
}

// writeEngineError maps engine sentinel errors onto HTTP status codes
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, replication.ErrRegionNotFound),
		errors.Is(err, replication.ErrGroupNotFound),
		errors.Is(err, replication.ErrSnapshotNotFound):
		s.writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, replication.ErrInvalidConfig):
		s.writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, replication.ErrDuplicateRegion),
		errors.Is(err, replication.ErrFailoverInProgress):
		s.writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, replication.ErrNoEligibleCandidate):
		s.writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).String(),
	})
}

// Region handlers

func (s *Server) handleRegisterRegion(w http.ResponseWriter, r *http.Request) {
	var region replication.Region
	if err := json.NewDecoder(r.Body).Decode(&region); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.RegisterRegion(r.Context(), &region); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSONWithStatus(w, http.StatusCreated, region)
}

func (s *Server) handleListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.engine.ListRegions(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, regions)
}

func (s *Server) handleGetRegion(w http.ResponseWriter, r *http.Request) {
	region, err := s.engine.GetRegion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, region)
}

// Group handlers

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var group replication.ReplicationGroup
	if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.CreateGroup(r.Context(), &group); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSONWithStatus(w, http.StatusCreated, group)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.engine.ListGroups(r.Context(), r.URL.Query().Get("tenant"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, groups)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.engine.GetGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, group)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var update replication.GroupUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	group, err := s.engine.UpdateGroup(r.Context(), mux.Vars(r)["id"], &update)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, group)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteGroup(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"deleted": mux.Vars(r)["id"]})
}

// Monitoring handlers

func (s *Server) handleGroupMetrics(w http.ResponseWriter, r *http.Request) {
	regionID := r.URL.Query().Get("region")
	if regionID == "" {
		s.writeError(w, "region query parameter is required", http.StatusBadRequest)
		return
	}

	run, err := s.engine.GetMetricsHistory(r.Context(), mux.Vars(r)["id"], regionID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, run)
}

func (s *Server) handleGroupHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.GetGroupHealth(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, status)
}

func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["id"]
	if _, err := s.engine.GetGroup(r.Context(), groupID); err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.engine.StopMonitoring(groupID)
	s.writeJSON(w, map[string]string{"monitoring": "stopped"})
}

// Failover handlers

func (s *Server) handleTriggerFailover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Trigger replication.FailoverTrigger `json:"trigger"`
		Notes   string                      `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trigger == "" {
		req.Trigger = replication.TriggerManual
	}

	event, err := s.engine.TriggerFailover(r.Context(), mux.Vars(r)["id"], req.Trigger, req.Notes)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSONWithStatus(w, http.StatusAccepted, event)
}

func (s *Server) handleFailoverHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.engine.GetFailoverHistory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, events)
}

// Conflict handlers

func (s *Server) handleRecordConflict(w http.ResponseWriter, r *http.Request) {
	var input replication.ConflictInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	input.GroupID = mux.Vars(r)["id"]

	record, err := s.engine.RecordConflict(r.Context(), &input)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSONWithStatus(w, http.StatusCreated, record)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.ListConflicts(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, records)
}

// Schema change handlers

func (s *Server) handlePropagateSchemaChange(w http.ResponseWriter, r *http.Request) {
	var change replication.SchemaChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	change.GroupID = mux.Vars(r)["id"]

	result, err := s.engine.PropagateSchemaChange(r.Context(), &change)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, result)
}

func (s *Server) handleListSchemaChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := s.engine.ListSchemaChanges(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, changes)
}

// Snapshot handlers

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tables []string `json:"tables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	snapshot, err := s.engine.CreateSnapshot(r.Context(), mux.Vars(r)["id"], req.Tables)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSONWithStatus(w, http.StatusCreated, snapshot)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.engine.ListSnapshots(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, snapshots)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.engine.GetSnapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, snapshot)
}

func (s *Server) handleArchiveSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ArchiveSnapshot(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"archived": mux.Vars(r)["id"]})
}
