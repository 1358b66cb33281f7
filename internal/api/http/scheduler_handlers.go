package httpapi

import "net/http"

// GET /api/scheduler
func (s *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.scheduler.Status())
}

// POST /api/scheduler/pause
func (s *Server) pauseScheduler(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Pause()
	respondJSON(w, http.StatusOK, s.scheduler.Status())
}

// POST /api/scheduler/resume
func (s *Server) resumeScheduler(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Resume()
	respondJSON(w, http.StatusOK, s.scheduler.Status())
}
