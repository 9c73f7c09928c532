package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/h4ppyfarm/farm/internal/hfi"
	"github.com/h4ppyfarm/farm/internal/store"
)

// handleHfiBinary streams the helper binary for the requested platform,
// building it first if the cached artifact is stale.
func (s *Server) handleHfiBinary(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	path, err := s.hfi.BinaryPath(vars["os"], vars["arch"])
	if err != nil {
		if errors.Is(err, hfi.ErrUnsupported) {
			http.Error(w, "Unsupported platform", http.StatusNotFound)
			return
		}
		s.logger.Printf("No hfi build for %s/%s: %v", vars["os"], vars["arch"], err)
		http.Error(w, "Build missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func (s *Server) handleHfiTimestamp(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ts, err := s.hfi.Timestamp(vars["os"], vars["arch"])
	if err != nil {
		if errors.Is(err, hfi.ErrUnsupported) {
			http.Error(w, "Unsupported platform", http.StatusNotFound)
			return
		}
		http.Error(w, "Build missing", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int64{"timestamp": ts})
}

func (s *Server) handleListCheckers(w http.ResponseWriter, r *http.Request) {
	checkers, err := s.store.Checkers(r.Context())
	if err != nil {
		s.logger.Printf("Could not list checkers: %v", err)
		http.Error(w, "Storage failure", http.StatusInternalServerError)
		return
	}
	writeJSON(w, checkers)
}

func (s *Server) handleAddChecker(w http.ResponseWriter, r *http.Request) {
	var c store.Checker
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.store.AddChecker(r.Context(), c); err != nil {
		s.logger.Printf("Could not add checker: %v", err)
		http.Error(w, "Storage failure", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRemoveChecker(w http.ResponseWriter, r *http.Request) {
	var c struct {
		Delta int `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.store.RemoveChecker(r.Context(), c.Delta); err != nil {
		s.logger.Printf("Could not remove checker: %v", err)
		http.Error(w, "Storage failure", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
