package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/retailgrid/sales-sync/internal/models"

	"github.com/go-chi/chi/v5"
)

type statusResponse struct {
	Message string `json:"message"`
}

type changesResponse struct {
	Message  string          `json:"message"`
	Branches map[string]bool `json:"branches"`
}

type syncResponse struct {
	Message string         `json:"message"`
	Counts  map[string]int `json:"counts"`
}

type addSaleRequest struct {
	Date    string  `json:"date"`
	Region  string  `json:"region"`
	Product string  `json:"product"`
	Qty     int     `json:"qty"`
	Cost    float64 `json:"cost"`
	Amt     float64 `json:"amt"`
	Tax     float64 `json:"tax"`
	Total   float64 `json:"total"`
}

type autoSyncRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

func (s *Server) startConsumer(w http.ResponseWriter, r *http.Request) {
	if err := s.consumer.Start(r.Context()); err != nil {
		s.logger.Error("Failed to start consumer", "error", err)
		writeJSON(w, http.StatusConflict, statusResponse{Message: fmt.Sprintf("Failed to start consumer: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Message: "Consumer started successfully"})
}

func (s *Server) stopConsumer(w http.ResponseWriter, _ *http.Request) {
	s.consumer.Stop()
	writeJSON(w, http.StatusOK, statusResponse{Message: "Consumer stopped"})
}

func (s *Server) consumerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Message: s.consumer.State().String()})
}

func (s *Server) checkForChanges(w http.ResponseWriter, r *http.Request) {
	status, err := s.syncer.CheckForChanges(r.Context())
	if err != nil {
		s.logger.Error("Change check failed", "error", err)
	}

	var lines []string
	for _, branch := range s.syncer.Branches() {
		if status[branch] {
			lines = append(lines, fmt.Sprintf("%s has sales that need to be synced", branch))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "No changes detected in any branch")
	}

	writeJSON(w, http.StatusOK, changesResponse{
		Message:  strings.Join(lines, "\n"),
		Branches: status,
	})
}

func (s *Server) syncAll(w http.ResponseWriter, r *http.Request) {
	counts, err := s.syncer.SyncAll(r.Context())
	if err != nil {
		s.logger.Error("Sync completed with errors", "error", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, syncResponse{
		Message: fmt.Sprintf("Synchronized %d sales across %d branches", total, len(counts)),
		Counts:  counts,
	})
}

func (s *Server) syncBranch(w http.ResponseWriter, r *http.Request) {
	branch := chi.URLParam(r, "branch")

	count, err := s.syncer.SyncBranch(r.Context(), branch)
	if err != nil {
		s.logger.Error("Branch sync failed", "branch", branch, "error", err)
		writeJSON(w, http.StatusBadRequest, statusResponse{Message: fmt.Sprintf("Sync failed for %s: %v", branch, err)})
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{
		Message: fmt.Sprintf("Synchronized %d sales from %s", count, branch),
		Counts:  map[string]int{branch: count},
	})
}

func (s *Server) startAutoSync(w http.ResponseWriter, r *http.Request) {
	interval := s.defaultInterval

	var req autoSyncRequest
	if r.Body != nil {
		// Body is optional; an empty body means the configured default.
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.IntervalSeconds > 0 {
			interval = time.Duration(req.IntervalSeconds) * time.Second
		}
	}

	if err := s.syncer.StartAutoSync(interval); err != nil {
		writeJSON(w, http.StatusConflict, statusResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Message: fmt.Sprintf("Auto sync started. Will sync every %d seconds", int(interval.Seconds())),
	})
}

func (s *Server) stopAutoSync(w http.ResponseWriter, _ *http.Request) {
	if err := s.syncer.StopAutoSync(); err != nil {
		writeJSON(w, http.StatusConflict, statusResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Message: "Auto sync stopped"})
}

func (s *Server) addSale(w http.ResponseWriter, r *http.Request) {
	branch := chi.URLParam(r, "branch")
	creator, ok := s.creators[branch]
	if !ok {
		writeJSON(w, http.StatusNotFound, statusResponse{Message: fmt.Sprintf("Unknown branch %q", branch)})
		return
	}

	var req addSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Message: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	rec, err := req.toRecord()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Message: fmt.Sprintf("Error adding sale: %v", err)})
		return
	}

	if err := creator.AddAndSync(r.Context(), rec); err != nil {
		s.logger.Error("Add and sync failed", "branch", branch, "error", err)
		writeJSON(w, http.StatusInternalServerError, statusResponse{Message: "Failed to add sale"})
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Message: fmt.Sprintf("Sale added to %s and synchronized to Head Office", branch),
	})
}

func (s *Server) branchSales(w http.ResponseWriter, r *http.Request) {
	branch := chi.URLParam(r, "branch")
	reader, ok := s.branchReaders[branch]
	if !ok {
		writeJSON(w, http.StatusNotFound, statusResponse{Message: fmt.Sprintf("Unknown branch %q", branch)})
		return
	}

	sales, err := reader.ReadAll(r.Context())
	if err != nil {
		s.logger.Error("Branch read failed", "branch", branch, "error", err)
		writeJSON(w, http.StatusInternalServerError, statusResponse{Message: "Failed to read branch sales"})
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (s *Server) headOfficeSales(w http.ResponseWriter, r *http.Request) {
	records, err := s.headOffice.ReadAll(r.Context())
	if err != nil {
		s.logger.Error("Head-office read failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, statusResponse{Message: "Failed to read head-office sales"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (r addSaleRequest) toRecord() (models.SaleRecord, error) {
	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return models.SaleRecord{}, fmt.Errorf("date must be YYYY-MM-DD: %v", err)
	}
	if r.Qty < 0 {
		return models.SaleRecord{}, fmt.Errorf("qty must be >= 0")
	}
	if r.Region == "" || r.Product == "" {
		return models.SaleRecord{}, fmt.Errorf("region and product are required")
	}

	return models.SaleRecord{
		Date:    date,
		Region:  r.Region,
		Product: r.Product,
		Qty:     r.Qty,
		Cost:    r.Cost,
		Amt:     r.Amt,
		Tax:     r.Tax,
		Total:   r.Total,
	}, nil
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
