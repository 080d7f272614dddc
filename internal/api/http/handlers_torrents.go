package apihttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"torrentstream/streamfs/internal/domain"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListTorrents(w, r)
	case http.MethodPost:
		s.handleIngestTorrent(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleListTorrents(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	records, err := s.catalog.ListByStatus(r.Context(), statuses...)
	if err != nil {
		s.logger.Error("list torrents failed", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []domain.TorrentRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type ingestRequest struct {
	Guid string `json:"guid"`
	Link string `json:"link"`
}

func (s *Server) handleIngestTorrent(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "ingest not configured")
		return
	}
	var body ingestRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	body.Guid = strings.TrimSpace(body.Guid)
	body.Link = strings.TrimSpace(body.Link)
	if body.Guid == "" || body.Link == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "guid and link are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	res, err := s.ingestor.Ingest(ctx, []domain.FeedItem{{Guid: body.Guid, Link: body.Link}})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	record, err := s.catalog.FindByFeedGuid(ctx, body.Guid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if res.Created > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, record)
}

// handleTorrentByKey serves /torrents/{key}[/action]. The key is an info-hash
// or a record ID.
func (s *Server) handleTorrentByKey(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/torrents/"), "/")
	key, action, _ := strings.Cut(rest, "/")
	if key == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleGetTorrent(w, r, key)
	case "stop":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleStopTorrent(w, r, key)
	case "retry":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleRetryTorrent(w, r, key)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleGetTorrent(w http.ResponseWriter, r *http.Request, key string) {
	record, err := s.lookup(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleStopTorrent(w http.ResponseWriter, r *http.Request, key string) {
	if s.lifecycle == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "lifecycle not configured")
		return
	}
	record, err := s.lookup(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if record.InfoHash == "" {
		writeError(w, http.StatusConflict, "not_resolved", "torrent has no info-hash yet")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()

	if err := s.lifecycle.StopTorrent(ctx, record.InfoHash); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryTorrent(w http.ResponseWriter, r *http.Request, key string) {
	if s.retrier == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "indexer not configured")
		return
	}
	record, err := s.lookup(r.Context(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	updated, err := s.retrier.Retry(r.Context(), record.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSwarms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	states := []domain.SwarmState{}
	if s.lifecycle != nil {
		states = append(states, s.lifecycle.Snapshot()...)
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) lookup(ctx context.Context, key string) (domain.TorrentRecord, error) {
	if ih := domain.NormalizeInfoHash(key); ih != "" {
		return s.catalog.FindByInfoHash(ctx, ih)
	}
	return s.catalog.Get(ctx, key)
}

func parseStatuses(value string) ([]domain.TorrentStatus, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "all" {
		return nil, nil
	}
	var out []domain.TorrentStatus
	for _, part := range strings.Split(value, ",") {
		status := domain.TorrentStatus(strings.ToUpper(strings.TrimSpace(part)))
		if !status.Valid() {
			return nil, fmt.Errorf("invalid status %q", part)
		}
		out = append(out, status)
	}
	return out, nil
}
