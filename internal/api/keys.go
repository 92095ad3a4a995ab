package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/playrelay/internal/audit"
	"github.com/nerrad567/playrelay/internal/credential"
)

// keyRequest is the body of key create and rename.
type keyRequest struct {
	Name string `json:"name"`
}

// handleListKeys returns every key with its secret masked.
func (s *Server) handleListKeys(w http.ResponseWriter, _ *http.Request) {
	keys, err := s.credentials.List()
	if err != nil {
		s.logger.Error("failed to list api keys", "error", err)
		writeDomainError(w, err, "failed to list api keys")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"keys":    keys,
		"count":   len(keys),
	})
}

// handleCreateKey creates a key. The full secret is returned only here.
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	create := s.credentials.Create
	if identityFrom(r.Context()).ID == setupIdentity.ID {
		create = s.credentials.CreateFirst
	}
	rec, err := create(req.Name)
	s.recordKeyChange(r, audit.ActionKeyCreate, rec.ID, err, map[string]any{"name": rec.Name})
	if err != nil {
		s.logger.Warn("api key creation failed", "error", err)
		writeDomainError(w, err, "failed to create api key")
		return
	}

	s.logger.Info("api key created",
		"key_id", rec.ID,
		"name", rec.Name,
		"key_prefix", credential.Mask(rec.Key),
		"by", identityFrom(r.Context()).Name,
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "API key created; store it now, it will not be shown again",
		"key":     rec,
	})
}

// handleRenameKey renames a file key.
func (s *Server) handleRenameKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	view, err := s.credentials.Rename(id, req.Name)
	s.recordKeyChange(r, audit.ActionKeyRename, id, err, map[string]any{"name": req.Name})
	if err != nil {
		writeDomainError(w, err, "failed to rename api key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "API key renamed",
		"key":     view,
	})
}

// handleDeleteKey deletes a file key.
func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.credentials.Delete(id)
	s.recordKeyChange(r, audit.ActionKeyDelete, id, err, nil)
	if err != nil {
		writeDomainError(w, err, "failed to delete api key")
		return
	}

	s.logger.Info("api key deleted", "key_id", id, "by", identityFrom(r.Context()).Name)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "API key deleted",
	})
}

func (s *Server) recordKeyChange(r *http.Request, action, keyID string, err error, details map[string]any) {
	if err != nil {
		if details == nil {
			details = map[string]any{}
		}
		details["error"] = err.Error()
	}
	s.auditLog(&audit.AuditLog{
		Action:     action,
		EntityType: audit.EntityCredential,
		EntityID:   keyID,
		Actor:      identityFrom(r.Context()).Name,
		Source:     "api",
		RemoteAddr: clientIP(r),
		Success:    err == nil,
		Details:    details,
	})
}
