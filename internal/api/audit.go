package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/playrelay/internal/audit"
	"github.com/nerrad567/playrelay/internal/relay"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// auditLog enqueues an audit log entry for asynchronous write (best-effort).
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) auditLog(entry *audit.AuditLog) {
	if s.auditCh == nil {
		return
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
		)
	}
}

// drainAuditLog reads entries from the audit channel and writes them serially.
// It runs until the context is cancelled, then drains remaining entries.
func (s *Server) drainAuditLog(ctx context.Context) {
	defer close(s.auditDone)
	if s.auditCh == nil {
		return
	}

	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.AuditLog) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}

// recordCommand audits one executed or rejected command. Unknown commands
// are not recorded.
func (s *Server) recordCommand(cmd relay.Command, res relay.Result, err error, remoteAddr string) {
	if res.Ignored {
		return
	}

	details := map[string]any{"recipients": res.Recipients}
	if cmd.Name != res.Command {
		details["requested"] = cmd.Name
	}
	if res.Event != "" {
		details["event"] = res.Event
	}
	if err != nil {
		details["error"] = err.Error()
	}

	s.auditLog(&audit.AuditLog{
		Action:     audit.ActionCommand,
		EntityType: audit.EntityCommand,
		EntityID:   res.Command,
		Actor:      cmd.Actor,
		Source:     string(cmd.Source),
		RemoteAddr: remoteAddr,
		Success:    err == nil,
		Details:    details,
	})
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: auth, command, key.create, key.delete, key.rename
//   - entity_type: credential, command
//   - actor: key name or session name
//   - success: true or false
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	repo := s.auditRepo
	if repo == nil {
		repo = audit.NopRepository{}
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		Actor:      q.Get("actor"),
	}

	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "success must be true or false")
			return
		}
		filter.Success = &b
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := repo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"logs":    result.Logs,
		"total":   result.Total,
		"limit":   result.Limit,
		"offset":  result.Offset,
	})
}
