package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nerrad567/playrelay/internal/relay"
)

// CommandResponse is the success body of a command endpoint.
type CommandResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Command    string `json:"command"`
	Event      string `json:"event"`
	Recipients int    `json:"recipients"`
	Payload    any    `json:"payload,omitempty"`
}

// handleCommand returns the handler for one REST command path.
//
// The body is optional for commands without a payload. Play commands take
// {"url": "..."} and volume takes {"level": n}; a bare JSON value is also
// accepted.
func (s *Server) handleCommand(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, err := decodeOptionalBody(r)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}

		identity := identityFrom(r.Context())
		cmd := relay.Command{
			Name:   name,
			Value:  value,
			Source: relay.SourceREST,
			Actor:  identity.Name,
		}

		res, err := s.broadcaster.Execute(r.Context(), cmd)
		s.recordCommand(cmd, res, err, clientIP(r))
		if err != nil {
			writeDomainError(w, err, "failed to execute command")
			return
		}

		writeJSON(w, http.StatusOK, CommandResponse{
			Success:    true,
			Message:    fmt.Sprintf("%s command sent to %d client(s)", res.Command, res.Recipients),
			Command:    res.Command,
			Event:      res.Event,
			Recipients: res.Recipients,
			Payload:    res.Payload,
		})
	}
}

// handleCommandCatalog lists every command with its event and payload kind.
func (s *Server) handleCommandCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"commands": relay.Catalog(),
	})
}

// decodeOptionalBody decodes a JSON body into a generic value. An empty
// body yields nil.
func decodeOptionalBody(r *http.Request) (any, error) {
	if r.Body == nil {
		return nil, nil
	}
	var v any
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid JSON body")
	}
	return v, nil
}
