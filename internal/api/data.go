package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Envelope fields the client attaches for delivery bookkeeping. They are
// stripped before the body is stored so documents stay comparable across
// retries and conflict fetches.
var envelopeFields = []string{"idempotency_token", "client_timestamp", "version"}

// mutationResponse acknowledges an applied mutation.
type mutationResponse struct {
	Path    string `json:"path"`
	Version int64  `json:"version"`
}

// decodeBody parses the mutation payload and splits off the optimistic
// concurrency version. expected is -1 when the payload carries no version,
// which means last-write-wins.
func decodeBody(r *http.Request) (map[string]any, int64, error) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, -1, fmt.Errorf("invalid json body: %w", err)
	}

	expected := int64(-1)
	if v, ok := payload["version"]; ok {
		f, ok := v.(float64)
		if !ok || f != float64(int64(f)) || f < 0 {
			return nil, -1, fmt.Errorf("version must be a non-negative integer")
		}
		expected = int64(f)
	}

	for _, f := range envelopeFields {
		delete(payload, f)
	}
	return payload, expected, nil
}

// handleGet returns the current state of a document with its version and
// update time merged in. This is the read the conflict detector issues.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	doc, err := s.store.Get(tenantID(r), path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "query document")
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no document at "+path)
		return
	}

	var state map[string]any
	if err := json.Unmarshal(doc.Body, &state); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "decode stored document")
		return
	}
	state["version"] = doc.Version
	state["updated_at"] = doc.UpdatedAt.UTC()
	writeJSON(w, http.StatusOK, state)
}

// handleCreate inserts a new document. Creating over an existing path means
// the client's view has diverged, which is the conflict class.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	payload, _, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "encode document")
		return
	}

	created, err := s.store.Create(tenantID(r), path, body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "store document")
		return
	}
	if !created {
		writeError(w, http.StatusConflict, ErrCodeVersionConflict, "document already exists at "+path)
		return
	}
	writeJSON(w, http.StatusCreated, mutationResponse{Path: path, Version: 1})
}

// handleUpdate replaces a document. A payload carrying a stale version, or
// targeting a document that no longer exists, gets the 409 conflict signal.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	tenant := tenantID(r)

	payload, expected, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "encode document")
		return
	}

	version, applied, err := s.store.Update(tenant, path, body, expected)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "update document")
		return
	}
	if !applied {
		doc, err := s.store.Get(tenant, path)
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "query document")
			return
		}
		if doc == nil {
			writeError(w, http.StatusConflict, ErrCodeVersionConflict, "document no longer exists at "+path)
			return
		}
		writeError(w, http.StatusConflict, ErrCodeVersionConflict,
			fmt.Sprintf("document at %s was already modified (server version %d)", path, doc.Version))
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Path: path, Version: version})
}

// handleDelete removes a document. Deleting a document that is already gone
// means the client acted on diverged state.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	deleted, err := s.store.Delete(tenantID(r), path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "delete document")
		return
	}
	if !deleted {
		writeError(w, http.StatusConflict, ErrCodeVersionConflict, "document no longer exists at "+path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleTenantStatus reports per-tenant document and idempotency counts.
func (s *Server) handleTenantStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(tenantID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "count documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents":           count,
		"idempotency_records": s.idem.Len(),
	})
}
