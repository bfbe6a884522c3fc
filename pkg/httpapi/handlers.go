package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/SirrVault/sirr/pkg/record"
	"github.com/SirrVault/sirr/pkg/store"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSecretRequest struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	TTLSeconds *int64 `json:"ttl_seconds,omitempty"`
	MaxReads   *int64 `json:"max_reads,omitempty"`
	Policy     string `json:"policy,omitempty"`
}

func (s *Server) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	var req createSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}

	if len(req.Value) > s.maxValueBytes {
		RespondError(w, http.StatusBadRequest, "invalid_input", "value exceeds maximum size")
		return
	}

	policy := record.Policy(req.Policy)
	if policy == "" {
		policy = record.Burn
	}

	var ttl *time.Duration
	if req.TTLSeconds != nil {
		d := time.Duration(*req.TTLSeconds) * time.Second
		ttl = &d
	}

	ctx := r.Context()
	rec, err := s.store.Put(store.PutInput{
		Key:       req.Key,
		Plaintext: []byte(req.Value),
		TTL:       ttl,
		MaxReads:  req.MaxReads,
		Policy:    policy,
		QuotaCheck: func(currentCount int) error {
			return s.license.AllowCreate(ctx, currentCount)
		},
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	Respond(w, http.StatusCreated, map[string]string{"key": rec.Key})
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, _, err := s.store.Get(key)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	Respond(w, http.StatusOK, map[string]string{"key": key, "value": string(value)})
}

type patchSecretRequest struct {
	Value string `json:"value"`
}

func (s *Server) handlePatchSecret(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req patchSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	if len(req.Value) > s.maxValueBytes {
		RespondError(w, http.StatusBadRequest, "invalid_input", "value exceeds maximum size")
		return
	}

	if _, err := s.store.Patch(key, []byte(req.Value)); err != nil {
		writeStoreError(w, err)
		return
	}

	Respond(w, http.StatusOK, map[string]bool{"patched": true})
}

func (s *Server) handleHeadSecret(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	rec, err := s.store.Head(key)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeMetadataHeaders(w, rec)
	w.WriteHeader(http.StatusOK)
}

type secretMetadata struct {
	Key       string `json:"key"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	MaxReads  int64  `json:"max_reads,omitempty"`
	ReadCount int64  `json:"read_count"`
	Policy    string `json:"policy"`
	Sealed    bool   `json:"sealed"`
}

func toMetadata(rec *record.Record) secretMetadata {
	return secretMetadata{
		Key:       rec.Key,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		MaxReads:  rec.MaxReads,
		ReadCount: rec.ReadCount,
		Policy:    string(rec.Policy),
		Sealed:    rec.Sealed(),
	}
}

func (s *Server) handleListSecrets(w http.ResponseWriter, _ *http.Request) {
	recs, err := s.store.List()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	out := make([]secretMetadata, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toMetadata(rec))
	}
	Respond(w, http.StatusOK, map[string]any{"secrets": out})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	_, headErr := s.store.Head(key)
	existed := headErr == nil

	if err := s.store.Delete(key); err != nil {
		writeStoreError(w, err)
		return
	}

	Respond(w, http.StatusOK, map[string]bool{"deleted": existed})
}

func (s *Server) handlePrune(w http.ResponseWriter, _ *http.Request) {
	// store.Prune accounts for sirr_secrets_expired_total and sirr_secrets_active itself.
	n, err := s.store.Prune()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]int{"pruned": n})
}
