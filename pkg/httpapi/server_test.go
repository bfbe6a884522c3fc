package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SirrVault/sirr/pkg/crypto"
	"github.com/SirrVault/sirr/pkg/license"
	"github.com/SirrVault/sirr/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, apiKey string) *Server {
	t.Helper()
	var key [32]byte
	cipher, err := crypto.New(key)
	require.NoError(t, err)

	st, err := store.Open(t.TempDir(), cipher)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	gate := license.New(license.Config{MaxFreeSecrets: 100})

	return NewServer(Config{
		Store:         st,
		License:       gate,
		APIKey:        apiKey,
		MaxValueBytes: 65536,
		CORSOrigins:   []string{"*"},
	})
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t, "secret-token")
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateSecretRequiresBearerToken(t *testing.T) {
	s := newTestServer(t, "secret-token")
	body := `{"key":"k1","value":"v1"}`
	r := httptest.NewRequest(http.MethodPost, "/secrets", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAndGetSecretRoundTrip(t *testing.T) {
	s := newTestServer(t, "secret-token")

	body := `{"key":"k1","value":"hunter2","max_reads":5}`
	r := httptest.NewRequest(http.MethodPost, "/secrets", strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	r2 := httptest.NewRequest(http.MethodGet, "/secrets/k1", nil)
	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, r2)
	require.Equal(t, http.StatusOK, w2.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp))
	assert.Equal(t, "hunter2", resp["value"])
}

func TestGetSecretIsPublicEvenWhenWritesAreGated(t *testing.T) {
	s := newTestServer(t, "secret-token")

	body := `{"key":"k1","value":"v1"}`
	r := httptest.NewRequest(http.MethodPost, "/secrets", strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	r2 := httptest.NewRequest(http.MethodGet, "/secrets/k1", nil)
	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, r2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestGetMissingSecretReturns404(t *testing.T) {
	s := newTestServer(t, "")
	r := httptest.NewRequest(http.MethodGet, "/secrets/missing", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDuplicateCreateReturns409(t *testing.T) {
	s := newTestServer(t, "")
	body := `{"key":"k1","value":"v1"}`

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodPost, "/secrets", strings.NewReader(body))
		w := httptest.NewRecorder()
		s.ServeHTTP(w, r)
		if i == 0 {
			require.Equal(t, http.StatusCreated, w.Code)
		} else {
			assert.Equal(t, http.StatusConflict, w.Code)
		}
	}
}

func TestCreateSecretRejectsExplicitZeroTTL(t *testing.T) {
	s := newTestServer(t, "")
	body := `{"key":"k1","value":"v1","ttl_seconds":0}`
	r := httptest.NewRequest(http.MethodPost, "/secrets", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSecretRejectsExplicitZeroMaxReads(t *testing.T) {
	s := newTestServer(t, "")
	body := `{"key":"k1","value":"v1","max_reads":0}`
	r := httptest.NewRequest(http.MethodPost, "/secrets", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSecretOmittedTTLAndMaxReadsSucceeds(t *testing.T) {
	s := newTestServer(t, "")
	body := `{"key":"k1","value":"v1"}`
	r := httptest.NewRequest(http.MethodPost, "/secrets", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	assert.Equal(t, http.StatusCreated, w.Code, "omitting ttl_seconds/max_reads must still mean no-expiry/unlimited")
}

func TestDeleteIsIdempotentViaHTTP(t *testing.T) {
	s := newTestServer(t, "")

	r := httptest.NewRequest(http.MethodDelete, "/secrets/missing", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp["deleted"])
}
