package httpapi

import (
	"errors"
	"net/http"

	"github.com/SirrVault/sirr/pkg/license"
	"github.com/SirrVault/sirr/pkg/store"
)

// writeStoreError maps a store.Error (or license.ErrQuotaExceeded) to the
// matching HTTP status and a stable error code string.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, license.ErrQuotaExceeded) {
		RespondError(w, http.StatusPaymentRequired, "quota_exceeded", "free tier secret limit reached")
		return
	}

	var serr *store.Error
	if !errors.As(err, &serr) {
		RespondError(w, http.StatusInternalServerError, "internal", "unexpected error")
		return
	}

	switch serr.Kind {
	case store.KindNotFound, store.KindExpired:
		RespondError(w, http.StatusNotFound, "not_found", "no secret under that key")
	case store.KindSealed:
		RespondError(w, http.StatusGone, "sealed", "secret's read budget is exhausted")
	case store.KindQuotaExceeded:
		RespondError(w, http.StatusPaymentRequired, "quota_exceeded", "free tier secret limit reached")
	case store.KindAlreadyExists:
		RespondError(w, http.StatusConflict, "already_exists", "a secret already exists under that key")
	case store.KindInvalidState:
		RespondError(w, http.StatusConflict, "invalid_state", "patch requires a seal-policy record")
	case store.KindInvalidInput:
		RespondError(w, http.StatusBadRequest, "invalid_input", serr.Error())
	case store.KindAuthFailure:
		RespondError(w, http.StatusInternalServerError, "auth_failure", "stored record failed authentication")
	case store.KindCorrupt:
		RespondError(w, http.StatusInternalServerError, "internal", "stored record could not be read")
	default:
		RespondError(w, http.StatusInternalServerError, "internal", "unexpected error")
	}
}
