package httpapi

import (
	"net/http"
	"strconv"

	"github.com/SirrVault/sirr/pkg/record"
)

func writeMetadataHeaders(w http.ResponseWriter, rec *record.Record) {
	h := w.Header()
	h.Set("X-Secret-Created-At", strconv.FormatInt(rec.CreatedAt, 10))
	if rec.HasExpiry() {
		h.Set("X-Secret-Expires-At", strconv.FormatInt(rec.ExpiresAt, 10))
	}
	if rec.HasReadLimit() {
		h.Set("X-Secret-Max-Reads", strconv.FormatInt(rec.MaxReads, 10))
	}
	h.Set("X-Secret-Read-Count", strconv.FormatInt(rec.ReadCount, 10))
	h.Set("X-Secret-Policy", string(rec.Policy))
	h.Set("X-Secret-Sealed", strconv.FormatBool(rec.Sealed()))
}
