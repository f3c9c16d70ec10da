package handlers

import (
	"errors"
	"net/http"
	"os"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/jbellot/iris-art/internal/storage"
)

// FileDownload serves a stored object addressed by a signed, expiring URL.
// The route is public; the signature is the authorization.
func (a *App) FileDownload(signer *storage.URLSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		q := r.URL.Query()
		if err := signer.Verify(key, q.Get("exp"), q.Get("sig")); err != nil {
			a.error(w, http.StatusForbidden, "forbidden", "invalid or expired link")
			return
		}
		data, err := a.Store.Get(r.Context(), key)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				a.error(w, http.StatusNotFound, "not_found", "file not found")
				return
			}
			a.Logger.Error().Err(err).Str("key", key).Msg("api: file read failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to read file")
			return
		}
		w.Header().Set("Content-Type", contentTypeForKey(key))
		w.Header().Set("Cache-Control", "private, max-age=3600")
		_, _ = w.Write(data)
	}
}

func contentTypeForKey(key string) string {
	switch path.Ext(key) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
