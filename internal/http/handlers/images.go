package handlers

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pictrans/internal/storage"
)

const maxUploadBytes = 20 << 20 // 20 MiB

// ImagesUpload accepts a multipart image and stores it in the origin
// bucket under a server-generated name.
func (a *App) ImagesUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "file field is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(path.Ext(header.Filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported image type")
		return
	}

	filename := uuid.NewString() + ext
	if _, err := a.Store.Save(r.Context(), storage.BucketOrigin, filename, file); err != nil {
		a.fail(w, err)
		return
	}
	img, err := a.Images.Create(r.Context(), filename)
	if err != nil {
		a.fail(w, err)
		return
	}

	a.json(w, http.StatusCreated, map[string]any{"id": img.ID, "filename": img.Filename})
}

// ImagesFetch serves a stored artifact, either by redirecting to a
// presigned URL or by streaming through this process, depending on the
// storage backend.
func (a *App) ImagesFetch(w http.ResponseWriter, r *http.Request) {
	bucket, err := storage.ParseBucket(chi.URLParam(r, "bucket"))
	if err != nil {
		a.fail(w, err)
		return
	}
	filename := chi.URLParam(r, "filename")

	resolved, err := a.Store.Resolve(r.Context(), bucket, filename)
	if err != nil {
		a.fail(w, err)
		return
	}

	if resolved.RedirectURL != "" {
		http.Redirect(w, r, resolved.RedirectURL, http.StatusFound)
		return
	}

	defer resolved.Reader.Close()
	w.Header().Set("Content-Type", contentTypeFor(filename))
	if _, err := io.Copy(w, resolved.Reader); err != nil {
		a.Logger.Error().Err(err).Str("filename", filename).Msg("stream image")
	}
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
