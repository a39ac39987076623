package fakebackend

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

func (s *Server) storageRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /storage/v1/object/{bucket}/{path...}", s.handleUpload)
	mux.HandleFunc("GET /storage/v1/object/public/{bucket}/{path...}", s.handleDownload)
	mux.HandleFunc("DELETE /storage/v1/object/{bucket}", s.handleRemove)
}

// Object returns the stored bytes and content type of bucket/path.
func (s *Server) Object(bucket, path string) ([]byte, string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	o, ok := s.objects[bucket+"/"+path]
	return o.data, o.contentType, ok
}

// ObjectCacheControl returns the cache-control the object was uploaded with.
func (s *Server) ObjectCacheControl(bucket, path string) string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.objects[bucket+"/"+path].cacheCtl
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("bucket") + "/" + r.PathValue("path")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeStorageError(w, http.StatusBadRequest, "400", "InvalidRequest", err.Error())
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.authenticate(r) == nil {
		writeStorageError(w, http.StatusBadRequest, "403", "Unauthorized", "new row violates row-level security policy")
		return
	}
	upsert := strings.EqualFold(r.Header.Get("x-upsert"), "true")
	if _, exists := s.objects[key]; exists && !upsert {
		writeStorageError(w, http.StatusBadRequest, "409", "Duplicate", "The resource already exists")
		return
	}
	s.objects[key] = object{
		data:        data,
		contentType: r.Header.Get("Content-Type"),
		cacheCtl:    r.Header.Get("Cache-Control"),
	}
	writeJSON(w, http.StatusOK, map[string]any{"Key": key})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	o, ct, ok := s.Object(r.PathValue("bucket"), r.PathValue("path"))
	if !ok {
		writeStorageError(w, http.StatusBadRequest, "404", "not_found", "Object not found")
		return
	}
	w.Header().Set("Content-Type", ct)
	_, _ = w.Write(o)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prefixes []string `json:"prefixes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeStorageError(w, http.StatusBadRequest, "400", "InvalidRequest", "invalid JSON body")
		return
	}
	bucket := r.PathValue("bucket")

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.authenticate(r) == nil {
		writeStorageError(w, http.StatusBadRequest, "403", "Unauthorized", "new row violates row-level security policy")
		return
	}
	removed := []map[string]any{}
	for _, p := range body.Prefixes {
		key := bucket + "/" + p
		if _, ok := s.objects[key]; ok {
			delete(s.objects, key)
			removed = append(removed, map[string]any{"name": p, "bucket_id": bucket})
		}
	}
	writeJSON(w, http.StatusOK, removed)
}

func writeStorageError(w http.ResponseWriter, status int, statusCode, errName, msg string) {
	writeJSON(w, status, map[string]any{"statusCode": statusCode, "error": errName, "message": msg})
}
