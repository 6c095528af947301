package api

import (
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

const maxUploadSize = 10 << 20

func (h *APIHandler) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Invalid upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	name := filepath.Base(header.Filename)
	stored, err := h.dbStore.CreateFile(uid, name, content)
	if err != nil {
		log.Printf("Error storing upload %s for user %d: %v", name, uid, err)
		http.Error(w, "Failed to store file", http.StatusInternalServerError)
		return
	}
	stored.PublicURL = "/files/" + stored.ID
	writeJSON(w, http.StatusCreated, stored)
}

// GetFileHandler serves an uploaded file by its public URL.
func (h *APIHandler) GetFileHandler(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	name, content, ok, err := h.dbStore.GetFileContent(fileID)
	if err != nil {
		log.Printf("Error reading file %s: %v", fileID, err)
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(content)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	w.Write(content)
}

func (h *APIHandler) DeleteFileHandler(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	fileID := chi.URLParam(r, "fileID")

	deleted, err := h.dbStore.DeleteFile(fileID, uid)
	if err != nil {
		log.Printf("Error deleting file %s for user %d: %v", fileID, uid, err)
		http.Error(w, "Failed to delete file", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
