package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gwi.com/jedi-chat-client/internal/auth"
	"gwi.com/jedi-chat-client/internal/llm"
	"gwi.com/jedi-chat-client/internal/store"
)

type ctxKey string

const userIDKey ctxKey = "userID"

type APIHandler struct {
	dbStore *store.SQLiteStore
	replier llm.Replier
}

func NewAPIHandler(db *store.SQLiteStore, replier llm.Replier) *APIHandler {
	return &APIHandler{dbStore: db, replier: replier}
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		id, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (CredentialsRequest, bool) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (h *APIHandler) issueToken(w http.ResponseWriter, status int, user *store.User) {
	token, err := auth.GenerateJWT(user.ID)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", user.Username, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, map[string]string{"token": token})
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	existing, err := h.dbStore.GetUserByUsername(req.Username)
	if err != nil {
		log.Printf("Error looking up user %s: %v", req.Username, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "Username already taken", http.StatusConflict)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.Username, err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.dbStore.CreateUser(req.Username, hashedPassword)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.Username, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	h.issueToken(w, http.StatusCreated, user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.dbStore.GetUserByUsername(req.Username)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.Username, err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	h.issueToken(w, http.StatusOK, user)
}

type modelEntry struct {
	ID string `json:"id"`
}

func (h *APIHandler) ListModelsHandler(w http.ResponseWriter, r *http.Request) {
	data := []modelEntry{}
	for _, id := range h.replier.Models() {
		data = append(data, modelEntry{ID: id})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

type ConversationRequest struct {
	Title    *string `json:"title,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	conversations, err := h.dbStore.ListConversations(uid)
	if err != nil {
		log.Printf("Error listing conversations for user %d: %v", uid, err)
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	var req ConversationRequest
	if r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	conv, err := h.dbStore.CreateConversation(uid, req.Title)
	if err != nil {
		log.Printf("Error creating conversation for user %d: %v", uid, err)
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *APIHandler) UpdateConversationHandler(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	convID := chi.URLParam(r, "conversationID")

	var req ConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	conv, err := h.dbStore.UpdateConversation(convID, uid, req.Title, req.Archived)
	if err != nil {
		log.Printf("Error updating conversation %s for user %d: %v", convID, uid, err)
		http.Error(w, "Failed to update conversation", http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	convID := chi.URLParam(r, "conversationID")

	deleted, err := h.dbStore.DeleteConversation(convID, uid)
	if err != nil {
		log.Printf("Error deleting conversation %s for user %d: %v", convID, uid, err)
		http.Error(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedConversation writes a 404 and returns nil unless the conversation in
// the URL belongs to the caller.
func (h *APIHandler) ownedConversation(w http.ResponseWriter, r *http.Request) *store.Conversation {
	uid := userID(r)
	convID := chi.URLParam(r, "conversationID")

	conv, err := h.dbStore.GetConversation(convID, uid)
	if err != nil {
		log.Printf("Error getting conversation %s for user %d: %v", convID, uid, err)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return nil
	}
	if conv == nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return nil
	}
	return conv
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	conv := h.ownedConversation(w, r)
	if conv == nil {
		return
	}

	messages, err := h.dbStore.ListMessages(conv.ID)
	if err != nil {
		log.Printf("Error listing messages of conversation %s: %v", conv.ID, err)
		http.Error(w, "Failed to list messages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type MessageRequest struct {
	Role    string       `json:"role,omitempty"`
	Content string       `json:"content"`
	Files   []store.File `json:"files,omitempty"`
}

func (h *APIHandler) CreateMessageHandler(w http.ResponseWriter, r *http.Request) {
	conv := h.ownedConversation(w, r)
	if conv == nil {
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = store.RoleUser
	}
	if !store.ValidRole(req.Role) {
		http.Error(w, "Unknown message role", http.StatusBadRequest)
		return
	}

	msg := store.Message{
		ConversationID: conv.ID,
		Role:           req.Role,
		Content:        req.Content,
		Files:          req.Files,
	}
	if err := h.dbStore.CreateMessage(&msg); err != nil {
		log.Printf("Error storing message in conversation %s: %v", conv.ID, err)
		http.Error(w, "Failed to store message", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *APIHandler) EditMessageHandler(w http.ResponseWriter, r *http.Request) {
	conv := h.ownedConversation(w, r)
	if conv == nil {
		return
	}
	messageID := chi.URLParam(r, "messageID")

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}

	existing, err := h.dbStore.GetMessage(conv.ID, messageID)
	if err != nil {
		log.Printf("Error getting message %s in conversation %s: %v", messageID, conv.ID, err)
		http.Error(w, "Failed to edit message", http.StatusInternalServerError)
		return
	}
	if existing == nil {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	if existing.Role != store.RoleUser {
		http.Error(w, "Only user messages can be edited", http.StatusBadRequest)
		return
	}

	msg, err := h.dbStore.EditMessage(conv.ID, messageID, req.Content)
	if err != nil {
		log.Printf("Error editing message %s in conversation %s: %v", messageID, conv.ID, err)
		http.Error(w, "Failed to edit message", http.StatusInternalServerError)
		return
	}
	if msg == nil {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *APIHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	conv := h.ownedConversation(w, r)
	if conv == nil {
		return
	}
	messageID := chi.URLParam(r, "messageID")

	deleted, err := h.dbStore.DeleteMessage(conv.ID, messageID)
	if err != nil {
		log.Printf("Error deleting message %s in conversation %s: %v", messageID, conv.ID, err)
		http.Error(w, "Failed to delete message", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
