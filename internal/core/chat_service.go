package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"gwi.com/jedi-chat-client/internal/cache"
	"gwi.com/jedi-chat-client/internal/config"
	"gwi.com/jedi-chat-client/internal/store"
	"gwi.com/jedi-chat-client/internal/stream"
	"gwi.com/jedi-chat-client/internal/transport"
)

// ErrNotUserMessage is returned when an edit targets a message that the
// user did not write.
var ErrNotUserMessage = errors.New("only user messages can be edited")

// API is the network surface the chat service needs. *transport.Client
// implements it.
type API interface {
	cache.Transport
	stream.Streamer
	Upload(ctx context.Context, path, filename string, r io.Reader, out any) error
}

// ChatService ties the cached collections of one client to the chat API.
type ChatService struct {
	store   *cache.Store
	api     API
	session transport.CredentialSource
	replies *stream.Synchronizer

	conversations *cache.Collection[store.Conversation]
	models        *cache.Query[[]store.Model]

	mu          sync.Mutex
	messages    map[string]*cache.Collection[store.Message]
	attachments map[string]*cache.Collection[store.File]
}

func NewChatService(cacheStore *cache.Store, api API, session transport.CredentialSource, policy stream.EndPolicy) *ChatService {
	return &ChatService{
		store:         cacheStore,
		api:           api,
		session:       session,
		replies:       stream.NewSynchronizer(api, policy),
		conversations: cache.NewCollection[store.Conversation](cacheStore, api),
		models:        cache.NewQuery[[]store.Model](cacheStore, api),
		messages:      make(map[string]*cache.Collection[store.Message]),
		attachments:   make(map[string]*cache.Collection[store.File]),
	}
}

func (s *ChatService) credential() string {
	if s.session == nil {
		return ""
	}
	return s.session.Credential()
}

// credentialScope is the cache key part that separates users. Keys name
// snapshots on disk, so they carry a digest of the token.
func credentialScope(cred string) string {
	if cred == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(cred))
	return hex.EncodeToString(sum[:16])
}

func isPlaceholder(m store.Message) bool {
	return m.ID == stream.PlaceholderID
}

func conversationPath(id string) string {
	return "/conversations/" + url.PathEscape(id)
}

// Conversations returns the conversation list of the signed in user,
// fetching it when the credential changed. The list is disabled while signed
// out. The error is the fetch error, if any; the collection keeps its
// last-known value.
func (s *ChatService) Conversations(ctx context.Context) (*cache.Collection[store.Conversation], error) {
	cred := s.credential()
	err := s.conversations.SetKey(ctx, cache.NewKey("conversations", credentialScope(cred)), cache.QueryConfig[[]store.Conversation]{
		Path:    "/conversations",
		Enabled: cred != "",
	})
	return s.conversations, err
}

// Messages returns the message list of a conversation. It is disabled when
// conversationID is empty.
func (s *ChatService) Messages(ctx context.Context, conversationID string) (*cache.Collection[store.Message], error) {
	s.mu.Lock()
	coll, ok := s.messages[conversationID]
	if !ok {
		coll = cache.NewCollection[store.Message](s.store, s.api)
		coll.SkipInSnapshots(isPlaceholder)
		s.messages[conversationID] = coll
	}
	s.mu.Unlock()

	cred := s.credential()
	err := coll.SetKey(ctx, cache.NewKey("messages", conversationID, credentialScope(cred)), cache.QueryConfig[[]store.Message]{
		Path:    conversationPath(conversationID) + "/messages",
		Enabled: conversationID != "" && cred != "",
	})
	return coll, err
}

// Attachments returns the draft files that the next message of a
// conversation will carry. It is local state, never fetched, and restored
// from its snapshot so drafts survive a restart.
func (s *ChatService) Attachments(conversationID string) *cache.Collection[store.File] {
	s.mu.Lock()
	coll, ok := s.attachments[conversationID]
	if !ok {
		coll = cache.NewCollection[store.File](s.store, s.api)
		s.attachments[conversationID] = coll
	}
	s.mu.Unlock()

	// Manual keys never fetch, so the context is unused.
	coll.SetKey(context.Background(), cache.NewKey("attachments", conversationID), cache.QueryConfig[[]store.File]{
		Path:    "/files",
		Enabled: conversationID != "",
		Manual:  true,
	})
	return coll
}

type modelList struct {
	Data []store.Model `json:"data"`
}

// modelIDs keeps the id of every entry of a {data:[{id}]} payload.
func modelIDs(raw json.RawMessage) ([]store.Model, error) {
	var list modelList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: models: %v", transport.ErrDecode, err)
	}
	models := make([]store.Model, 0, len(list.Data))
	for _, m := range list.Data {
		if m.ID != "" {
			models = append(models, store.Model{ID: m.ID})
		}
	}
	return models, nil
}

// Models returns the models the signed in user can chat with.
func (s *ChatService) Models(ctx context.Context) (*cache.Query[[]store.Model], error) {
	cred := s.credential()
	err := s.models.SetKey(ctx, cache.NewKey("models", credentialScope(cred)), cache.QueryConfig[[]store.Model]{
		Path:      "/v1/models",
		Enabled:   cred != "",
		Transform: modelIDs,
	})
	return s.models, err
}

// DefaultModel returns DEFAULT_MODEL when it is served, else the first model.
func (s *ChatService) DefaultModel(ctx context.Context) (string, error) {
	q, err := s.Models(ctx)
	models := q.Data()
	for _, m := range models {
		if m.ID == config.AppConfig.DefaultModel {
			return m.ID, nil
		}
	}
	if len(models) > 0 {
		return models[0].ID, nil
	}
	return "", err
}

type conversationUpdate struct {
	Title    *string `json:"title,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

func (s *ChatService) NewChat(ctx context.Context, title string) (store.Conversation, error) {
	coll, err := s.Conversations(ctx)
	if err != nil {
		return store.Conversation{}, err
	}
	var req conversationUpdate
	if title = strings.TrimSpace(title); title != "" {
		req.Title = &title
	}
	conv, err := coll.AddItem(ctx, req)
	if err != nil {
		return conv, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *ChatService) RenameChat(ctx context.Context, conversationID, title string) (store.Conversation, error) {
	coll, err := s.Conversations(ctx)
	if err != nil {
		return store.Conversation{}, err
	}
	conv, err := coll.UpdateItem(ctx, conversationID, conversationUpdate{Title: &title})
	if err != nil {
		return conv, fmt.Errorf("failed to rename conversation %s: %w", conversationID, err)
	}
	return conv, nil
}

// ToggleArchive flips the archived flag of a cached conversation.
func (s *ChatService) ToggleArchive(ctx context.Context, conversationID string) (store.Conversation, error) {
	coll, err := s.Conversations(ctx)
	if err != nil {
		return store.Conversation{}, err
	}
	items := coll.Items()
	i := cache.IndexOf(items, conversationID)
	if i < 0 {
		return store.Conversation{}, fmt.Errorf("conversation %s not found", conversationID)
	}
	archived := !items[i].IsArchived()
	conv, err := coll.UpdateItem(ctx, conversationID, conversationUpdate{Archived: &archived})
	if err != nil {
		return conv, fmt.Errorf("failed to archive conversation %s: %w", conversationID, err)
	}
	return conv, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, conversationID string) error {
	coll, err := s.Conversations(ctx)
	if err != nil {
		return err
	}
	if err := coll.RemoveItem(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", conversationID, err)
	}
	return nil
}

// SearchChats filters the cached conversations by a case-insensitive title
// match, keeping their order. An empty query matches everything.
func (s *ChatService) SearchChats(query string) []store.Conversation {
	items := s.conversations.Items()
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return items
	}
	matches := make([]store.Conversation, 0, len(items))
	for _, c := range items {
		if strings.Contains(strings.ToLower(c.DisplayTitle()), query) {
			matches = append(matches, c)
		}
	}
	return matches
}

type messageRequest struct {
	Role    string       `json:"role,omitempty"`
	Content string       `json:"content"`
	Files   []store.File `json:"files,omitempty"`
}

// SendMessage appends a user message carrying the draft attachments and
// streams the assistant reply into the message list. Without a model or
// content nothing is sent and the zero Message is returned.
func (s *ChatService) SendMessage(ctx context.Context, conversationID, content, model string) (store.Message, error) {
	if model == "" || strings.TrimSpace(content) == "" {
		config.Debugf("Refusing to send to conversation %s: model %q, %d characters", conversationID, model, len(content))
		return store.Message{}, nil
	}

	messages, err := s.Messages(ctx, conversationID)
	if err != nil {
		return store.Message{}, err
	}
	drafts := s.Attachments(conversationID)

	_, err = messages.AddItem(ctx, messageRequest{
		Role:    store.RoleUser,
		Content: content,
		Files:   drafts.Items(),
	})
	if err != nil {
		return store.Message{}, fmt.Errorf("failed to send message: %w", err)
	}
	drafts.Replace(nil)
	s.store.Persist(drafts.Key())

	return s.replies.Reply(ctx, messages, conversationID, model)
}

// EditMessage replaces a message's content, drops every later message and
// requests a new reply, each step awaiting the previous one. Only user
// messages can be edited.
func (s *ChatService) EditMessage(ctx context.Context, conversationID, messageID, content, model string) (store.Message, error) {
	if model == "" || strings.TrimSpace(content) == "" {
		config.Debugf("Refusing to edit message %s: model %q, %d characters", messageID, model, len(content))
		return store.Message{}, nil
	}

	messages, err := s.Messages(ctx, conversationID)
	if err != nil {
		return store.Message{}, err
	}
	items := messages.Items()
	if i := cache.IndexOf(items, messageID); i >= 0 && items[i].Role != store.RoleUser {
		return store.Message{}, fmt.Errorf("cannot edit message %s: %w", messageID, ErrNotUserMessage)
	}
	if _, err := messages.UpdateItem(ctx, messageID, messageRequest{Content: content}); err != nil {
		return store.Message{}, fmt.Errorf("failed to edit message %s: %w", messageID, err)
	}
	messages.TruncateAfter(messageID)

	return s.replies.Reply(ctx, messages, conversationID, model)
}

func (s *ChatService) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	messages, err := s.Messages(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := messages.RemoveItem(ctx, messageID); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	return nil
}

// Regenerate replaces the last assistant reply with a new one. When the
// conversation ends with a user message a reply is simply requested.
func (s *ChatService) Regenerate(ctx context.Context, conversationID, model string) (store.Message, error) {
	if model == "" {
		config.Debugf("Refusing to regenerate in conversation %s without a model", conversationID)
		return store.Message{}, nil
	}

	messages, err := s.Messages(ctx, conversationID)
	if err != nil {
		return store.Message{}, err
	}
	items := messages.Items()
	if n := len(items); n > 0 && items[n-1].Role == store.RoleAssistant {
		last := items[n-1]
		err := messages.RemoveItem(ctx, last.ID)
		switch {
		case transport.IsStatus(err, http.StatusNotFound):
			// A reply kept locally after an incomplete stream has no server copy.
			messages.UpdateCollection(last, true)
		case err != nil:
			return store.Message{}, fmt.Errorf("failed to drop previous reply: %w", err)
		}
	}
	return s.replies.Reply(ctx, messages, conversationID, model)
}

// UploadFile uploads a file and adds it to the conversation's draft
// attachments.
func (s *ChatService) UploadFile(ctx context.Context, conversationID, name string, r io.Reader) (store.File, error) {
	var file store.File
	if err := s.api.Upload(ctx, "/upload/file", name, r, &file); err != nil {
		return file, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	drafts := s.Attachments(conversationID)
	drafts.UpdateCollection(file, false)
	s.store.Persist(drafts.Key())
	return file, nil
}

// DetachFile deletes an uploaded file and drops it from the draft.
func (s *ChatService) DetachFile(ctx context.Context, conversationID, fileID string) error {
	if err := s.Attachments(conversationID).RemoveItem(ctx, fileID); err != nil {
		return fmt.Errorf("failed to detach file %s: %w", fileID, err)
	}
	return nil
}
