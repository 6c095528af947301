package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gwi.com/jedi-chat-client/internal/config"
	"gwi.com/jedi-chat-client/internal/llm"
	"gwi.com/jedi-chat-client/internal/store"
	"gwi.com/jedi-chat-client/internal/stream"
	"gwi.com/jedi-chat-client/internal/transport"
)

type tokenSource struct{ token string }

func (t *tokenSource) Credential() string { return t.token }

type testBackend struct {
	srv    *httptest.Server
	db     *store.SQLiteStore
	creds  *tokenSource
	client *transport.Client
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	prev := config.AppConfig
	config.AppConfig.JWTSecret = "test-secret"
	t.Cleanup(func() { config.AppConfig = prev })

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(NewAPIHandler(db, llm.EchoReplier{})))
	t.Cleanup(func() {
		srv.Close()
		db.Close()
	})

	creds := &tokenSource{}
	return &testBackend{srv: srv, db: db, creds: creds, client: transport.NewClient(srv.URL, creds)}
}

func (b *testBackend) signup(t *testing.T, username string) {
	t.Helper()
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, b.client.JSON(context.Background(), http.MethodPost, "/auth/signup",
		CredentialsRequest{Username: username, Password: "secret"}, &resp))
	require.NotEmpty(t, resp.Token)
	b.creds.token = resp.Token
}

func TestAuthEndpoints(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	err := b.client.JSON(ctx, http.MethodGet, "/conversations", nil, nil)
	assert.True(t, transport.IsStatus(err, http.StatusUnauthorized))

	b.signup(t, "luke")

	err = b.client.JSON(ctx, http.MethodPost, "/auth/signup", CredentialsRequest{Username: "luke", Password: "x"}, nil)
	assert.True(t, transport.IsStatus(err, http.StatusConflict))

	err = b.client.JSON(ctx, http.MethodPost, "/auth/login", CredentialsRequest{Username: "luke", Password: "wrong"}, nil)
	assert.True(t, transport.IsStatus(err, http.StatusUnauthorized))

	var login map[string]string
	require.NoError(t, b.client.JSON(ctx, http.MethodPost, "/auth/login", CredentialsRequest{Username: "luke", Password: "secret"}, &login))
	assert.NotEmpty(t, login["token"])

	err = b.client.JSON(ctx, http.MethodPost, "/auth/login", CredentialsRequest{Username: "", Password: "secret"}, nil)
	assert.True(t, transport.IsStatus(err, http.StatusBadRequest))
}

func TestModelsEndpoint(t *testing.T) {
	b := newTestBackend(t)
	b.signup(t, "luke")

	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, b.client.JSON(context.Background(), http.MethodGet, "/v1/models", nil, &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, llm.EchoModel, resp.Data[0].ID)
}

func TestConversationEndpoints(t *testing.T) {
	b := newTestBackend(t)
	b.signup(t, "luke")
	ctx := context.Background()

	title := "Trip Plan"
	var conv store.Conversation
	require.NoError(t, b.client.JSON(ctx, http.MethodPost, "/conversations", ConversationRequest{Title: &title}, &conv))
	assert.Equal(t, "Trip Plan", conv.DisplayTitle())

	archived := true
	var updated store.Conversation
	require.NoError(t, b.client.JSON(ctx, http.MethodPatch, "/conversations/"+conv.ID, ConversationRequest{Archived: &archived}, &updated))
	assert.True(t, updated.IsArchived())
	assert.Equal(t, "Trip Plan", updated.DisplayTitle())

	var list []store.Conversation
	require.NoError(t, b.client.JSON(ctx, http.MethodGet, "/conversations", nil, &list))
	require.Len(t, list, 1)

	require.NoError(t, b.client.JSON(ctx, http.MethodDelete, "/conversations/"+conv.ID, nil, nil))
	err := b.client.JSON(ctx, http.MethodDelete, "/conversations/"+conv.ID, nil, nil)
	assert.True(t, transport.IsStatus(err, http.StatusNotFound))

	// Another user cannot see the first user's conversations.
	require.NoError(t, b.client.JSON(ctx, http.MethodPost, "/conversations", ConversationRequest{Title: &title}, &conv))
	b.signup(t, "leia")
	err = b.client.JSON(ctx, http.MethodGet, "/conversations/"+conv.ID+"/messages", nil, nil)
	assert.True(t, transport.IsStatus(err, http.StatusNotFound))
}

func TestReplyStreamsFramesAndStoresReply(t *testing.T) {
	b := newTestBackend(t)
	b.signup(t, "luke")
	ctx := context.Background()

	var conv store.Conversation
	require.NoError(t, b.client.JSON(ctx, http.MethodPost, "/conversations", nil, &conv))

	_, err := b.client.Stream(ctx, "/conversations/"+conv.ID+"/reply", ReplyRequest{Model: llm.EchoModel})
	assert.True(t, transport.IsStatus(err, http.StatusBadRequest))

	var user store.Message
	require.NoError(t, b.client.JSON(ctx, http.MethodPost, "/conversations/"+conv.ID+"/messages", MessageRequest{Content: "Hello"}, &user))
	assert.Equal(t, store.RoleUser, user.Role)

	body, err := b.client.Stream(ctx, "/conversations/"+conv.ID+"/reply", ReplyRequest{Model: llm.EchoModel})
	require.NoError(t, err)
	defer body.Close()

	var deltas []string
	var final *store.Message
	done := false
	reader := stream.NewReader(body)
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch {
		case frame.Done:
			done = true
		case frame.Message != nil:
			final = frame.Message
		case frame.Delta != nil:
			deltas = append(deltas, *frame.Delta)
		}
	}
	assert.Equal(t, []string{"You", " said:", " Hello"}, deltas)
	require.NotNil(t, final)
	assert.Equal(t, "You said: Hello", final.Content)
	assert.True(t, done)

	var messages []store.Message
	require.NoError(t, b.client.JSON(ctx, http.MethodGet, "/conversations/"+conv.ID+"/messages", nil, &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, final.ID, messages[1].ID)

	assert.Eventually(t, func() bool {
		var got store.Conversation
		if err := b.client.JSON(ctx, http.MethodPatch, "/conversations/"+conv.ID, ConversationRequest{}, &got); err != nil {
			return false
		}
		return got.DisplayTitle() == "Hello"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestEditMessageTruncatesServerSide(t *testing.T) {
	b := newTestBackend(t)
	b.signup(t, "luke")
	ctx := context.Background()

	title := "t"
	var conv store.Conversation
	require.NoError(t, b.client.JSON(ctx, http.MethodPost, "/conversations", ConversationRequest{Title: &title}, &conv))

	path := "/conversations/" + conv.ID + "/messages"
	var ids []string
	for _, m := range []MessageRequest{
		{Role: store.RoleUser, Content: "u1"},
		{Role: store.RoleAssistant, Content: "a1"},
		{Role: store.RoleUser, Content: "u2"},
		{Role: store.RoleAssistant, Content: "a2"},
	} {
		var created store.Message
		require.NoError(t, b.client.JSON(ctx, http.MethodPost, path, m, &created))
		ids = append(ids, created.ID)
	}

	err := b.client.JSON(ctx, http.MethodPost, path, MessageRequest{Role: "wizard", Content: "x"}, nil)
	assert.True(t, transport.IsStatus(err, http.StatusBadRequest))

	err = b.client.JSON(ctx, http.MethodPatch, path+"/"+ids[1], MessageRequest{Content: "a1 rewritten"}, nil)
	assert.True(t, transport.IsStatus(err, http.StatusBadRequest))
	var untouched []store.Message
	require.NoError(t, b.client.JSON(ctx, http.MethodGet, path, nil, &untouched))
	require.Len(t, untouched, 4)
	assert.Equal(t, "a1", untouched[1].Content)

	var edited store.Message
	require.NoError(t, b.client.JSON(ctx, http.MethodPatch, path+"/"+ids[0], MessageRequest{Content: "u1 edited"}, &edited))
	assert.Equal(t, "u1 edited", edited.Content)

	var messages []store.Message
	require.NoError(t, b.client.JSON(ctx, http.MethodGet, path, nil, &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, ids[0], messages[0].ID)

	require.NoError(t, b.client.JSON(ctx, http.MethodDelete, path+"/"+ids[0], nil, nil))
	err = b.client.JSON(ctx, http.MethodDelete, path+"/"+ids[0], nil, nil)
	assert.True(t, transport.IsStatus(err, http.StatusNotFound))
}

func TestFileEndpoints(t *testing.T) {
	b := newTestBackend(t)
	b.signup(t, "luke")
	ctx := context.Background()

	var file store.File
	require.NoError(t, b.client.Upload(ctx, "/upload/file", "notes.txt", strings.NewReader("may the force"), &file))
	assert.Equal(t, "notes.txt", file.Name)
	assert.Equal(t, "/files/"+file.ID, file.PublicURL)

	resp, err := http.Get(b.srv.URL + file.PublicURL)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "may the force", string(data))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	require.NoError(t, b.client.JSON(ctx, http.MethodDelete, "/files/"+file.ID, nil, nil))
	resp, err = http.Get(b.srv.URL + file.PublicURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReplyHistory(t *testing.T) {
	msgs := []store.Message{
		{Role: store.RoleUser, Content: "u1"},
		{Role: store.RoleAssistant, Content: "a1"},
	}
	assert.Len(t, replyHistory(msgs), 1)
	assert.Nil(t, replyHistory(msgs[1:]))
}
