package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gwi.com/jedi-chat-client/internal/cache"
	"gwi.com/jedi-chat-client/internal/store"
)

const sampleStream = "data: {\"delta\":\"Hel\"}\n" +
	": keep-alive\n" +
	"\n" +
	"data: {\"delta\":\"lo\"}\r\n" +
	"event: ignored\n" +
	"data: {\"message\":{\"id\":\"a1\",\"role\":\"assistant\",\"content\":\"Hello\"}}\n"

func decodeAll(t *testing.T, chunks []string) []Frame {
	t.Helper()
	var d Decoder
	var frames []Frame
	for _, c := range chunks {
		got, err := d.Feed([]byte(c))
		require.NoError(t, err)
		frames = append(frames, got...)
	}
	got, err := d.Flush()
	require.NoError(t, err)
	return append(frames, got...)
}

func TestDecoderToleratesAnySplit(t *testing.T) {
	whole := decodeAll(t, []string{sampleStream})
	require.Len(t, whole, 3)
	assert.Equal(t, "Hel", *whole[0].Delta)
	assert.Equal(t, "lo", *whole[1].Delta)
	assert.Equal(t, "a1", whole[2].Message.ID)

	for split := 1; split < len(sampleStream); split++ {
		frames := decodeAll(t, []string{sampleStream[:split], sampleStream[split:]})
		assert.Equal(t, whole, frames, "split at %d", split)
	}

	var bytewise []string
	for _, b := range []byte(sampleStream) {
		bytewise = append(bytewise, string(b))
	}
	assert.Equal(t, whole, decodeAll(t, bytewise))
}

func TestDecoderFlushesUnterminatedLine(t *testing.T) {
	frames := decodeAll(t, []string{"data: {\"delta\":\"a\"}\ndata: {\"delta\":\"b\"}"})
	require.Len(t, frames, 2)
	assert.Equal(t, "b", *frames[1].Delta)
}

func TestDecoderDoneAndMalformed(t *testing.T) {
	frames := decodeAll(t, []string{"data: [DONE]\n"})
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Done)

	var d Decoder
	_, err := d.Feed([]byte("data: {\"delta\":\n"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestReaderOneByteReads(t *testing.T) {
	r := NewReader(iotest.OneByteReader(strings.NewReader(sampleStream)))
	var frames []Frame
	for {
		f, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
	assert.Len(t, frames, 3)
}

func TestReaderDeliversFramesBeforeDecodeError(t *testing.T) {
	r := NewReader(strings.NewReader("data: {\"delta\":\"ok\"}\ndata: nope\n"))
	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "ok", *f.Delta)
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrDecode)
}

// recordingCollection applies reconciliations to a list and records every
// state it passes through.
type recordingCollection struct {
	items  []store.Message
	states [][]store.Message
}

func (c *recordingCollection) record() {
	c.states = append(c.states, c.items)
	placeholders := 0
	for _, m := range c.items {
		if m.ID == PlaceholderID {
			placeholders++
		}
	}
	if placeholders > 1 {
		panic("more than one placeholder in collection")
	}
}

func (c *recordingCollection) UpdateCollection(msg store.Message, remove bool) {
	if remove {
		c.items = cache.RemoveByID(c.items, msg.ID)
	} else {
		c.items = cache.Upsert(c.items, msg)
	}
	c.record()
}

func (c *recordingCollection) Swap(oldID string, msg store.Message) {
	c.items = cache.ReplaceID(c.items, oldID, msg)
	c.record()
}

func contents(msgs []store.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role+":"+m.Content)
	}
	return out
}

type fakeStreamer struct {
	body   string
	reader io.Reader
	err    error
	paths []string
	model string
}

func (f *fakeStreamer) Stream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	f.paths = append(f.paths, path)
	f.model = body.(replyRequest).Model
	if f.err != nil {
		return nil, f.err
	}
	if f.reader != nil {
		return io.NopCloser(f.reader), nil
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func newRecording() *recordingCollection {
	return &recordingCollection{items: []store.Message{{ID: "u1", Role: store.RoleUser, Content: "Hello"}}}
}

func TestReplyResolvesPlaceholderToServerMessage(t *testing.T) {
	streamer := &fakeStreamer{body: sampleStream}
	coll := newRecording()

	final, err := NewSynchronizer(streamer, EndSynthesize).Reply(context.Background(), coll, "c1", "gpt-x")
	require.NoError(t, err)
	assert.Equal(t, "a1", final.ID)
	assert.Equal(t, "c1", final.ConversationID)
	assert.Equal(t, []string{"/conversations/c1/reply"}, streamer.paths)
	assert.Equal(t, "gpt-x", streamer.model)

	var seen [][]string
	for _, s := range coll.states {
		seen = append(seen, contents(s))
	}
	assert.Equal(t, [][]string{
		{"user:Hello", "assistant:Thinking..."},
		{"user:Hello", "assistant:Hel"},
		{"user:Hello", "assistant:Hello"},
		{"user:Hello", "assistant:Hello"},
	}, seen)
	assert.Equal(t, "a1", coll.items[1].ID)
}

func TestReplyEndPolicies(t *testing.T) {
	body := "data: {\"delta\":\"partial\"}\n"

	coll := newRecording()
	final, err := NewSynchronizer(&fakeStreamer{body: body}, EndSynthesize).Reply(context.Background(), coll, "c1", "gpt-x")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(final.ID, "local-"))
	assert.Equal(t, []string{"user:Hello", "assistant:partial"}, contents(coll.items))
	assert.Equal(t, -1, cache.IndexOf(coll.items, PlaceholderID))

	coll = newRecording()
	_, err = NewSynchronizer(&fakeStreamer{body: body}, EndError).Reply(context.Background(), coll, "c1", "gpt-x")
	assert.ErrorIs(t, err, ErrIncompleteStream)
	assert.Equal(t, []string{"user:Hello"}, contents(coll.items))
}

func TestReplyEmptyStream(t *testing.T) {
	for _, body := range []string{"", "data: [DONE]\n", ": ping\n\n"} {
		coll := newRecording()
		_, err := NewSynchronizer(&fakeStreamer{body: body}, EndSynthesize).Reply(context.Background(), coll, "c1", "gpt-x")
		assert.ErrorIs(t, err, ErrEmptyReply)
		assert.Equal(t, []string{"user:Hello"}, contents(coll.items))
	}
}

func TestReplyRemovesPlaceholderOnFailure(t *testing.T) {
	coll := newRecording()
	_, err := NewSynchronizer(&fakeStreamer{err: errors.New("connection refused")}, EndSynthesize).Reply(context.Background(), coll, "c1", "gpt-x")
	require.Error(t, err)
	assert.Equal(t, []string{"user:Hello"}, contents(coll.items))

	coll = newRecording()
	_, err = NewSynchronizer(&fakeStreamer{body: "data: {\"delta\":\"x\"}\ndata: {oops}\n"}, EndSynthesize).Reply(context.Background(), coll, "c1", "gpt-x")
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, []string{"user:Hello"}, contents(coll.items))
}

// ctxReader blocks until its context ends, like a body whose request was
// cancelled.
type ctxReader struct{ ctx context.Context }

func (r ctxReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func TestReplyRemovesPlaceholderAfterDeltas(t *testing.T) {
	delta := "data: {\"delta\":\"Hel\"}\n\n"

	coll := newRecording()
	body := io.MultiReader(strings.NewReader(delta), iotest.ErrReader(errors.New("connection reset")))
	_, err := NewSynchronizer(&fakeStreamer{reader: body}, EndSynthesize).Reply(context.Background(), coll, "c1", "gpt-x")
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, []string{"user:Hello"}, contents(coll.items))
	assert.Contains(t, stateContents(coll.states), []string{"user:Hello", "assistant:Hel"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	coll = newRecording()
	body = io.MultiReader(strings.NewReader(delta), ctxReader{ctx})
	_, err = NewSynchronizer(&fakeStreamer{reader: body}, EndSynthesize).Reply(ctx, coll, "c1", "gpt-x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"user:Hello"}, contents(coll.items))
	assert.Contains(t, stateContents(coll.states), []string{"user:Hello", "assistant:Hel"})
}

func stateContents(states [][]store.Message) [][]string {
	out := make([][]string, 0, len(states))
	for _, s := range states {
		out = append(out, contents(s))
	}
	return out
}

func TestParseEndPolicy(t *testing.T) {
	p, err := ParseEndPolicy("ERROR")
	require.NoError(t, err)
	assert.Equal(t, EndError, p)

	p, err = ParseEndPolicy("")
	require.NoError(t, err)
	assert.Equal(t, EndSynthesize, p)

	_, err = ParseEndPolicy("retry")
	assert.Error(t, err)
}
