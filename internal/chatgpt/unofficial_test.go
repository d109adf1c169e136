package chatgpt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCreds is a CredentialManager with scripted behavior
type fakeCreds struct {
	valid       bool
	cred        Credential
	refreshes   int
	invalidated bool
}

func (f *fakeCreds) Valid() bool         { return f.valid }
func (f *fakeCreds) Current() Credential { return f.cred }
func (f *fakeCreds) Refresh(ctx context.Context) error {
	f.refreshes++
	f.valid = true
	return nil
}
func (f *fakeCreds) Invalidate() {
	f.invalidated = true
	f.valid = false
}

func validCreds() *fakeCreds {
	return &fakeCreds{
		valid: true,
		cred: Credential{
			AccessToken: "token-123",
			ExpiresAt:   time.Now().Add(time.Hour),
			Cookie:      "session=abc",
		},
	}
}

func writeFrame(w io.Writer, role, id, conversationID string, parts ...string) {
	frame := map[string]any{
		"message": map[string]any{
			"id":     id,
			"author": map[string]any{"role": role},
			"content": map[string]any{
				"content_type": "text",
				"parts":        parts,
			},
		},
		"conversation_id": conversationID,
	}
	raw, _ := json.Marshal(frame)
	fmt.Fprintf(w, "data: %s\n\n", raw)
}

func newTestClient(baseURL string, creds CredentialManager) *UnofficialClient {
	return NewUnofficialClient(creds, UnofficialConfig{
		BaseURL:        baseURL,
		PassModeration: true,
	}, testLogger())
}

func TestUnofficialStreamCumulativeTextBecomesDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, conversationPath, r.URL.Path)
		require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		require.Equal(t, "session=abc", r.Header.Get("Cookie"))

		var payload webConversationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "next", payload.Action)
		assert.Equal(t, webModel, payload.Model)
		assert.NotEmpty(t, payload.ParentMessageID)
		require.Len(t, payload.Messages, 1)
		assert.Equal(t, []string{"Say hi"}, payload.Messages[0].Content.Parts)

		w.Header().Set("Content-Type", "text/event-stream")
		writeFrame(w, "assistant", "msg-1", "conv-1", "Hi")
		writeFrame(w, "assistant", "msg-1", "conv-1", "Hi there")
		writeFrame(w, "assistant", "msg-1", "conv-1", "Hi there!")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, validCreds())

	stream, err := client.StreamCompletion(context.Background(), "Say hi", "", "")
	require.NoError(t, err)
	defer stream.Close()

	var deltas []string
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		deltas = append(deltas, delta)
	}

	assert.Equal(t, []string{"Hi", " there", "!"}, deltas)

	result := stream.Result()
	assert.Equal(t, "Hi there!", result.Text)
	assert.Equal(t, "msg-1", result.MessageID)
	assert.Equal(t, "conv-1", result.ConversationID)
}

func TestUnofficialStreamSkipsNonAssistantFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrame(w, "system", "sys-1", "conv-1", "")
		writeFrame(w, "user", "usr-1", "conv-1", "Say hi")
		writeFrame(w, "assistant", "msg-1", "conv-1", "Hello")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, validCreds())

	stream, err := client.StreamCompletion(context.Background(), "Say hi", "", "")
	require.NoError(t, err)
	defer stream.Close()

	delta, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hello", delta)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "msg-1", stream.Result().MessageID)
}

func TestUnofficialStreamEndsWithoutSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrame(w, "assistant", "msg-1", "conv-1", "partial")
		// Connection drops with no [DONE]
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, validCreds())

	stream, err := client.StreamCompletion(context.Background(), "hi", "", "")
	require.NoError(t, err)
	defer stream.Close()

	delta, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", delta)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestUnofficialUnauthorizedInvalidatesCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := validCreds()
	client := newTestClient(srv.URL, creds)

	_, err := client.StreamCompletion(context.Background(), "hi", "", "")
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.True(t, creds.invalidated)
}

func TestUnofficialServerErrorMapsToUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream melted", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, validCreds())

	_, err := client.StreamCompletion(context.Background(), "hi", "", "")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestUnofficialOtherStatusCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, validCreds())

	_, err := client.StreamCompletion(context.Background(), "hi", "", "")

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusTooManyRequests, upstream.StatusCode)
	assert.Contains(t, upstream.Body, "too many requests")
}

func TestUnofficialRefreshesInvalidCredentialBeforeCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrame(w, "assistant", "msg-1", "conv-1", "ok")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	creds := validCreds()
	creds.valid = false
	client := newTestClient(srv.URL, creds)

	stream, err := client.StreamCompletion(context.Background(), "hi", "", "")
	require.NoError(t, err)
	stream.Close()

	assert.Equal(t, 1, creds.refreshes)
}

func TestUnofficialForwardsConversationAndParentIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webConversationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "conv-42", payload.ConversationID)
		assert.Equal(t, "parent-7", payload.ParentMessageID)

		writeFrame(w, "assistant", "msg-2", "conv-42", "continued")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, validCreds())

	stream, err := client.StreamCompletion(context.Background(), "go on", "conv-42", "parent-7")
	require.NoError(t, err)
	stream.Close()
}

func TestUnofficialStreamHandlesOversizedFrames(t *testing.T) {
	// The cumulative reply rides in every frame, so a long completion
	// produces frames far past the default line-scanner token limit
	long := strings.Repeat("a", 70<<10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrame(w, "assistant", "msg-1", "conv-1", long)
		writeFrame(w, "assistant", "msg-1", "conv-1", long+" done")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, validCreds())

	stream, err := client.StreamCompletion(context.Background(), "write a novel", "", "")
	require.NoError(t, err)
	defer stream.Close()

	delta, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, long, delta)

	delta, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, " done", delta)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}
