package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
)

type captured struct {
	path    string
	auth    string
	apiKey  string
	payload map[string]any
}

func fakeServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.apiKey = r.Header.Get("api-key")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got.payload))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestCompleteText(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, `{"model":"m1","choices":[{"message":{"content":" [] "},"finish_reason":"stop"}]}`)
	c := NewClient(Config{APIKey: "sk", BaseURL: srv.URL + "/v1", Model: "m1"}, nil)

	resp, err := c.Complete(context.Background(), llm.Request{Instructions: "sys", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "[]", resp.Text)
	assert.Equal(t, "m1", resp.Model)

	assert.Equal(t, "/v1/chat/completions", got.path)
	assert.Equal(t, "Bearer sk", got.auth)
	msgs := got.payload["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[1].(map[string]any)["content"])
}

func TestCompleteImage(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, `{"choices":[{"message":{"content":"page text"}}]}`)
	c := NewClient(Config{APIKey: "k", KeyHeader: "api-key", BaseURL: srv.URL, Model: "dep"}, nil)

	resp, err := c.Complete(context.Background(), llm.Request{
		Instructions: "transcribe",
		Images:       []llm.Image{{MIME: "image/png", Data: []byte{1, 2, 3}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "page text", resp.Text)
	assert.Equal(t, "dep", resp.Model)
	assert.Equal(t, "k", got.apiKey)
	assert.Empty(t, got.auth)

	parts := got.payload["messages"].([]any)[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/png;base64,AQID", img["url"])
}

func TestCompleteErrors(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusTooManyRequests, `{}`)
	_, err := NewClient(Config{BaseURL: srv.URL}, nil).Complete(context.Background(), llm.Request{Text: "x"})
	assert.ErrorIs(t, err, common.ErrTransient)

	srv, _ = fakeServer(t, http.StatusUnauthorized, `{}`)
	_, err = NewClient(Config{BaseURL: srv.URL}, nil).Complete(context.Background(), llm.Request{Text: "x"})
	assert.ErrorIs(t, err, common.ErrPermanent)

	srv, _ = fakeServer(t, http.StatusOK, `{"choices":[]}`)
	_, err = NewClient(Config{BaseURL: srv.URL}, nil).Complete(context.Background(), llm.Request{Text: "x"})
	assert.ErrorIs(t, err, common.ErrPermanent)

	srv, _ = fakeServer(t, http.StatusOK, `not json`)
	_, err = NewClient(Config{BaseURL: srv.URL}, nil).Complete(context.Background(), llm.Request{Text: "x"})
	assert.ErrorIs(t, err, common.ErrPermanent)
}

type staticToken string

func (s staticToken) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: string(s), ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func TestCompleteWithTokenCredential(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`)
	c := NewClient(Config{KeyHeader: "api-key", BaseURL: srv.URL, Model: "dep"}, nil, WithTokenCredential(staticToken("tok")))

	_, err := c.Complete(context.Background(), llm.Request{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", got.auth)
	assert.Empty(t, got.apiKey)
}

func TestNewAzureBaseURL(t *testing.T) {
	c, err := NewAzure(common.AzureConfig{Endpoint: "https://res.openai.azure.com/", Deployment: "gpt-4o", APIKey: "k", Auth: "api_key"}, common.APIConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://res.openai.azure.com/openai/v1", c.cfg.BaseURL)
	assert.Equal(t, "gpt-4o", c.cfg.Model)
	assert.Equal(t, "api-key", c.cfg.KeyHeader)
}

func TestCompleteJSONRequestLeavesFormatToPrompt(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, `{"choices":[{"message":{"content":"[{\"a\":\"1\"}]"}}]}`)
	c := NewClient(Config{APIKey: "sk", BaseURL: srv.URL, Model: "m1"}, nil)

	resp, err := c.Complete(context.Background(), llm.Request{Instructions: "sys", Text: "rows", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `[{"a":"1"}]`, resp.Text)
	assert.NotContains(t, got.payload, "response_format")
}
