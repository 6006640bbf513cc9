package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
)

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete implements llm.Completer using chat/completions. Images are sent
// as data URLs in the user message. No response_format is sent for JSON
// requests: json_object mode rejects the top-level arrays the prompts ask for.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.complete.start",
		"req_id", rid,
		"text_len", len(req.Text),
		"images", len(req.Images),
	)

	headers, err := c.authHeaders(ctx)
	if err != nil {
		return llm.Response{}, err
	}

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "system", "content": req.Instructions},
			{"role": "user", "content": userContent(req)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, _, err := llm.SendJSON(ctx, c.httpClient, endpoint, body, headers, c.log)
	if err != nil {
		c.log.Error("llm.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Response{}, err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.complete.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
		)
		return llm.Response{}, common.Permanent(fmt.Errorf("decode %s response: %w", c.cfg.Name, err))
	}
	if len(cc.Choices) == 0 || cc.Choices[0].Message.Content == nil {
		c.log.Error("llm.complete.no_choices", "req_id", rid, "raw", string(raw))
		return llm.Response{}, common.Permanent(fmt.Errorf("no choices in %s response", c.cfg.Name))
	}
	content := strings.TrimSpace(*cc.Choices[0].Message.Content)

	c.log.Info("llm.complete.ok",
		"req_id", rid,
		"bytes", len(content),
		"finish_reason", cc.Choices[0].FinishReason,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	model := cc.Model
	if model == "" {
		model = c.cfg.Model
	}
	return llm.Response{Text: content, Model: model}, nil
}

func (c *Client) authHeaders(ctx context.Context) (map[string]string, error) {
	if c.cred != nil {
		tok, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{cognitiveScope}})
		if err != nil {
			return nil, common.Transient(fmt.Errorf("acquire token: %w", err))
		}
		return map[string]string{"Authorization": "Bearer " + tok.Token}, nil
	}
	if c.cfg.KeyHeader != "" {
		return map[string]string{c.cfg.KeyHeader: c.cfg.APIKey}, nil
	}
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}, nil
}

func userContent(req llm.Request) any {
	if len(req.Images) == 0 {
		return req.Text
	}
	text := req.Text
	if text == "" {
		text = "Process this page according to the instructions."
	}
	parts := []map[string]any{{"type": "text", "text": text}}
	for _, img := range req.Images {
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": llm.DataURL(img), "detail": "high"},
		})
	}
	return parts
}
