package vertex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/scan2csv/internal/common"
	"github.com/joseph-ayodele/scan2csv/internal/llm"
)

// Client implements llm.Completer on Gemini through Vertex AI.
type Client struct {
	client      *genai.Client
	model       string
	temperature float32
	log         *slog.Logger
}

// NewClient connects to Vertex AI with application default credentials.
func NewClient(ctx context.Context, cfg common.VertexConfig, api common.APIConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Client{
		client:      base,
		model:       cfg.Model,
		temperature: api.Temperature,
		log:         logger.With("provider", common.BackendVertex, "model", cfg.Model),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	rid := uuid.New().String()
	start := time.Now()

	m := c.client.GenerativeModel(c.model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.Instructions)}}
	m.GenerationConfig = genai.GenerationConfig{Temperature: genai.Ptr(c.temperature)}
	if req.JSON {
		m.GenerationConfig.ResponseMIMEType = "application/json"
	}

	parts := make([]genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, genai.ImageData(imageFormat(img.MIME), img.Data))
	}
	text := req.Text
	if text == "" {
		text = "Process this page according to the instructions."
	}
	parts = append(parts, genai.Text(text))

	c.log.Info("llm.complete.start", "req_id", rid, "text_len", len(req.Text), "images", len(req.Images))
	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		c.log.Error("llm.complete.error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Response{}, classify(err)
	}

	out := responseText(resp)
	if out == "" {
		return llm.Response{}, common.Permanent(errors.New("empty gemini response"))
	}
	c.log.Info("llm.complete.ok", "req_id", rid, "bytes", len(out), "elapsed_ms", time.Since(start).Milliseconds())
	return llm.Response{Text: out, Model: c.model}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

func imageFormat(mime string) string {
	f := strings.TrimPrefix(mime, "image/")
	if f == "" || f == mime {
		return "png"
	}
	return f
}

// classify maps gRPC status codes onto the error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.Transient(err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
			return common.Transient(err)
		}
		return common.Permanent(err)
	}
	// without a status only a broken connection is worth another attempt;
	// safety blocks and argument errors from the SDK are final
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return common.Transient(err)
	}
	return common.Permanent(err)
}
