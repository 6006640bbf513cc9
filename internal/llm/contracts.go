package llm

import "context"

// Image is one page image attached to a request.
type Image struct {
	MIME string
	Data []byte
}

// Request is a single prompt to a remote model.
type Request struct {
	// Instructions is the system prompt.
	Instructions string
	// Text is the user content; may be empty for image-only requests.
	Text   string
	Images []Image
	// JSON marks a request whose reply must be JSON, usually an array. Vertex
	// turns it into an application/json response type. Chat/completions JSON
	// mode only admits a top-level object, so the OpenAI-compatible backends
	// leave the format to the instructions and the caller's CleanJSON.
	JSON bool
}

// Response is the model's text output.
type Response struct {
	Text  string
	Model string
}

// Completer is the provider-agnostic remote model call. Implementations
// return errors wrapped with common.ErrTransient or common.ErrPermanent.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (Response, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
