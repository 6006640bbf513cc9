package vertex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(status.Error(codes.Unavailable, "down")), common.ErrTransient)
	assert.ErrorIs(t, classify(status.Error(codes.ResourceExhausted, "quota")), common.ErrTransient)
	assert.ErrorIs(t, classify(status.Error(codes.InvalidArgument, "bad")), common.ErrPermanent)
	assert.ErrorIs(t, classify(status.Error(codes.PermissionDenied, "no")), common.ErrPermanent)
	assert.ErrorIs(t, classify(fmt.Errorf("x: %w", context.DeadlineExceeded)), common.ErrTransient)
	assert.ErrorIs(t, classify(status.Error(codes.Unknown, "server said no")), common.ErrPermanent)
	assert.ErrorIs(t, classify(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}), common.ErrTransient)
	assert.ErrorIs(t, classify(fmt.Errorf("read: %w", syscall.ECONNRESET)), common.ErrTransient)
	assert.ErrorIs(t, classify(fmt.Errorf("stream: %w", io.ErrUnexpectedEOF)), common.ErrTransient)
	// no status and no transport error: blocked prompt, bad argument
	assert.ErrorIs(t, classify(errors.New("blocked: candidate was blocked due to SAFETY")), common.ErrPermanent)
	assert.Equal(t, common.KindCanceled, common.Classify(classify(context.Canceled)))
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("[1,"), genai.Text("2]")}},
	}}}
	assert.Equal(t, "[1,2]", responseText(resp))
	assert.Equal(t, "", responseText(nil))
	assert.Equal(t, "", responseText(&genai.GenerateContentResponse{}))
}

func TestImageFormat(t *testing.T) {
	assert.Equal(t, "png", imageFormat("image/png"))
	assert.Equal(t, "jpeg", imageFormat("image/jpeg"))
	assert.Equal(t, "png", imageFormat(""))
}
