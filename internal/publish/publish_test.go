package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

type fakeBlobs struct {
	creates   int
	createErr error
	uploads   map[string]string
	types     map[string]string
}

func (f *fakeBlobs) CreateContainer(context.Context, string, *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error) {
	f.creates++
	return azblob.CreateContainerResponse{}, f.createErr
}

func (f *fakeBlobs) UploadFile(_ context.Context, _ string, name string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return azblob.UploadFileResponse{}, err
	}
	f.uploads[name] = string(data)
	f.types[name] = *o.HTTPHeaders.BlobContentType
	return azblob.UploadFileResponse{}, nil
}

func TestPublishUploadsUnderDocPrefix(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "final.csv")
	merged := filepath.Join(dir, "form_merged_all_pages.json")
	require.NoError(t, os.WriteFile(final, []byte("id\n1\n"), 0o644))
	require.NoError(t, os.WriteFile(merged, []byte("[]"), 0o644))

	blobs := &fakeBlobs{uploads: map[string]string{}, types: map[string]string{}}
	p := newAzure(blobs, "scans", slog.New(slog.DiscardHandler))

	files := []string{final, merged, filepath.Join(dir, "missing.csv")}
	require.NoError(t, p.Publish(context.Background(), "form", files))
	require.NoError(t, p.Publish(context.Background(), "form", files))

	assert.Equal(t, 1, blobs.creates)
	assert.Equal(t, "id\n1\n", blobs.uploads["form/final.csv"])
	assert.Equal(t, "text/csv; charset=utf-8", blobs.types["form/final.csv"])
	assert.Equal(t, "application/json", blobs.types["form/form_merged_all_pages.json"])
	assert.Len(t, blobs.uploads, 2)
}

func TestPublishContainerFailure(t *testing.T) {
	blobs := &fakeBlobs{createErr: errors.New("forbidden"), uploads: map[string]string{}, types: map[string]string{}}
	p := newAzure(blobs, "scans", slog.New(slog.DiscardHandler))
	err := p.Publish(context.Background(), "form", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestPublishRejectsBadPrefix(t *testing.T) {
	p := newAzure(&fakeBlobs{}, "scans", slog.New(slog.DiscardHandler))
	for _, key := range []string{"", "/abs", "../up"} {
		assert.ErrorIs(t, p.Publish(context.Background(), key, nil), common.ErrInvalidInput, key)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(common.PublishConfig{Container: "c"}, nil)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/plain; charset=utf-8", ContentType("a_ocr_page_1.txt"))
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ContentType("batch_summary.xlsx"))
	assert.Equal(t, "application/octet-stream", ContentType("blob.unknownext"))
}
