// Package publish uploads finished document artifacts to Azure Blob Storage.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

// blobAPI is the part of *azblob.Client the publisher uses.
type blobAPI interface {
	CreateContainer(ctx context.Context, containerName string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error)
	UploadFile(ctx context.Context, containerName string, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)
}

// Azure uploads files under <docBase>/<file name> in one container.
type Azure struct {
	client    blobAPI
	container string
	logger    *slog.Logger

	mu    sync.Mutex
	ready bool
}

// New creates the publisher from a connection string, or from an account URL
// with DefaultAzureCredential. Nothing is contacted until the first Publish.
func New(cfg common.PublishConfig, logger *slog.Logger) (*Azure, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountURL != "":
		cred, cerr := azidentity.NewDefaultAzureCredential(nil)
		if cerr != nil {
			return nil, fmt.Errorf("azure credential: %w", cerr)
		}
		client, err = azblob.NewClient(cfg.AccountURL, cred, nil)
	default:
		return nil, fmt.Errorf("publish needs a connection string or an account url: %w", common.ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return newAzure(client, cfg.Container, logger), nil
}

func newAzure(client blobAPI, container string, logger *slog.Logger) *Azure {
	return &Azure{client: client, container: container, logger: logger.With("system", "publish")}
}

// ensureContainer creates the container once; an existing one is fine.
func (a *Azure) ensureContainer(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ready {
		return nil
	}
	if _, err := a.client.CreateContainer(ctx, a.container, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", a.container, err)
	}
	a.ready = true
	a.logger.Info("publish.container.ready", "container", a.container)
	return nil
}

// Publish uploads every existing file in files. Missing files are skipped.
func (a *Azure) Publish(ctx context.Context, docBase string, files []string) error {
	if err := validateKey(docBase); err != nil {
		return err
	}
	if err := a.ensureContainer(ctx); err != nil {
		return err
	}
	for _, f := range files {
		if err := a.upload(ctx, docBase, f); err != nil {
			return err
		}
	}
	return nil
}

func (a *Azure) upload(ctx context.Context, docBase, file string) error {
	fh, err := os.Open(file)
	if os.IsNotExist(err) {
		a.logger.Debug("publish.file.missing", "file", file)
		return nil
	}
	if err != nil {
		return common.LocalIO("open artifact", err)
	}
	defer fh.Close()

	key := path.Join(docBase, filepath.Base(file))
	contentType := ContentType(file)
	_, err = a.client.UploadFile(ctx, a.container, key, fh, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("upload blob %s: %w", key, err)
	}
	a.logger.Info("publish.blob.uploaded", "key", key, "content_type", contentType)
	return nil
}

// ContentType picks the blob content type from the file extension.
func ContentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if t := mime.TypeByExtension(filepath.Ext(file)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid blob prefix %q: %w", key, common.ErrInvalidInput)
	}
	return nil
}
