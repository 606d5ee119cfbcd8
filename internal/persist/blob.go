package persist

import (
	"context"
	"encoding/json"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
)

// blobAPI is the subset of *azblob.Client used by BlobRemote.
type blobAPI interface {
	CreateContainer(ctx context.Context, containerName string, o *azblob.CreateContainerOptions) (azblob.CreateContainerResponse, error)
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	DeleteBlob(ctx context.Context, containerName, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
}

// BlobRemote keeps one JSON backup document per account in Azure Blob
// Storage. Saves merge into the existing document by lead ID.
type BlobRemote struct {
	client    blobAPI
	container string
	nowFunc   func() time.Time
}

// NewBlobRemote creates a blob-backed remote from a storage connection
// string.
func NewBlobRemote(connectionString, container string) (*BlobRemote, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, eris.Wrap(err, "azblob: create client")
	}
	return newBlobRemote(client, container), nil
}

func newBlobRemote(client blobAPI, container string) *BlobRemote {
	if container == "" {
		container = "lead-backups"
	}
	return &BlobRemote{client: client, container: container, nowFunc: time.Now}
}

// EnsureContainer creates the container if it does not exist.
func (b *BlobRemote) EnsureContainer(ctx context.Context) error {
	_, err := b.client.CreateContainer(ctx, b.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return eris.Wrapf(err, "azblob: create container %s", b.container)
	}
	zap.L().Debug("azblob: container ready", zap.String("container", b.container))
	return nil
}

func (b *BlobRemote) Save(ctx context.Context, account string, leads []model.Lead, sc *model.SearchContext) error {
	snap, err := b.download(ctx, account)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &RemoteSnapshot{}
	}

	pos := make(map[string]int, len(snap.Leads))
	for i, l := range snap.Leads {
		pos[l.ID] = i
	}
	for _, l := range leads {
		if i, ok := pos[l.ID]; ok {
			snap.Leads[i] = l
			continue
		}
		pos[l.ID] = len(snap.Leads)
		snap.Leads = append(snap.Leads, l)
	}
	if sc != nil {
		snap.Context = sc
	}
	snap.SavedAt = b.nowFunc().UTC()
	return b.upload(ctx, account, snap)
}

func (b *BlobRemote) Fetch(ctx context.Context, account string, limit int) (*RemoteSnapshot, error) {
	snap, err := b.download(ctx, account)
	if err != nil || snap == nil {
		return nil, err
	}
	if limit > 0 && len(snap.Leads) > limit {
		snap.Leads = snap.Leads[:limit]
	}
	return snap, nil
}

func (b *BlobRemote) Delete(ctx context.Context, account string, criteria DeleteCriteria) error {
	if criteria.All {
		_, err := b.client.DeleteBlob(ctx, b.container, blobKey(account), nil)
		if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
			return eris.Wrapf(err, "azblob: delete backup for %s", account)
		}
		return nil
	}
	if len(criteria.IDs) == 0 {
		return nil
	}

	snap, err := b.download(ctx, account)
	if err != nil || snap == nil {
		return err
	}
	snap.Leads = slices.DeleteFunc(snap.Leads, func(l model.Lead) bool {
		return slices.Contains(criteria.IDs, l.ID)
	})
	return b.upload(ctx, account, snap)
}

func (b *BlobRemote) download(ctx context.Context, account string) (*RemoteSnapshot, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, blobKey(account), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "azblob: download backup for %s", account)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "azblob: read backup for %s", account)
	}
	var snap RemoteSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, eris.Wrapf(err, "azblob: decode backup for %s", account)
	}
	return &snap, nil
}

func (b *BlobRemote) upload(ctx context.Context, account string, snap *RemoteSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "azblob: encode backup")
	}
	contentType := "application/json"
	_, err = b.client.UploadBuffer(ctx, b.container, blobKey(account), raw, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	return eris.Wrapf(err, "azblob: upload backup for %s", account)
}

// blobKey maps an account to its backup document path.
func blobKey(account string) string {
	safe := strings.NewReplacer("/", "_", "..", "_").Replace(account)
	return "accounts/" + safe + "/backup.json"
}

