package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.uber.org/zap"
)

// SchemeAzureBlob addresses blobs as azblob://<container>/<blob path>.
const SchemeAzureBlob = "azblob"

// Well-known Azurite development account.
const (
	devStoreAccount  = "devstoreaccount1"
	devStoreKey      = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
	devStoreEndpoint = "http://127.0.0.1:10000/devstoreaccount1"
)

// AzureBlob reads trajectory files from Azure Blob Storage using a shared
// key. Plain-HTTP endpoints are allowed so that local Azurite instances work.
type AzureBlob struct {
	client     *azblob.Client
	serviceURL string
	logger     *zap.Logger
}

// NewAzureBlob creates a blob transport from a standard connection string.
func NewAzureBlob(connectionString string, logger *zap.Logger) (*AzureBlob, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	params := parseConnectionString(connectionString)
	if strings.EqualFold(params["UseDevelopmentStorage"], "true") {
		params["AccountName"] = devStoreAccount
		params["AccountKey"] = devStoreKey
		if params["BlobEndpoint"] == "" {
			params["BlobEndpoint"] = devStoreEndpoint
		}
	}
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		suffix := params["EndpointSuffix"]
		if suffix == "" {
			suffix = "core.windows.net"
		}
		protocol := params["DefaultEndpointsProtocol"]
		if protocol == "" {
			protocol = "https"
		}
		serviceURL = fmt.Sprintf("%s://%s.blob.%s", protocol, accountName, suffix)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureBlob{
		client:     client,
		serviceURL: strings.TrimRight(serviceURL, "/"),
		logger:     logger,
	}, nil
}

// ServiceURL returns the blob service endpoint.
func (a *AzureBlob) ServiceURL() string { return a.serviceURL }

// Download streams the blob at u into w.
func (a *AzureBlob) Download(ctx context.Context, u *url.URL, w io.Writer) (int64, error) {
	containerName, blobPath, err := splitBlobURL(u)
	if err != nil {
		return 0, err
	}
	if blobPath == "" {
		return 0, fmt.Errorf("blob path is empty")
	}

	resp, err := a.client.DownloadStream(ctx, containerName, blobPath, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return 0, fmt.Errorf("blob %s/%s: %w", containerName, blobPath, fs.ErrNotExist)
		}
		return 0, fmt.Errorf("failed to download blob: %w", err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read blob data: %w", err)
	}

	a.logger.Debug("Downloaded blob",
		zap.String("container", containerName),
		zap.String("blob_path", blobPath),
		zap.Int64("size_bytes", n))
	return n, nil
}

// ListDirectory lists the blobs directly below the virtual directory u.
func (a *AzureBlob) ListDirectory(ctx context.Context, u *url.URL) ([]Entry, error) {
	containerName, prefix, err := splitBlobURL(u)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var entries []Entry
	pager := a.client.NewListBlobsFlatPager(containerName, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := strings.TrimPrefix(*item.Name, prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			e := Entry{Name: name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					e.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					e.LastModified = *p.LastModified
				}
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// splitBlobURL extracts container and blob path from azblob://container/path.
func splitBlobURL(u *url.URL) (containerName, blobPath string, err error) {
	if u.Scheme != SchemeAzureBlob {
		return "", "", fmt.Errorf("not a blob URL: %s", u)
	}
	containerName = u.Host
	if containerName == "" {
		return "", "", fmt.Errorf("container name is required in %s", u)
	}
	blobPath = strings.TrimPrefix(strings.TrimSpace(u.Path), "/")
	if decoded, err := url.PathUnescape(blobPath); err == nil {
		blobPath = decoded
	}
	return containerName, blobPath, nil
}

func parseConnectionString(connStr string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Split(connStr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			result[kv[0]] = kv[1]
		}
	}
	return result
}
