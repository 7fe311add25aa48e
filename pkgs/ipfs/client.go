package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	files "github.com/ipfs/boxo/files"
	"github.com/ipfs/go-cid"
	ipfsApi "github.com/ipfs/kubo/client/rpc"
	"github.com/ipfs/kubo/core/coreiface/options"
	log "github.com/sirupsen/logrus"
)

// Archiver stores a JSON document and returns its CID
type Archiver interface {
	Archive(ctx context.Context, doc interface{}) (string, error)
}

// Client wraps the IPFS kubo client
type Client struct {
	api *ipfsApi.HttpApi
}

// NewClient creates a new IPFS client
func NewClient(apiURL string) (*Client, error) {
	if apiURL == "" {
		apiURL = "127.0.0.1:5001" // Default IPFS API endpoint
	}

	// Handle different input formats
	if strings.HasPrefix(apiURL, "/ip4/") || strings.HasPrefix(apiURL, "/dns/") {
		// Convert multiaddr: /ip4/172.29.0.2/tcp/5001 -> http://172.29.0.2:5001
		parts := strings.Split(apiURL, "/")
		if len(parts) >= 5 {
			apiURL = fmt.Sprintf("http://%s:%s", parts[2], parts[4])
		}
	} else if !strings.HasPrefix(apiURL, "http://") && !strings.HasPrefix(apiURL, "https://") {
		apiURL = "http://" + apiURL
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:       10,
			IdleConnTimeout:    90 * time.Second,
			DisableCompression: true,
		},
	}

	api, err := ipfsApi.NewURLApiWithClient(apiURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create IPFS client: %w", err)
	}

	return &Client{api: api}, nil
}

// Archive adds doc as JSON with CIDv1 and pins it
func (c *Client) Archive(ctx context.Context, doc interface{}) (string, error) {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	p, err := c.api.Unixfs().Add(ctx, files.NewReaderFile(bytes.NewReader(jsonData)),
		options.Unixfs.CidVersion(1),
	)
	if err != nil {
		return "", fmt.Errorf("failed to add to IPFS: %w", err)
	}

	if err := c.api.Pin().Add(ctx, p); err != nil {
		return "", fmt.Errorf("failed to pin %s: %w", p.RootCid(), err)
	}

	cidStr := p.RootCid().String()
	log.WithField("cid", cidStr).Info("Archived document in IPFS")
	return cidStr, nil
}

// IsAvailable checks if IPFS node is accessible
func (c *Client) IsAvailable(ctx context.Context) bool {
	_, err := c.api.Key().Self(ctx)
	return err == nil
}

// ParseReference checks that ref is a well-formed CID, accepting an
// optional /ipfs/ or ipfs:// prefix
func ParseReference(ref string) error {
	ref = strings.TrimPrefix(ref, "ipfs://")
	ref = strings.TrimPrefix(ref, "/ipfs/")
	if i := strings.IndexByte(ref, '/'); i >= 0 {
		ref = ref[:i]
	}
	if _, err := cid.Parse(ref); err != nil {
		return fmt.Errorf("not a CID: %w", err)
	}
	return nil
}
