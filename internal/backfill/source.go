package backfill

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/at-microcosm/plcmirror/internal/domain"
	"github.com/at-microcosm/plcmirror/internal/httpclient"
)

// Source opens the gzipped jsonl bundle for a given week. Implementations
// must be safe to call concurrently from multiple worker goroutines.
type Source interface {
	Open(ctx context.Context, week domain.Week) (io.ReadCloser, error)
}

// FolderSource reads bundles from a local directory of "<week>.jsonl.gz"
// files, mirroring the layout the upstream bundle writer produces.
type FolderSource struct {
	Dir string
}

func (s FolderSource) Open(ctx context.Context, week domain.Week) (io.ReadCloser, error) {
	path := filepath.Join(s.Dir, fmt.Sprintf("%d.jsonl.gz", int64(week)))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", path, err)
	}
	return f, nil
}

// HTTPSource fetches bundles from an HTTP prefix, e.g.
// "https://plc.t3.storage.dev/plc.directory/" + "<week>.jsonl.gz".
type HTTPSource struct {
	Client *httpclient.Client
	Prefix string
}

func (s HTTPSource) Open(ctx context.Context, week domain.Week) (io.ReadCloser, error) {
	u, err := url.JoinPath(s.Prefix, strconv.FormatInt(int64(week), 10)+".jsonl.gz")
	if err != nil {
		return nil, fmt.Errorf("build bundle url: %w", err)
	}
	resp, err := s.Client.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle %s: %w", u, err)
	}
	return resp.Body, nil
}
