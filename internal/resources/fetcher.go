package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	getter "github.com/hashicorp/go-getter"

	"github.com/oellm/evalsched/pkg/api"
)

const defaultHubBaseURL = "https://huggingface.co"

// Fetcher downloads one hub resource into dst. Implementations must leave
// dst fully populated on success; the preparer handles atomic publication.
type Fetcher interface {
	Fetch(ctx context.Context, ref api.ResourceRef, dst string) error
}

// hubFetcher fetches hub repositories over HTTPS with go-getter.
type hubFetcher struct {
	baseURL string
	kind    string // "models" or "datasets"
}

func NewModelFetcher() Fetcher {
	return &hubFetcher{baseURL: hubBaseURL(), kind: "models"}
}

func NewDatasetFetcher() Fetcher {
	return &hubFetcher{baseURL: hubBaseURL(), kind: "datasets"}
}

func hubBaseURL() string {
	if v := os.Getenv("EVAL_HUB_BASE_URL"); v != "" {
		return v
	}
	return defaultHubBaseURL
}

func (f *hubFetcher) Fetch(ctx context.Context, ref api.ResourceRef, dst string) error {
	src := f.sourceURL(ref)
	client := &getter.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Pwd:  filepath.Dir(dst),
		Mode: getter.ClientModeAny,
	}
	if err := client.Get(); err != nil {
		return fmt.Errorf("fetch %s: %w", src, err)
	}
	return nil
}

// sourceURL builds a go-getter git source. Hub repositories are plain git
// repositories, so a clone pinned to the requested revision mirrors what
// snapshot-style downloads produce.
func (f *hubFetcher) sourceURL(ref api.ResourceRef) string {
	prefix := ""
	if f.kind == "datasets" {
		prefix = "datasets/"
	}
	src := fmt.Sprintf("git::%s/%s%s", f.baseURL, prefix, ref.Name)
	if ref.Revision != "" {
		src += "?ref=" + ref.Revision
	}
	return src
}
