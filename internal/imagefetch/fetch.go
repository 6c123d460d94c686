package imagefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"hairlab/internal/strategy"
)

const maxImageBytes = 20 << 20

// Fetcher downloads reference images by URL. Fetched blobs are kept in an
// LRU cache so repeated sessions against the same reference do not
// re-download it.
type Fetcher struct {
	client *http.Client
	cache  *lru.Cache[string, strategy.Image]
}

func New(timeout time.Duration, cacheSize int) (*Fetcher, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache, err := lru.New[string, strategy.Image](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		cache:  cache,
	}, nil
}

// Fetch returns the image at url, from cache when possible.
func (f *Fetcher) Fetch(ctx context.Context, url string) (strategy.Image, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return strategy.Image{}, fmt.Errorf("imagefetch: url is required")
	}
	if img, ok := f.cache.Get(url); ok {
		return img, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return strategy.Image{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return strategy.Image{}, fmt.Errorf("imagefetch: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return strategy.Image{}, fmt.Errorf("imagefetch: download %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return strategy.Image{}, fmt.Errorf("imagefetch: read %s: %w", url, err)
	}
	if len(data) > maxImageBytes {
		return strategy.Image{}, fmt.Errorf("imagefetch: %s exceeds %d bytes", url, maxImageBytes)
	}
	mime := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}

	img := strategy.Image{MIME: mime, Data: data}
	f.cache.Add(url, img)
	return img, nil
}
