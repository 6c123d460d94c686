package genimg

import (
	"context"
	"sync"

	"hairlab/internal/strategy"
)

// FakeClient returns a deterministic 1x1 PNG for offline use and tests.
// Errs, when set, are consumed in call order before successes resume.
type FakeClient struct {
	mu    sync.Mutex
	calls int
	Errs  []error
}

// fakePNG is a valid 1x1 transparent PNG.
var fakePNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func NewFakeClient() *FakeClient { return &FakeClient{} }

func (f *FakeClient) Name() string { return "FakeImage" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) Generate(ctx context.Context, req Request) (strategy.Image, error) {
	if err := ctx.Err(); err != nil {
		return strategy.Image{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls < len(f.Errs) {
		err := f.Errs[f.calls]
		f.calls++
		if err != nil {
			return strategy.Image{}, err
		}
	} else {
		f.calls++
	}
	return strategy.Image{MIME: "image/png", Data: fakePNG}, nil
}

// Calls reports how many Generate calls the fake has served.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
