package provider

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unfurl/internal/domain"
	"unfurl/internal/imagecache"
	"unfurl/internal/task"
)

type fakeDownloader struct {
	data    []byte
	err     error
	calls   atomic.Int32
	release chan struct{}
}

func (d *fakeDownloader) Download(ctx context.Context, reference string) ([]byte, error) {
	d.calls.Add(1)
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.data, d.err
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func setupImageProvider(t *testing.T, d Downloader) *ImageProvider {
	t.Helper()
	cache, err := imagecache.New(afero.NewMemMapFs(), "/images", 4, testLogger())
	require.NoError(t, err)
	return NewImageProvider(context.Background(), cache, d, testLogger())
}

type imageResult struct {
	img *imagecache.Image
	err error
}

func loadSync(t *testing.T, p *ImageProvider, ref string) imageResult {
	t.Helper()
	ch := make(chan imageResult, 1)
	tk := p.Load(ref, func(img *imagecache.Image, err error) { ch <- imageResult{img, err} })
	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("load did not finish")
	}
	select {
	case r := <-ch:
		return r
	default:
		t.Fatal("load finished without a delivery")
		return imageResult{}
	}
}

func TestImageProvider_MissDownloadsThenHits(t *testing.T) {
	d := &fakeDownloader{data: testPNG(t)}
	p := setupImageProvider(t, d)
	ref := "https://cdn.example.com/a.png"

	first := loadSync(t, p, ref)
	require.NoError(t, first.err)
	assert.Equal(t, "png", first.img.Format)
	assert.Equal(t, 4, first.img.Bounds().Dx())

	second := loadSync(t, p, ref)
	require.NoError(t, second.err)
	assert.EqualValues(t, 1, d.calls.Load(), "second load is served from the cache")

	// Disk tier survives a memory purge.
	p.Cache().ClearMemory()
	third := loadSync(t, p, ref)
	require.NoError(t, third.err)
	assert.EqualValues(t, 1, d.calls.Load())
}

func TestImageProvider_DownloadFailure(t *testing.T) {
	d := &fakeDownloader{err: domain.ErrNetworkFailure}
	p := setupImageProvider(t, d)

	r := loadSync(t, p, "https://cdn.example.com/missing.png")
	assert.ErrorIs(t, r.err, domain.ErrNetworkFailure)
	assert.Nil(t, r.img)
}

func TestImageProvider_UndecodableBytes(t *testing.T) {
	d := &fakeDownloader{data: []byte("<html>not an image</html>")}
	p := setupImageProvider(t, d)
	ref := "https://cdn.example.com/page"

	r := loadSync(t, p, ref)
	assert.ErrorIs(t, r.err, domain.ErrDecodeFailure)

	_, ok := p.Cache().Get(ref)
	assert.False(t, ok, "nothing is cached for undecodable data")
}

func TestImageProvider_SuppressedLoadStillCaches(t *testing.T) {
	d := &fakeDownloader{data: testPNG(t), release: make(chan struct{})}
	p := setupImageProvider(t, d)
	ref := "https://cdn.example.com/bg.png"

	var called atomic.Bool
	tk := p.Load(ref, func(*imagecache.Image, error) { called.Store(true) })
	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	p.Cancel(tk, true)
	close(d.release)
	<-tk.Done()

	assert.False(t, called.Load())
	assert.Equal(t, task.Suppressed, tk.State())
	_, ok := p.Cache().Get(ref)
	assert.True(t, ok, "the image is cached after a suppressed load")
}

func TestImageProvider_AbortCancelsDownload(t *testing.T) {
	d := &fakeDownloader{data: testPNG(t), release: make(chan struct{})}
	defer close(d.release)
	p := setupImageProvider(t, d)
	ref := "https://cdn.example.com/abort.png"

	var called atomic.Bool
	tk := p.Load(ref, func(*imagecache.Image, error) { called.Store(true) })
	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	p.Cancel(tk, false)
	<-tk.Done()

	assert.False(t, called.Load())
	assert.Equal(t, task.Aborted, tk.State())

	// A later load starts a fresh download instead of joining the aborted one.
	d2 := &fakeDownloader{data: testPNG(t)}
	p.downloader = d2
	r := loadSync(t, p, ref)
	require.NoError(t, r.err)
	assert.EqualValues(t, 1, d2.calls.Load())
}

func TestImageProvider_ConcurrentLoadsShareDownload(t *testing.T) {
	d := &fakeDownloader{data: testPNG(t), release: make(chan struct{})}
	p := setupImageProvider(t, d)
	ref := "https://cdn.example.com/shared.png"

	results := make(chan imageResult, 2)
	done := func(img *imagecache.Image, err error) { results <- imageResult{img, err} }
	t1 := p.Load(ref, done)
	t2 := p.Load(ref, done)

	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(d.release)
	<-t1.Done()
	<-t2.Done()

	assert.EqualValues(t, 1, d.calls.Load())
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		require.NotNil(t, r.img)
	}
}
