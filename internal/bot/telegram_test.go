package bot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unfurl/internal/imagecache"
	"unfurl/internal/provider"
	"unfurl/internal/scraper"
	"unfurl/internal/storage"
)

const testChatID = 42

// telegramServer answers Bot API calls and records the form of each one.
type telegramServer struct {
	*httptest.Server
	mu    sync.Mutex
	calls map[string][]map[string]string
}

func newTelegramServer(t *testing.T) *telegramServer {
	t.Helper()
	ts := &telegramServer{calls: make(map[string][]map[string]string)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		fields := map[string]string{}
		if err := r.ParseMultipartForm(10 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
		}
		ts.mu.Lock()
		ts.calls[method] = append(ts.calls[method], fields)
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":%d,"type":"private"}}}`, testChatID)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *telegramServer) sent(method string) []map[string]string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]map[string]string(nil), ts.calls[method]...)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func setupHandler(t *testing.T, ts *telegramServer, timeout time.Duration) (*Handler, storage.Store) {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	session := scraper.NewSession(scraper.NewHTTPFetcher(5*time.Second, "", 0), scraper.Options{}, quietLogger())
	cache, err := imagecache.New(afero.NewMemMapFs(), "/images", 4, quietLogger())
	require.NoError(t, err)

	ctx := context.Background()
	metadata := provider.NewMetadataProvider(ctx, store, session, time.Hour, quietLogger())
	images := provider.NewImageProvider(ctx, cache, session, quietLogger())
	t.Cleanup(func() {
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		metadata.Wait(waitCtx)
		images.Wait(waitCtx)
	})

	h, err := NewHandler("123:test", metadata, images, timeout, quietLogger(),
		tgbot.WithServerURL(ts.URL), tgbot.WithSkipGetMe())
	require.NoError(t, err)
	return h, store
}

// slowOrigin holds every request until the test ends.
func slowOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, `<html><head><meta property="og:title" content="late"/></head></html>`)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv
}

func textUpdate(text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   1,
		Text: text,
		Chat: models.Chat{ID: testChatID},
		From: &models.User{ID: 7},
	}}
}

func TestDefaultHandler_RepliesAfterTimeout(t *testing.T) {
	ts := newTelegramServer(t)
	h, _ := setupHandler(t, ts, 200*time.Millisecond)
	origin := slowOrigin(t)

	start := time.Now()
	h.defaultHandler(context.Background(), h.bot, textUpdate("see "+origin.URL+"/slow"))
	assert.Less(t, time.Since(start), 5*time.Second)

	sent := ts.sent("sendMessage")
	require.Len(t, sent, 1, "a reply is sent even though the page is still loading")
	assert.Contains(t, sent[0]["text"], "No preview available")
}

func TestDefaultHandler_TimeoutRepliesWithStoredPreview(t *testing.T) {
	ts := newTelegramServer(t)
	h, store := setupHandler(t, ts, 200*time.Millisecond)
	origin := slowOrigin(t)
	ref := origin.URL + "/stale"

	ctx := context.Background()
	rec, err := store.FetchOrCreate(ctx, ref)
	require.NoError(t, err)
	rec.SourceReference = ref
	rec.Title = "cached title"
	rec.LastUpdated = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(ctx, rec))

	h.defaultHandler(ctx, h.bot, textUpdate(ref))

	sent := ts.sent("sendMessage")
	require.Len(t, sent, 1)
	assert.Equal(t, "cached title\n"+ref, sent[0]["text"])
}

func TestDefaultHandler_SendsPhoto(t *testing.T) {
	ts := newTelegramServer(t)
	h, _ := setupHandler(t, ts, 5*time.Second)

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	var origin *httptest.Server
	origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/p.png" {
			w.Header().Set("Content-Type", "image/png")
			w.Write(buf.Bytes())
			return
		}
		fmt.Fprintf(w, `<html><head><meta property="og:title" content="Pic"/><meta property="og:image" content="%s/p.png"/></head></html>`, origin.URL)
	}))
	defer origin.Close()
	ref := origin.URL + "/page"

	h.defaultHandler(context.Background(), h.bot, textUpdate(ref))

	photos := ts.sent("sendPhoto")
	require.Len(t, photos, 1)
	assert.Equal(t, "Pic\n"+ref, photos[0]["caption"])
	assert.Empty(t, ts.sent("sendMessage"))
}

func TestForgetHandler(t *testing.T) {
	ts := newTelegramServer(t)
	h, store := setupHandler(t, ts, time.Second)
	ctx := context.Background()
	ref := "https://example.com/forget-me"

	h.forgetHandler(ctx, h.bot, textUpdate("/forget "+ref))

	_, err := store.FetchOrCreate(ctx, ref)
	require.NoError(t, err)
	h.forgetHandler(ctx, h.bot, textUpdate("/forget "+ref))

	h.forgetHandler(ctx, h.bot, textUpdate("/forget"))

	sent := ts.sent("sendMessage")
	require.Len(t, sent, 3)
	assert.Equal(t, "Nothing stored for that link.", sent[0]["text"])
	assert.Equal(t, "Forgotten.", sent[1]["text"])
	assert.Equal(t, "Usage: /forget <link>", sent[2]["text"])
}
