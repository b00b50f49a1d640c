package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"unfurl/internal/domain"
	"unfurl/internal/scraper"
	"unfurl/internal/storage"
	"unfurl/internal/task"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// page is a test origin serving one og:title and counting requests.
type page struct {
	*httptest.Server
	hits    atomic.Int32
	status  atomic.Int32
	title   atomic.Value
	release chan struct{}
}

func newPage(t *testing.T, title string, blocking bool) *page {
	t.Helper()
	p := &page{}
	p.title.Store(title)
	p.status.Store(http.StatusOK)
	if blocking {
		p.release = make(chan struct{})
	}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		if p.release != nil {
			select {
			case <-p.release:
			case <-r.Context().Done():
				return
			}
		}
		if code := int(p.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><meta property="og:title" content="%s"/></head></html>`, p.title.Load())
	}))
	t.Cleanup(p.Close)
	return p
}

func setupMetadataProvider(t *testing.T, embedEndpoint string) (*MetadataProvider, storage.Store) {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	session := scraper.NewSession(scraper.NewHTTPFetcher(5*time.Second, "", 0),
		scraper.Options{EmbedEndpoint: embedEndpoint}, testLogger())
	return NewMetadataProvider(context.Background(), store, session, time.Hour, testLogger()), store
}

type delivery struct {
	meta domain.Metadata
	err  error
}

func collect() (MetadataCompletion, <-chan delivery) {
	ch := make(chan delivery, 8)
	return func(m domain.Metadata, err error) { ch <- delivery{m, err} }, ch
}

func waitDone(t *testing.T, tk *task.Task) {
	t.Helper()
	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func drain(ch <-chan delivery) []delivery {
	var out []delivery
	for {
		select {
		case d := <-ch:
			out = append(out, d)
		default:
			return out
		}
	}
}

func receive(t *testing.T, ch <-chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
		return delivery{}
	}
}
