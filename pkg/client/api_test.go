package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestAPI(t *testing.T, baseURL string) *HTTPAPI {
	t.Helper()
	store, err := OpenStore(t.TempDir(), NewTabID())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return NewHTTPAPI(baseURL, store)
}

func TestHTTPAPIGetCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tab") == "" {
			t.Error("poll request missing tab identifier")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"status":"no_session","recently_completed":true}}`))
	}))
	defer srv.Close()

	api := newTestAPI(t, srv.URL)
	cur, err := api.GetCurrent(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("get current: %v", err)
	}
	if cur.Status != StatusNoSession || !cur.RecentlyCompleted {
		t.Fatalf("unexpected answer: %+v", cur)
	}
}

func TestHTTPAPIRequestTimeoutBoundsHungPolls(t *testing.T) {
	if DefaultRequestTimeout >= DefaultPollInterval {
		t.Fatalf("request timeout %v must be below the poll interval %v",
			DefaultRequestTimeout, DefaultPollInterval)
	}

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	api := newTestAPI(t, srv.URL)
	api.SetRequestTimeout(30 * time.Millisecond)

	start := time.Now()
	_, err := api.GetCurrent(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("hung request returned no error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("hung request held the poll for %v", elapsed)
	}
}
