package offers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetOffers_PassesParamsAndAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/offers_informations" {
			t.Fatalf("path = %s, want /v1/offers_informations", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Token test-key" {
			t.Fatalf("authorization = %q, want Token test-key", got)
		}
		if got := r.URL.Query().Get("keyword"); got != "shopee" {
			t.Fatalf("keyword = %q, want shopee", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"1","name":"Sale","domain":"shopee.vn"}]}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key", time.Second)

	params := map[string][]string{"keyword": {"shopee"}}
	body, err := client.GetOffers(context.Background(), params)
	if err != nil {
		t.Fatalf("GetOffers error: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("empty body")
	}
}

func TestGetOffers_TimeoutIsDistinct(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.GetOffers(ctx, nil)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestGetOffers_TimeoutCoversRetries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key", 100*time.Millisecond)

	start := time.Now()
	_, err := client.GetOffers(context.Background(), nil)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	// Дедлайн общий на все повторы: зависший каталог не должен
	// удерживать вызов кратно дольше отведённого времени.
	if elapsed > 500*time.Millisecond {
		t.Fatalf("elapsed = %v, want under 500ms", elapsed)
	}
}

func TestGetOffers_UpstreamFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key", time.Second)

	_, err := client.GetOffers(context.Background(), nil)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("error = %v, want ErrUpstream", err)
	}
}

func TestGetCategories_DistinctSortedDomains(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"id":"1","name":"a","domain":"tiki.vn"},
			{"id":"2","name":"b","domain":"shopee.vn"},
			{"id":"3","name":"c","domain":"tiki.vn"},
			{"id":"4","name":"d","domain":""}
		]}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "test-key", time.Second)

	got, err := client.GetCategories(context.Background())
	if err != nil {
		t.Fatalf("GetCategories error: %v", err)
	}

	want := []string{"shopee.vn", "tiki.vn"}
	if len(got) != len(want) {
		t.Fatalf("categories = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("categories = %v, want %v", got, want)
		}
	}
}
