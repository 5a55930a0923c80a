package search_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/murmur/internal/search"
)

const resultPage = `<!DOCTYPE html>
<html><body>
<div class="results">
  <div class="result results_links result--ad">
    <a class="result__a" href="https://ads.example/buy">Achetez maintenant</a>
    <a class="result__snippet">Publicité</a>
  </div>
  <div class="result results_links results_links_deep web-result">
    <div class="links_main links_deep result__body">
      <h2 class="result__title">
        <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Ffr.wikipedia.org%2Fwiki%2FLyon&amp;rut=abc">Lyon <b>Wikipédia</b></a>
      </h2>
      <a class="result__snippet" href="#">Lyon est une ville   française
        située au confluent du Rhône et de la Saône.</a>
    </div>
  </div>
  <div class="result results_links web-result">
    <h2 class="result__title"><a class="result__a" href="https://www.lyon.fr/">Ville de Lyon</a></h2>
    <div class="result__snippet">Site officiel.</div>
  </div>
  <div class="result results_links web-result">
    <h2 class="result__title"><a class="result__a" href="https://example.org/3">Troisième</a></h2>
  </div>
  <div class="result results_links web-result">
    <h2 class="result__title"><a class="result__a" href="https://example.org/4">Quatrième</a></h2>
  </div>
</div>
</body></html>`

func TestDuckDuckGo_Search(t *testing.T) {
	t.Parallel()

	var gotQuery, gotRegion, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		_ = r.ParseForm()
		gotQuery, gotRegion, gotUA = r.PostForm.Get("q"), r.PostForm.Get("kl"), r.UserAgent()
		_, _ = w.Write([]byte(resultPage))
	}))
	defer srv.Close()

	ddg := search.NewDuckDuckGo(search.WithEndpoint(srv.URL), search.WithUserAgent("test-agent"))
	results, err := ddg.Search(context.Background(), "  lyon récent ", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery != "lyon récent" || gotRegion != "fr-fr" || gotUA != "test-agent" {
		t.Errorf("request q=%q kl=%q ua=%q", gotQuery, gotRegion, gotUA)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3: %+v", len(results), results)
	}

	want := []search.Result{
		{
			Title:   "Lyon Wikipédia",
			URL:     "https://fr.wikipedia.org/wiki/Lyon",
			Snippet: "Lyon est une ville française située au confluent du Rhône et de la Saône.",
		},
		{Title: "Ville de Lyon", URL: "https://www.lyon.fr/", Snippet: "Site officiel."},
		{Title: "Troisième", URL: "https://example.org/3"},
	}
	for i, w := range want {
		if results[i] != w {
			t.Errorf("result %d = %+v, want %+v", i, results[i], w)
		}
	}
}

func TestDuckDuckGo_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		query   string
		limit   int
		wantErr error
		substr  string
	}{
		{name: "no results", status: http.StatusOK, body: "<html><body><div class=\"no-results\"></div></body></html>", query: "zzz", limit: 3, wantErr: search.ErrNoResults},
		{name: "rate limited", status: http.StatusForbidden, query: "x", limit: 3, substr: "status 403"},
		{name: "empty query", status: http.StatusOK, query: "   ", limit: 3, substr: "empty query"},
		{name: "bad limit", status: http.StatusOK, query: "x", limit: 0, substr: "limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := search.NewDuckDuckGo(search.WithEndpoint(srv.URL)).Search(context.Background(), tt.query, tt.limit)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.substr != "" && !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("err = %q, want substring %q", err, tt.substr)
			}
		})
	}
}

func TestDuckDuckGo_ContextCancelled(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := search.NewDuckDuckGo(search.WithEndpoint(srv.URL)).Search(ctx, "x", 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
