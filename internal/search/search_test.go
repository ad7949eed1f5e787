package search

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockProvider struct {
	name    string
	results []Result
	err     error
	calls   int
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, _ Options) ([]Result, error) {
	m.calls++
	return m.results, m.err
}

func TestManager_FallsThrough(t *testing.T) {
	first := &mockProvider{name: "google", err: ErrQuotaExceeded}
	second := &mockProvider{name: "searxng", results: []Result{{Title: "Tetra care"}}}

	mgr := NewManager(nil)
	mgr.Register(first)
	mgr.Register(second)

	got, err := mgr.Search(context.Background(), "neon tetra temperature", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Tetra care" {
		t.Errorf("Search() = %+v", got)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", first.calls, second.calls)
	}
}

func TestManager_AllFail(t *testing.T) {
	mgr := NewManager(nil)
	mgr.Register(&mockProvider{name: "google", err: ErrQuotaExceeded})

	_, err := mgr.Search(context.Background(), "q", Options{})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Search() error = %v, want ErrQuotaExceeded", err)
	}
}

func TestManager_NotConfigured(t *testing.T) {
	mgr := NewManager(nil)
	if mgr.Configured() {
		t.Error("empty manager reports configured")
	}
	if _, err := mgr.Search(context.Background(), "q", Options{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Search() error = %v, want ErrNotConfigured", err)
	}
}

func TestGoogle_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("cx") != "cx1" || q.Get("num") != "5" {
			t.Errorf("query = %v", q)
		}
		io.WriteString(w, `{"items":[{"title":"Neon &amp; Tetra","link":"https://x","snippet":"Keep at <b>24-26°C</b>."}]}`)
	}))
	defer srv.Close()

	g := NewGoogle("k", "cx1")
	g.endpoint = srv.URL

	got, err := g.Search(context.Background(), "tetra", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "Neon & Tetra" || got[0].Snippet != "Keep at 24-26°C." {
		t.Errorf("Search() = %+v", got)
	}
}

func TestGoogle_Quota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGoogle("k", "cx")
	g.endpoint = srv.URL
	if _, err := g.Search(context.Background(), "q", Options{}); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Search() error = %v, want ErrQuotaExceeded", err)
	}
}

func TestSearXNG_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"results":[
			{"title":"A","url":"https://a","content":"first"},
			{"title":"A again","url":"https://a","content":"first, other engine"},
			{"title":"B","url":"https://b","content":"second"},
			{"title":"C","url":"https://c","content":"third"}
		]}`)
	}))
	defer srv.Close()

	got, err := NewSearXNG(srv.URL+"/").Search(context.Background(), "q", Options{Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Title != "A" || got[1].Snippet != "second" {
		t.Errorf("Search() = %+v", got)
	}
}

func TestFormatResults(t *testing.T) {
	if got := FormatResults(nil); got != "No results found." {
		t.Errorf("FormatResults(nil) = %q", got)
	}
	got := FormatResults([]Result{{Title: "A", Snippet: "one"}, {Title: "B"}})
	want := "Top Search Results:\n- A: one\n- B"
	if got != want {
		t.Errorf("FormatResults() = %q, want %q", got, want)
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain   text\n here", "plain text here"},
		{"<b>bold</b> move", "bold move"},
		{"fish &amp; chips", "fish & chips"},
		{"line<br>break", "line break"},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
