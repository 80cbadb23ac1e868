package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, data any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
	}
	mux.HandleFunc("GET /api/classes/jss1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "unauthorized"})
			return
		}
		ok(w, map[string]any{"id": "jss1", "school_id": "sch1", "name": "JSS 1A"})
	})
	mux.HandleFunc("GET /api/terms/t1", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]any{"id": "t1", "name": "First Term", "year": "2025/2026", "next_term_begins": "2026-01-12T00:00:00Z"})
	})
	mux.HandleFunc("GET /api/classes/jss1/students", func(w http.ResponseWriter, r *http.Request) {
		ok(w, []map[string]any{
			{"id": "s1", "first_name": "Ada", "last_name": "Obi"},
			{"id": "s2", "first_name": "Bola", "last_name": "Ade"},
		})
	})
	mux.HandleFunc("GET /api/classes/jss1/subjects", func(w http.ResponseWriter, r *http.Request) {
		ok(w, []map[string]any{{"id": "math", "name": "Mathematics"}})
	})
	mux.HandleFunc("GET /api/results", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("class_id") != "jss1" || r.URL.Query().Get("term_id") != "t1" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		ok(w, []map[string]any{{
			"student_id": "s1", "class_id": "jss1", "term_id": "t1",
			"subjects": []map[string]any{{
				"subject_id": "math", "subject_name": "Mathematics",
				"components": map[string]any{"first_ca": 8, "exam": 55},
			}},
		}})
	})
	mux.HandleFunc("GET /api/classes/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "class not found"})
	})
	mux.HandleFunc("GET /api/classes/broken", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway</html>"))
	})
	mux.HandleFunc("GET /api/proxy/image", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") != "https://cdn.example.com/a.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("\x89PNG fake"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, token string) *Client {
	t.Helper()
	srv := newTestServer(t)
	c, err := New(srv.URL+"/", token, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"ftp://example.com", "::bad", ""} {
		if _, err := New(u, "", 0); err == nil {
			t.Errorf("New(%q) succeeded, want error", u)
		}
	}
}

func TestClientFetches(t *testing.T) {
	c := newTestClient(t, "secret")
	ctx := context.Background()

	cl, err := c.Class(ctx, "jss1")
	if err != nil {
		t.Fatalf("Class: %v", err)
	}
	if cl.Name != "JSS 1A" || cl.SchoolID != "sch1" {
		t.Errorf("class = %+v", cl)
	}

	term, err := c.Term(ctx, "t1")
	if err != nil {
		t.Fatalf("Term: %v", err)
	}
	if term.Year != "2025/2026" || term.NextTerm.IsZero() {
		t.Errorf("term = %+v", term)
	}

	students, err := c.Students(ctx, "jss1")
	if err != nil {
		t.Fatalf("Students: %v", err)
	}
	if len(students) != 2 || students[1].LastName != "Ade" {
		t.Errorf("students = %+v", students)
	}

	subjects, err := c.Subjects(ctx, "jss1")
	if err != nil || len(subjects) != 1 {
		t.Fatalf("Subjects = %+v, %v", subjects, err)
	}

	results, err := c.Results(ctx, "jss1", "t1")
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 1 || len(results[0].Subjects) != 1 {
		t.Fatalf("results = %+v", results)
	}
	comps := results[0].Subjects[0].Components
	if comps.FirstCA == nil || *comps.FirstCA != 8 || comps.SecondCA != nil || *comps.Exam != 55 {
		t.Errorf("components = %+v", comps)
	}

	img, err := c.Image(ctx, "https://cdn.example.com/a.png")
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	if string(img[:4]) != "\x89PNG" {
		t.Errorf("image bytes = %q", img)
	}
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		client     *Client
		call       func(c *Client) error
		wantStatus int
		wantMsg    string
	}{
		{"unauthorized", newTestClient(t, ""), func(c *Client) error { _, err := c.Class(ctx, "jss1"); return err }, 401, "unauthorized"},
		{"not found", newTestClient(t, "secret"), func(c *Client) error { _, err := c.Class(ctx, "missing"); return err }, 404, "class not found"},
		{"not json", newTestClient(t, "secret"), func(c *Client) error { _, err := c.Class(ctx, "broken"); return err }, 200, ""},
		{"image missing", newTestClient(t, "secret"), func(c *Client) error { _, err := c.Image(ctx, "https://cdn.example.com/b.png"); return err }, 404, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(tt.client)
			var fe *UpstreamFetchError
			if !errors.As(err, &fe) {
				t.Fatalf("error = %v, want UpstreamFetchError", err)
			}
			if fe.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", fe.Status, tt.wantStatus)
			}
			if tt.wantMsg != "" && fe.Err.Error() != tt.wantMsg {
				t.Errorf("Err = %q, want %q", fe.Err, tt.wantMsg)
			}
		})
	}
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(base, "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Term(context.Background(), "t1")
	var fe *UpstreamFetchError
	if !errors.As(err, &fe) || fe.Status != 0 {
		t.Fatalf("error = %v, want UpstreamFetchError without status", err)
	}
}
