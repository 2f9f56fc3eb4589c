package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:5000", "secret123")

	if c == nil {
		t.Fatal("New returned nil")
	}
	if c.baseURL != "http://localhost:5000" {
		t.Errorf("expected baseURL=http://localhost:5000, got %s", c.baseURL)
	}
	if c.apiKey != "secret123" {
		t.Errorf("expected apiKey=secret123, got %s", c.apiKey)
	}
	if c.httpClient == nil {
		t.Error("httpClient is nil")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:5000/", "secret")
	if c.baseURL != "http://localhost:5000" {
		t.Errorf("expected trailing slash trimmed, got %s", c.baseURL)
	}
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthcheck" {
			t.Errorf("expected path /healthcheck, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "")
	if err := c.Healthcheck(context.Background()); err != nil {
		t.Errorf("Healthcheck failed: %v", err)
	}
}

func TestHealthcheck_ServerDown(t *testing.T) {
	c := New("http://localhost:59999", "") // unlikely to be listening
	if err := c.Healthcheck(context.Background()); err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestHealthcheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.URL, "")
	var se *StatusError
	if err := c.Healthcheck(context.Background()); !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Errorf("expected status error 500, got %v", err)
	}
}

func gzipped(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestUpload_Success(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  []byte
		wantType string
	}{
		{"gzipped scene", "scene_20260301_120000.000.json.gz", gzipped(t, `{"object":{}}`), "application/gzip"},
		{"plain scene", "scene_20260301_120000.000.json", []byte(`{"object":{}}`), "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := map[string]string{}
			var gotContent []byte

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/exports/add" {
					t.Errorf("expected path /api/v1/exports/add, got %s", r.URL.Path)
				}
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				if err := r.ParseMultipartForm(10 << 20); err != nil {
					t.Errorf("failed to parse multipart form: %v", err)
					return
				}
				for _, k := range []string{"secret", "filename", "kind", "contentType", "nodes", "duration"} {
					got[k] = r.FormValue(k)
				}
				file, _, err := r.FormFile("file")
				if err != nil {
					t.Errorf("failed to get file: %v", err)
					return
				}
				defer file.Close()
				gotContent, _ = io.ReadAll(file)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, tt.content, 0644); err != nil {
				t.Fatalf("failed to create test file: %v", err)
			}

			c := New(server.URL, "mysecret")
			err := c.Upload(context.Background(), path, UploadMetadata{Kind: "scene", Nodes: 14, Duration: 2.5})
			if err != nil {
				t.Fatalf("Upload failed: %v", err)
			}

			want := map[string]string{
				"secret":      "mysecret",
				"filename":    tt.file,
				"kind":        "scene",
				"contentType": tt.wantType,
				"nodes":       "14",
				"duration":    "2.5",
			}
			for k, v := range want {
				if got[k] != v {
					t.Errorf("expected %s=%s, got %s", k, v, got[k])
				}
			}
			if !bytes.Equal(gotContent, tt.content) {
				t.Errorf("uploaded content differs: %d bytes, want %d", len(gotContent), len(tt.content))
			}
		})
	}
}

func TestUpload_FileNotFound(t *testing.T) {
	c := New("http://localhost:5000", "secret")
	if err := c.Upload(context.Background(), "/nonexistent/file.json.gz", UploadMetadata{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestUpload_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "scene.json")
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}

	c := New(server.URL, "wrong-secret")
	err := c.Upload(context.Background(), path, UploadMetadata{})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusForbidden {
		t.Errorf("expected status error 403, got %v", err)
	}
}

func TestUpload_Canceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "scene.json")
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(server.URL, "").Upload(ctx, path, UploadMetadata{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
