package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"

	"rag-assistant/internal/models"
	"rag-assistant/internal/parser"
	"rag-assistant/internal/rag"
)

type fakeService struct {
	mu        sync.Mutex
	texts     map[string]string
	question  string
	queryErr  error
	clearErr  error
	cleared   bool
	stats     models.Stats
	ingestErr error
}

func (f *fakeService) IngestFiles(ctx context.Context, files []rag.FileInput, extractor rag.Extractor) (*models.IngestReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.texts == nil {
		f.texts = map[string]string{}
	}
	report := &models.IngestReport{}
	for _, in := range files {
		text, err := extractor.Extract(in.Path, ".txt")
		if err != nil || strings.HasSuffix(in.Filename, ".bin") {
			report.FilesFailed = append(report.FilesFailed, models.FileError{Filename: in.Filename, Error: "unsupported"})
			continue
		}
		f.texts[in.Filename] = text
		report.FilesProcessed++
		report.ChunksAdded++
	}
	report.TotalChunks = len(f.texts)
	return report, f.ingestErr
}

func (f *fakeService) Query(ctx context.Context, question string) (*models.QueryResponse, error) {
	f.question = question
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &models.QueryResponse{
		Answer:     "answer to " + question,
		Sources:    []models.Source{{Filename: "a.txt", TextSnippet: "snippet", SimilarityScore: 0.5}},
		NumSources: 1,
	}, nil
}

func (f *fakeService) Stats() models.Stats { return f.stats }

func (f *fakeService) ClearIndex(ctx context.Context) error {
	f.cleared = f.clearErr == nil
	return f.clearErr
}

func newTestServer(t *testing.T, svc *fakeService) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	srv := httptest.NewServer(NewRouter(NewHandler(svc, parser.Extractor{}, dir, 1)))
	t.Cleanup(srv.Close)
	return srv, dir
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHandleUpload(t *testing.T) {
	svc := &fakeService{}
	srv, dir := newTestServer(t, svc)

	body, ct := multipartBody(t, map[string]string{
		"notes.txt": "alpha beta gamma",
		"blob.bin":  "\x00\x01",
	})
	resp, err := http.Post(srv.URL+"/upload", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
	got := decode[UploadResponse](t, resp)
	if got.UploadedCount != 1 || got.Message != "Successfully uploaded 1 file(s)" {
		t.Errorf("response = %+v", got)
	}
	if got.IngestReport == nil || len(got.FilesFailed) != 1 || got.FilesFailed[0].Filename != "blob.bin" {
		t.Errorf("report = %+v", got.IngestReport)
	}
	if svc.texts["notes.txt"] != "alpha beta gamma" {
		t.Errorf("ingested text = %q", svc.texts["notes.txt"])
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("upload dir not cleaned up: %d entries left", len(entries))
	}
}

func TestHandleUpload_NothingProcessed(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	body, ct := multipartBody(t, map[string]string{"blob.bin": "data"})
	resp, err := http.Post(srv.URL+"/upload", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	got := decode[UploadResponse](t, resp)
	if got.UploadedCount != 0 || len(got.FilesFailed) != 1 {
		t.Errorf("response = %+v", got)
	}
}

func TestHandleUpload_NoFiles(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	body, ct := multipartBody(t, nil)
	resp, err := http.Post(srv.URL+"/upload", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if got := decode[ErrorResponse](t, resp); got.Error != "No files provided" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestHandleUpload_TooLarge(t *testing.T) {
	h := NewHandler(&fakeService{}, parser.Extractor{}, t.TempDir(), 1)

	body, ct := multipartBody(t, map[string]string{"big.txt": strings.Repeat("x", 2<<20)})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.HandleUpload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleUpload_IngestError(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{ingestErr: rag.ErrPersist})

	body, ct := multipartBody(t, map[string]string{"notes.txt": "text"})
	resp, err := http.Post(srv.URL+"/upload", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestHandleQuery(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
		wantAsked   string
	}{
		{"json", "application/json", `{"question": "  what is alpha?  "}`, http.StatusOK, "what is alpha?"},
		{"form", "application/x-www-form-urlencoded", url.Values{"question": {"what is beta?"}}.Encode(), http.StatusOK, "what is beta?"},
		{"empty question", "application/json", `{"question": "   "}`, http.StatusBadRequest, ""},
		{"missing body", "application/json", ``, http.StatusBadRequest, ""},
		{"bad json", "application/json", `{"question":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			srv, _ := newTestServer(t, svc)

			resp, err := http.Post(srv.URL+"/query", tt.contentType, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				resp.Body.Close()
				return
			}
			got := decode[models.QueryResponse](t, resp)
			if svc.question != tt.wantAsked || got.Answer != "answer to "+tt.wantAsked || got.NumSources != 1 {
				t.Errorf("asked %q, response %+v", svc.question, got)
			}
		})
	}
}

func TestHandleQuery_ServiceError(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{queryErr: errors.New("embedder down")})

	resp, err := http.Post(srv.URL+"/query", "application/json", strings.NewReader(`{"question":"q"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if got := decode[ErrorResponse](t, resp); got.Error != "embedder down" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestHandleStatsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{stats: models.Stats{TotalChunks: 7, TotalDocuments: 2}})

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	if got := decode[models.Stats](t, resp); got.TotalChunks != 7 || got.TotalDocuments != 2 {
		t.Errorf("stats = %+v", got)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if got := decode[HealthResponse](t, resp); got.Status != "ok" || got.TotalChunks != 7 {
		t.Errorf("health = %+v", got)
	}
}

func TestHandleClear(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			svc := &fakeService{}
			srv, _ := newTestServer(t, svc)

			req, _ := http.NewRequest(method, srv.URL+"/clear", nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != http.StatusOK || !svc.cleared {
				t.Fatalf("status = %d, cleared = %v", resp.StatusCode, svc.cleared)
			}
			if got := decode[MessageResponse](t, resp); got.Message != "All documents cleared successfully" {
				t.Errorf("message = %q", got.Message)
			}
		})
	}
}

func TestHandleClear_PersistError(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{clearErr: rag.ErrPersist})

	resp, err := http.Post(srv.URL+"/clear", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/query", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("status = %d, headers = %v", resp.StatusCode, resp.Header)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	resp, err := http.Post(srv.URL+"/stats", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
