package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/docq-ai/docq-go/internal/answer"
	"github.com/docq-ai/docq-go/internal/auth"
	"github.com/docq-ai/docq-go/internal/docstore"
	"github.com/docq-ai/docq-go/internal/embedding"
	"github.com/docq-ai/docq-go/internal/ingest"
	"github.com/docq-ai/docq-go/internal/queue"
)

// fakeGenerator returns a canned reply and records the messages it received.
type fakeGenerator struct {
	reply     string
	err       error
	lastInput []*schema.Message
}

func (f *fakeGenerator) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.lastInput = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

// testEnv bundles the server under test with its backing fakes.
type testEnv struct {
	server *Server
	store  *docstore.SQLiteStore
	queue  *queue.MemoryQueue
}

// newTestEnv builds a server over an in-memory store and queue. cfg may be
// nil for defaults (no auth, no pingers).
func newTestEnv(t *testing.T, gen *fakeGenerator, cfg *Config) *testEnv {
	t.Helper()

	store, err := docstore.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	manager := embedding.NewManager(&fakeEmbedder{})
	svc, err := answer.NewService(gen, store, manager)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	pipeline, err := ingest.NewPipeline(store, manager)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	var seq int
	pipeline.SetIDGenerator(func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	})

	q := queue.NewMemoryQueue()
	srv, err := New(Deps{Answer: svc, Pipeline: pipeline, Producer: q, Store: store}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.stopRL)
	return &testEnv{server: srv, store: store, queue: q}
}

// do runs one request through the full middleware chain.
func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

// multipartBody builds a multipart form with one file plus extra fields.
func multipartBody(t *testing.T, field, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func seedDoc(t *testing.T, store *docstore.SQLiteStore, doc docstore.Document) {
	t.Helper()
	if err := store.Upsert(context.Background(), &doc); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}
}

func TestHandleChat(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{reply: "hello there"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		jsonBody(t, chatRequest{Message: "hi"}))
	rr := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body)
	}
	var resp chatResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message != "hello there" {
		t.Errorf("unexpected reply %q", resp.Message)
	}
}

func TestHandleChat_CarriesConversationHistory(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: "your first question was about leave"}
	env := newTestEnv(t, gen, nil)

	body := strings.NewReader(`{
		"message": "and my second question?",
		"conversationHistory": [
			{"role": "user", "content": "how much leave do I get?"},
			{"role": "assistant", "content": "30 days"}
		]
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	rr := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body)
	}
	// system prompt + 2 history turns + current message
	if len(gen.lastInput) != 4 {
		t.Fatalf("expected 4 messages at the model, got %d", len(gen.lastInput))
	}
	if gen.lastInput[1].Content != "how much leave do I get?" {
		t.Errorf("history must reach the model, got %q", gen.lastInput[1].Content)
	}
	if gen.lastInput[3].Content != "and my second question?" {
		t.Errorf("current message must come last, got %q", gen.lastInput[3].Content)
	}
}

func TestHandleChat_EmptyMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		jsonBody(t, chatRequest{Message: "  "}))
	if rr := env.do(t, req); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestHandleRAGQuery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{reply: "30 days"}, nil)
	seedDoc(t, env.store, docstore.Document{
		ID: "d1", UserID: "u1", Content: "vacation is 30 days",
		Title: "T", Embedding: []float32{0.1},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/rag-query",
		jsonBody(t, ragQueryRequest{Question: "how long?", UserID: "u1"}))
	rr := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body)
	}
	var resp ragQueryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "30 days" {
		t.Errorf("unexpected answer %q", resp.Answer)
	}
	if len(resp.Sources) != 1 {
		t.Errorf("expected the grounding document in sources, got %d", len(resp.Sources))
	}
}

func TestHandleRAGQuery_NoDocuments(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{reply: "unused"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/rag-query",
		jsonBody(t, ragQueryRequest{Question: "anything?", UserID: "u1"}))
	rr := env.do(t, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body)
	}
	if !strings.Contains(rr.Body.String(), "no documents") {
		t.Errorf("expected a no-documents error, got %s", rr.Body)
	}
}

func TestHandleRAGQuery_RequiresUser(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/rag-query",
		jsonBody(t, ragQueryRequest{Question: "q"}))
	if rr := env.do(t, req); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a userId, got %d", rr.Code)
	}
}

func TestHandleIngest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, nil)

	body := strings.NewReader(`{"userId":"u1","data":{"title":"T","content":"hello"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	rr := env.do(t, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body)
	}
	var resp ingestResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "queued" || resp.ID == "" || resp.MessageID == "" || resp.Action != "upsert" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if env.queue.Len() != 1 {
		t.Errorf("expected 1 queued message, got %d", env.queue.Len())
	}
}

func TestHandleIngest_MissingOwner(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest",
		strings.NewReader(`{"data":{"content":"x"}}`))
	rr := env.do(t, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body)
	}
	if !strings.Contains(rr.Body.String(), "userId") {
		t.Errorf("expected the missing field named, got %s", rr.Body)
	}
	if env.queue.Len() != 0 {
		t.Errorf("invalid envelope must not be queued")
	}
}

func TestHandleUploadExcel_QueuesRows(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, nil)

	body, contentType := multipartBody(t, "file", "rows.csv",
		[]byte("name,amount\nwidget,10\ngadget,20\n"),
		map[string]string{"userId": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/api/upload-excel", body)
	req.Header.Set("Content-Type", contentType)
	rr := env.do(t, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body)
	}
	if env.queue.Len() != 2 {
		t.Errorf("expected one message per row, got %d", env.queue.Len())
	}
}

func TestHandleUploadExcelDirect_PersistsRows(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, nil)

	body, contentType := multipartBody(t, "file", "rows.csv",
		[]byte("name\nwidget\n"),
		map[string]string{"userId": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/api/upload-excel-direct", body)
	req.Header.Set("Content-Type", contentType)
	rr := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body)
	}

	docs, err := env.store.QueryEmbedded(context.Background(), "u1")
	if err != nil {
		t.Fatalf("QueryEmbedded: %v", err)
	}
	if len(docs) != 1 || docs[0].SourceFile != "rows.csv" {
		t.Fatalf("expected one embedded record from rows.csv, got %+v", docs)
	}
}

func TestHandleUploadExcelDirect_RejectsUnknownType(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, nil)

	body, contentType := multipartBody(t, "file", "notes.pdf", []byte("%PDF"),
		map[string]string{"userId": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/api/upload-excel-direct", body)
	req.Header.Set("Content-Type", contentType)

	if rr := env.do(t, req); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-tabular file, got %d", rr.Code)
	}
}

func TestHandleUploadPolicyDocuments(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, nil)

	body, contentType := multipartBody(t, "files", "handbook.txt",
		[]byte("remote work is allowed"),
		map[string]string{"userId": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/api/upload-policy-documents", body)
	req.Header.Set("Content-Type", contentType)
	rr := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body)
	}
	var results []ingest.FileResult
	if err := json.Unmarshal(rr.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 1 || results[0].Status != "ingested" {
		t.Fatalf("unexpected results: %+v", results)
	}

	files, err := env.store.ListFiles(context.Background(), "u1", docstore.TypePolicyDocument)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0] != "handbook.txt" {
		t.Errorf("expected handbook.txt listed, got %v", files)
	}
}

func TestHandleUploadedFiles(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, nil)
	seedDoc(t, env.store, docstore.Document{
		ID: "d1", UserID: "u1", Content: "x",
		DocumentType: docstore.TypeCSVData, SourceFile: "rows.csv",
	})
	seedDoc(t, env.store, docstore.Document{
		ID: "d2", UserID: "u1", Content: "y",
		DocumentType: docstore.TypePolicyDocument, FileName: "handbook.pdf",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/uploaded-files?userId=u1", nil)
	rr := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body)
	}
	var resp uploadedFilesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.CSVFiles) != 1 || resp.CSVFiles[0] != "rows.csv" {
		t.Errorf("unexpected csvFiles: %v", resp.CSVFiles)
	}
	if len(resp.PolicyFiles) != 1 || resp.PolicyFiles[0] != "handbook.pdf" {
		t.Errorf("unexpected policyFiles: %v", resp.PolicyFiles)
	}
}

func TestHandleUploadedFiles_EmptyListsNotNull(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/uploaded-files?userId=u1", nil)
	rr := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"csvFiles":[]`) || !strings.Contains(body, `"policyFiles":[]`) {
		t.Errorf("expected empty arrays, got %s", body)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	if rr := env.do(t, req); rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

// failingPinger always reports its dependency as down.
type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }
func (failingPinger) Name() string               { return "store" }

func TestHandleReady_FailingDependency(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{}, &Config{Pingers: []Pinger{failingPinger{}}})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := env.do(t, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp readyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ready || len(resp.Checks) != 1 || resp.Checks[0].OK {
		t.Errorf("unexpected readiness report: %+v", resp)
	}
}

func TestAuth_ProtectedRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{reply: "ok"},
		&Config{Verifier: &auth.DevVerifier{Subject: "tester"}})

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		jsonBody(t, chatRequest{Message: "hi"}))
	if rr := env.do(t, req); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/chat",
		jsonBody(t, chatRequest{Message: "hi"}))
	req.Header.Set("Authorization", "Bearer anything")
	if rr := env.do(t, req); rr.Code != http.StatusOK {
		t.Errorf("expected 200 with a token, got %d", rr.Code)
	}
}

func TestAuthVerify_ReturnsIdentity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{},
		&Config{Verifier: &auth.DevVerifier{Subject: "tester"}})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rr := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body)
	}
	var resp verifyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Valid || resp.User == nil || resp.User.Subject != "tester" {
		t.Errorf("unexpected identity: %+v", resp)
	}
}

// pickyVerifier accepts exactly one token value.
type pickyVerifier struct{ accept string }

func (p *pickyVerifier) Verify(_ context.Context, token string) (*auth.Identity, error) {
	if token != p.accept {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Identity{Subject: "tester"}, nil
}

func TestAuthVerify_TokenFromBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{},
		&Config{Verifier: &pickyVerifier{accept: "good"}})

	// The header satisfies the middleware; the body names the token to check.
	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify",
		jsonBody(t, verifyRequest{Token: "bad"}))
	req.Header.Set("Authorization", "Bearer good")
	if rr := env.do(t, req); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for an invalid body token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/verify",
		jsonBody(t, verifyRequest{Token: "good"}))
	req.Header.Set("Authorization", "Bearer good")
	rr := env.do(t, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body)
	}
	var resp verifyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Valid || resp.User == nil || resp.User.Subject != "tester" {
		t.Errorf("unexpected verification result: %+v", resp)
	}
}

func TestAuth_IdentityIsDefaultOwner(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &fakeGenerator{reply: "grounded"},
		&Config{Verifier: &auth.DevVerifier{Subject: "tester"}})
	seedDoc(t, env.store, docstore.Document{
		ID: "d1", UserID: "tester", Content: "x", Title: "T", Embedding: []float32{0.1},
	})

	// No explicit userId: the authenticated subject owns the query.
	req := httptest.NewRequest(http.MethodPost, "/api/rag-query",
		jsonBody(t, ragQueryRequest{Question: "q?"}))
	req.Header.Set("Authorization", "Bearer anything")
	rr := env.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body)
	}
}
