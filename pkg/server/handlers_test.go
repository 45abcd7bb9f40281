package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	qt "github.com/frankban/quicktest"

	"github.com/EducloudHQ/video-agent-nova-embeddings/config"
	errdomain "github.com/EducloudHQ/video-agent-nova-embeddings/pkg/errors"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/service"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

type fakeService struct {
	uploadResult *service.UploadURLResult
	requestUID   types.RequestUIDType
	searchErr    error
	resolved     []types.Decision
	jobStatus    *service.JobStatus
	searchInfo   *service.SearchRequestInfo
	overdue      []service.PendingApproval
}

func (f *fakeService) OnObjectCreated(context.Context, types.ObjectRef) error { return nil }

func (f *fakeService) IssueUploadURL(_ context.Context, filename string, contentType string) (*service.UploadURLResult, error) {
	if filename == "" || !strings.HasPrefix(contentType, "video/") {
		return nil, fmt.Errorf("file name: %w", errdomain.ErrInvalidArgument)
	}
	return f.uploadResult, nil
}

func (f *fakeService) SubmitSearch(_ context.Context, query string) (types.RequestUIDType, error) {
	if f.searchErr != nil {
		return uuid.Nil, f.searchErr
	}
	return f.requestUID, nil
}

func (f *fakeService) ResolveApproval(_ context.Context, _ types.CallbackUIDType, decision types.Decision, _ string) error {
	if !decision.Valid() {
		return fmt.Errorf("decision: %w", errdomain.ErrInvalidArgument)
	}
	f.resolved = append(f.resolved, decision)
	return nil
}

func (f *fakeService) GetJobStatus(context.Context, types.JobUIDType) (*service.JobStatus, error) {
	if f.jobStatus == nil {
		return nil, fmt.Errorf("job: %w", errdomain.ErrNotFound)
	}
	return f.jobStatus, nil
}

func (f *fakeService) GetIngestStatus(context.Context, types.ObjectRef) (*service.JobStatus, error) {
	if f.jobStatus == nil {
		return nil, fmt.Errorf("active job: %w", errdomain.ErrNotFound)
	}
	return f.jobStatus, nil
}

func (f *fakeService) GetSearchRequest(context.Context, types.RequestUIDType) (*service.SearchRequestInfo, error) {
	if f.searchInfo == nil {
		return nil, fmt.Errorf("search request: %w", errdomain.ErrNotFound)
	}
	return f.searchInfo, nil
}

func (f *fakeService) ListOverdueApprovals(context.Context) ([]service.PendingApproval, error) {
	return f.overdue, nil
}

type fakeBus struct {
	events chan types.StatusEvent
}

func (f *fakeBus) Publish(context.Context, types.StatusEvent) error { return nil }

func (f *fakeBus) PublishIngest(context.Context, types.IngestEvent) error { return nil }

func (f *fakeBus) Subscribe(context.Context, string) (<-chan types.StatusEvent, func(), error) {
	return f.events, func() {}, nil
}

func newTestServer(svc *fakeService, bus *fakeBus) *Server {
	if bus == nil {
		bus = &fakeBus{events: make(chan types.StatusEvent)}
	}
	return NewServer(svc, bus, &config.ServerConfig{Host: "127.0.0.1", Port: 0}, zap.NewNop())
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleSubmitSearch(t *testing.T) {
	c := qt.New(t)
	requestUID := uuid.Must(uuid.NewV4())
	s := newTestServer(&fakeService{requestUID: requestUID}, nil)

	rec := postJSON(t, s.handleSubmitSearch, `{"query":"goal celebration"}`)

	c.Assert(rec.Code, qt.Equals, http.StatusAccepted)
	var resp searchResponse
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &resp), qt.IsNil)
	c.Assert(resp.RequestID, qt.Equals, requestUID.String())
}

func TestHandleSubmitSearch_InvalidBody(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{}, nil)

	rec := postJSON(t, s.handleSubmitSearch, `{garbage`)

	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestHandleSubmitSearch_EmptyQuery(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{searchErr: fmt.Errorf("query: %w", errdomain.ErrInvalidArgument)}, nil)

	rec := postJSON(t, s.handleSubmitSearch, `{"query":""}`)

	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestHandleIssueUploadURL(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{uploadResult: &service.UploadURLResult{
		URL:       "https://media.test/videos/match.mp4?sig=abc",
		ObjectKey: "videos/match.mp4",
	}}, nil)

	rec := postJSON(t, s.handleIssueUploadURL, `{"fileName":"match.mp4","contentType":"video/mp4"}`)

	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	var resp service.UploadURLResult
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &resp), qt.IsNil)
	c.Assert(resp.ObjectKey, qt.Equals, "videos/match.mp4")
}

func TestHandleIssueUploadURL_MissingContentType(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{uploadResult: &service.UploadURLResult{}}, nil)

	rec := postJSON(t, s.handleIssueUploadURL, `{"fileName":"match.mp4"}`)

	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestHandleResolveApproval(t *testing.T) {
	c := qt.New(t)
	svc := &fakeService{}
	s := newTestServer(svc, nil)
	callbackID := uuid.Must(uuid.NewV4()).String()

	rec := postJSON(t, s.handleResolveApproval,
		fmt.Sprintf(`{"callbackId":%q,"decision":"APPROVED","message":"ship it"}`, callbackID))

	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	c.Assert(svc.resolved, qt.DeepEquals, []types.Decision{types.DecisionApproved})
}

func TestHandleResolveApproval_BadCallbackID(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{}, nil)

	rec := postJSON(t, s.handleResolveApproval, `{"callbackId":"not-a-uuid","decision":"APPROVED"}`)

	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestHandleResolveApproval_BadDecision(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{}, nil)
	callbackID := uuid.Must(uuid.NewV4()).String()

	rec := postJSON(t, s.handleResolveApproval,
		fmt.Sprintf(`{"callbackId":%q,"decision":"MAYBE"}`, callbackID))

	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func getWithURLParam(t *testing.T, handler http.HandlerFunc, key, value string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleGetJob(t *testing.T) {
	c := qt.New(t)
	jobUID := uuid.Must(uuid.NewV4())
	s := newTestServer(&fakeService{jobStatus: &service.JobStatus{
		JobUID:      jobUID.String(),
		ObjectRef:   types.ObjectRef{Bucket: "video-media", Key: "videos/match.mp4"},
		State:       types.JobStateIndexing,
		VectorCount: 12,
	}}, nil)

	rec := getWithURLParam(t, s.handleGetJob, "jobUID", jobUID.String())

	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	var resp service.JobStatus
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &resp), qt.IsNil)
	c.Assert(resp.State, qt.Equals, types.JobStateIndexing)
	c.Assert(resp.VectorCount, qt.Equals, 12)
}

func TestHandleGetJob_NotFound(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{}, nil)

	rec := getWithURLParam(t, s.handleGetJob, "jobUID", uuid.Must(uuid.NewV4()).String())

	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)
}

func TestHandleGetJob_BadUID(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{}, nil)

	rec := getWithURLParam(t, s.handleGetJob, "jobUID", "not-a-uuid")

	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestHandleGetIngestStatus(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{jobStatus: &service.JobStatus{
		State: types.JobStateEmbedding,
	}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs?bucket=video-media&key=videos/match.mp4", nil)
	rec := httptest.NewRecorder()
	s.handleGetIngestStatus(rec, req)

	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	var resp service.JobStatus
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &resp), qt.IsNil)
	c.Assert(resp.State, qt.Equals, types.JobStateEmbedding)
}

func TestHandleGetIngestStatus_MissingParams(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs?bucket=video-media", nil)
	rec := httptest.NewRecorder()
	s.handleGetIngestStatus(rec, req)

	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestHandleGetSearch(t *testing.T) {
	c := qt.New(t)
	requestUID := uuid.Must(uuid.NewV4())
	s := newTestServer(&fakeService{searchInfo: &service.SearchRequestInfo{
		RequestID: requestUID.String(),
		Query:     "goal celebration",
	}}, nil)

	rec := getWithURLParam(t, s.handleGetSearch, "requestID", requestUID.String())

	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	var resp service.SearchRequestInfo
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &resp), qt.IsNil)
	c.Assert(resp.Query, qt.Equals, "goal celebration")
}

func TestHandleListOverdueApprovals(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{overdue: []service.PendingApproval{
		{CallbackID: uuid.Must(uuid.NewV4()).String(), VideoURL: "https://media.test/clip.mp4"},
	}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/approvals/overdue", nil)
	rec := httptest.NewRecorder()
	s.handleListOverdueApprovals(rec, req)

	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	var resp []service.PendingApproval
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &resp), qt.IsNil)
	c.Assert(resp, qt.HasLen, 1)
	c.Assert(resp[0].VideoURL, qt.Equals, "https://media.test/clip.mp4")
}

func TestHandleEventStream(t *testing.T) {
	c := qt.New(t)
	events := make(chan types.StatusEvent, 2)
	events <- types.StatusEvent{RequestID: "req-1", Status: types.StatusSearching}
	events <- types.StatusEvent{RequestID: "req-1", Status: types.StatusFailed, Message: "no results"}
	close(events)
	s := newTestServer(&fakeService{}, &fakeBus{events: events})

	req := httptest.NewRequest(http.MethodGet, "/v1/events?requestId=req-1", nil)
	rec := httptest.NewRecorder()
	s.handleEventStream(rec, req)

	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	c.Assert(rec.Header().Get("Content-Type"), qt.Equals, "text/event-stream")
	body := rec.Body.String()
	c.Assert(body, qt.Contains, `"status":"SEARCHING"`)
	c.Assert(body, qt.Contains, `"status":"FAILED"`)
	c.Assert(body, qt.Contains, "data: ")
}

func TestHandleHealth(t *testing.T) {
	c := qt.New(t)
	s := newTestServer(&fakeService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	c.Assert(rec.Code, qt.Equals, http.StatusOK)
}
