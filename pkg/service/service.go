// Package service holds the use-case layer between the HTTP handlers, the
// storage notification watcher and the Temporal workflows.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"go.temporal.io/api/serviceerror"
	temporalclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/EducloudHQ/video-agent-nova-embeddings/config"
	errdomain "github.com/EducloudHQ/video-agent-nova-embeddings/pkg/errors"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/minio"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/repository"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/worker"
)

// UploadURLResult carries a presigned upload capability.
type UploadURLResult struct {
	URL       string `json:"url"`
	ObjectKey string `json:"objectKey"`
}

// Service is the pipeline's use-case boundary.
type Service interface {
	// OnObjectCreated reacts to a storage notification: it deduplicates the
	// trigger, records the asset and starts the embedding workflow.
	OnObjectCreated(ctx context.Context, ref types.ObjectRef) error

	// IssueUploadURL returns a presigned PUT URL constrained to the ingest
	// prefix and to the declared content type.
	IssueUploadURL(ctx context.Context, filename string, contentType string) (*UploadURLResult, error)

	// SubmitSearch records a search request and starts its workflow.
	SubmitSearch(ctx context.Context, query string) (types.RequestUIDType, error)

	// ResolveApproval forwards a human decision to the suspended workflow.
	// Unknown or already-resolved callbacks are acknowledged as no-ops.
	ResolveApproval(ctx context.Context, callbackUID types.CallbackUIDType, decision types.Decision, message string) error

	// GetJobStatus reads one embedding job by its identifier.
	GetJobStatus(ctx context.Context, jobUID types.JobUIDType) (*JobStatus, error)

	// GetIngestStatus reads the active embedding job for an object, if any.
	GetIngestStatus(ctx context.Context, ref types.ObjectRef) (*JobStatus, error)

	// GetSearchRequest reads a submitted search request.
	GetSearchRequest(ctx context.Context, requestUID types.RequestUIDType) (*SearchRequestInfo, error)

	// ListOverdueApprovals lists callbacks that stayed pending past the
	// approval timeout, which means their owning workflow never resolved
	// them.
	ListOverdueApprovals(ctx context.Context) ([]PendingApproval, error)
}

// JobStatus is the read view of an embedding job.
type JobStatus struct {
	JobUID      string          `json:"jobUid"`
	ObjectRef   types.ObjectRef `json:"objectRef"`
	State       types.JobState  `json:"state"`
	Attempt     int             `json:"attempt,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	VectorCount int             `json:"vectorCount,omitempty"`
	UpdateTime  time.Time       `json:"updateTime"`
}

// SearchRequestInfo is the read view of a search request.
type SearchRequestInfo struct {
	RequestID string    `json:"requestId"`
	Query     string    `json:"query"`
	IssueTime time.Time `json:"issueTime"`
}

// PendingApproval is the read view of a callback awaiting a decision.
type PendingApproval struct {
	CallbackID  string    `json:"callbackId"`
	RequestID   string    `json:"requestId"`
	VideoURL    string    `json:"videoUrl"`
	SuspendTime time.Time `json:"suspendTime"`
	TimeoutTime time.Time `json:"timeoutTime"`
}

type service struct {
	repository     repository.Repository
	cache          repository.Cache
	objectStorage  minio.ObjectStorageI
	temporalClient temporalclient.Client
	pipeline       config.PipelineConfig
	log            *zap.Logger
}

// Config wires the service collaborators.
type Config struct {
	Repository     repository.Repository
	Cache          repository.Cache
	ObjectStorage  minio.ObjectStorageI
	TemporalClient temporalclient.Client
	Pipeline       config.PipelineConfig
}

// NewService returns the Service implementation.
func NewService(config Config, log *zap.Logger) Service {
	return &service{
		repository:     config.Repository,
		cache:          config.Cache,
		objectStorage:  config.ObjectStorage,
		temporalClient: config.TemporalClient,
		pipeline:       config.Pipeline,
		log:            log,
	}
}

func (s *service) OnObjectCreated(ctx context.Context, ref types.ObjectRef) error {
	if !strings.HasPrefix(ref.Key, s.pipeline.IngestPrefix) {
		// Clips and embedding output land in the same bucket; only the
		// ingest prefix triggers the pipeline.
		s.log.Debug("Ignoring object outside ingest prefix", zap.String("objectRef", ref.String()))
		return nil
	}

	firstSeen, err := s.cache.MarkObjectSeen(ctx, ref, s.pipeline.DedupWindow)
	if err != nil {
		return fmt.Errorf("marking object seen: %w", err)
	}
	if !firstSeen {
		s.log.Info("Duplicate storage notification collapsed", zap.String("objectRef", ref.String()))
		return nil
	}

	asset := &repository.VideoAssetModel{
		Bucket: ref.Bucket,
		Key:    ref.Key,
	}
	if info, err := s.objectStorage.GetFileMetadata(ctx, ref.Key); err != nil {
		// The notification proves the object exists; a failed stat only
		// costs the metadata columns.
		s.log.Warn("Unable to stat uploaded object", zap.String("objectRef", ref.String()), zap.Error(err))
	} else {
		asset.ContentType = info.ContentType
		asset.SizeBytes = info.Size
	}

	if err := s.repository.CreateVideoAsset(ctx, asset); err != nil {
		s.cache.ForgetObject(ctx, ref)
		return fmt.Errorf("recording video asset: %w", err)
	}

	jobUID, err := uuid.NewV4()
	if err != nil {
		s.cache.ForgetObject(ctx, ref)
		return fmt.Errorf("generating job UID: %w", err)
	}

	job, err := s.repository.CreateJobIfNoneActive(ctx, &repository.EmbeddingJobModel{
		UID:    jobUID,
		Bucket: ref.Bucket,
		Key:    ref.Key,
		State:  types.JobStatePending,
	})
	if err != nil {
		if errors.Is(err, errdomain.ErrAlreadyExists) {
			s.log.Info("Active embedding job already exists", zap.String("objectRef", ref.String()))
			return nil
		}
		s.cache.ForgetObject(ctx, ref)
		return fmt.Errorf("creating embedding job: %w", err)
	}

	workflowOptions := temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("embed-%s", ref.String()),
		TaskQueue: worker.TaskQueue,
	}
	_, err = s.temporalClient.ExecuteWorkflow(ctx, workflowOptions, "EmbedVideoWorkflow", worker.EmbedVideoWorkflowParam{
		JobUID:    job.UID,
		ObjectRef: ref,
	})
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			s.log.Info("Embedding workflow already running", zap.String("objectRef", ref.String()))
			return nil
		}
		// Roll back the trigger so a later notification can retry.
		failed := err.Error()
		if updErr := s.repository.UpdateJobState(ctx, job.UID, repository.JobStateUpdate{
			State:     types.JobStateFailed,
			LastError: &failed,
		}); updErr != nil {
			s.log.Error("Failed to mark unstartable job failed", zap.Error(updErr))
		}
		s.cache.ForgetObject(ctx, ref)
		return fmt.Errorf("starting embedding workflow: %w", err)
	}

	s.log.Info("Embedding workflow started",
		zap.String("objectRef", ref.String()),
		zap.String("jobUID", job.UID.String()))
	return nil
}

func (s *service) IssueUploadURL(ctx context.Context, filename string, contentType string) (*UploadURLResult, error) {
	// Strip any path the client sent; keys are always issued under the
	// ingest prefix.
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("file name %q: %w", filename, errdomain.ErrInvalidArgument)
	}
	if !strings.HasPrefix(contentType, "video/") {
		return nil, fmt.Errorf("content type %q: %w", contentType, errdomain.ErrInvalidArgument)
	}

	objectKey := s.pipeline.IngestPrefix + base
	u, err := s.objectStorage.GetPresignedURLForUpload(ctx, objectKey, base, contentType, s.pipeline.UploadURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("presigning upload for %s: %w", objectKey, err)
	}

	return &UploadURLResult{URL: u.String(), ObjectKey: objectKey}, nil
}

func (s *service) SubmitSearch(ctx context.Context, query string) (types.RequestUIDType, error) {
	if strings.TrimSpace(query) == "" {
		return uuid.Nil, fmt.Errorf("query text: %w", errdomain.ErrInvalidArgument)
	}

	requestUID, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generating request UID: %w", err)
	}

	if err := s.repository.CreateSearchRequest(ctx, &repository.SearchRequestModel{
		UID:       requestUID,
		QueryText: query,
	}); err != nil {
		return uuid.Nil, fmt.Errorf("recording search request: %w", err)
	}

	workflowOptions := temporalclient.StartWorkflowOptions{
		ID:        fmt.Sprintf("search-%s", requestUID.String()),
		TaskQueue: worker.TaskQueue,
	}
	_, err = s.temporalClient.ExecuteWorkflow(ctx, workflowOptions, "SearchWorkflow", worker.SearchWorkflowParam{
		RequestUID: requestUID,
		Query:      query,
		TopK:       s.pipeline.TopK,
		Approval: worker.ApprovalPolicy{
			Mode:     s.pipeline.Approval.Mode,
			MinScore: s.pipeline.Approval.MinScore,
			Timeout:  s.pipeline.Approval.Timeout,
		},
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("starting search workflow: %w", err)
	}

	s.log.Info("Search workflow started",
		zap.String("requestUID", requestUID.String()))
	return requestUID, nil
}

func (s *service) ResolveApproval(ctx context.Context, callbackUID types.CallbackUIDType, decision types.Decision, message string) error {
	if !decision.Valid() {
		return fmt.Errorf("decision %q: %w", decision, errdomain.ErrInvalidArgument)
	}

	cb, err := s.repository.GetApprovalCallback(ctx, callbackUID)
	if err != nil {
		if errors.Is(err, errdomain.ErrNotFound) {
			// Stale or fabricated callback IDs are acknowledged without
			// side effects.
			s.log.Info("Decision for unknown callback ignored", zap.String("callbackUID", callbackUID.String()))
			return nil
		}
		return fmt.Errorf("reading callback: %w", err)
	}
	if cb.State == repository.CallbackStateResolved {
		s.log.Info("Decision for resolved callback ignored",
			zap.String("callbackUID", callbackUID.String()),
			zap.String("decision", cb.Decision))
		return nil
	}

	signal := worker.ApprovalSignal{
		CallbackID: callbackUID.String(),
		Decision:   decision,
		Message:    message,
	}
	if err := s.temporalClient.SignalWorkflow(ctx, cb.WorkflowID, "", worker.ApprovalSignalName, signal); err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			// The workflow already closed; its timeout path resolved the
			// callback or will never observe this decision. Acknowledge.
			s.log.Info("Decision for closed workflow ignored",
				zap.String("callbackUID", callbackUID.String()),
				zap.String("workflowID", cb.WorkflowID))
			return nil
		}
		return fmt.Errorf("signaling workflow %s: %w", cb.WorkflowID, err)
	}

	s.log.Info("Approval decision forwarded",
		zap.String("callbackUID", callbackUID.String()),
		zap.String("decision", string(decision)))
	return nil
}

func jobStatusView(job *repository.EmbeddingJobModel) *JobStatus {
	return &JobStatus{
		JobUID:      job.UID.String(),
		ObjectRef:   job.ObjectRef(),
		State:       job.State,
		Attempt:     job.Attempt,
		LastError:   job.LastError,
		VectorCount: job.VectorCnt,
		UpdateTime:  job.UpdateTime,
	}
}

func (s *service) GetJobStatus(ctx context.Context, jobUID types.JobUIDType) (*JobStatus, error) {
	job, err := s.repository.GetJob(ctx, jobUID)
	if err != nil {
		return nil, err
	}
	return jobStatusView(job), nil
}

func (s *service) GetIngestStatus(ctx context.Context, ref types.ObjectRef) (*JobStatus, error) {
	job, err := s.repository.GetActiveJobByObjectRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	return jobStatusView(job), nil
}

func (s *service) GetSearchRequest(ctx context.Context, requestUID types.RequestUIDType) (*SearchRequestInfo, error) {
	req, err := s.repository.GetSearchRequest(ctx, requestUID)
	if err != nil {
		return nil, err
	}
	return &SearchRequestInfo{
		RequestID: req.UID.String(),
		Query:     req.QueryText,
		IssueTime: req.IssueTime,
	}, nil
}

func (s *service) ListOverdueApprovals(ctx context.Context) ([]PendingApproval, error) {
	// A callback pending longer than the approval timeout was orphaned: the
	// owning workflow would otherwise have resolved it by now.
	callbacks, err := s.repository.ListPendingCallbacks(ctx, time.Now().Add(-s.pipeline.Approval.Timeout))
	if err != nil {
		return nil, err
	}

	out := make([]PendingApproval, 0, len(callbacks))
	for _, cb := range callbacks {
		out = append(out, PendingApproval{
			CallbackID:  cb.UID.String(),
			RequestID:   cb.RequestUID.String(),
			VideoURL:    cb.VideoURL,
			SuspendTime: cb.SuspendTime,
			TimeoutTime: cb.TimeoutTime,
		})
	}
	return out, nil
}
