package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/gofrs/uuid"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	errdomain "github.com/EducloudHQ/video-agent-nova-embeddings/pkg/errors"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/repository"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

const (
	embedQueryActivityError         = "EmbedQueryActivity"
	queryVectorsActivityError       = "QueryVectorsActivity"
	cutClipActivityError            = "CutClipActivity"
	createCallbackActivityError     = "CreateCallbackActivity"
	resolveCallbackActivityError    = "ResolveCallbackActivity"
	publishStatusEventActivityError = "PublishStatusEventActivity"
)

// EmbedQueryActivityParam carries the query text to embed
type EmbedQueryActivityParam struct {
	Query string
}

// EmbedQueryActivity turns the query text into a vector
func (w *Worker) EmbedQueryActivity(ctx context.Context, param *EmbedQueryActivityParam) ([]float32, error) {
	if param.Query == "" {
		return nil, temporal.NewNonRetryableApplicationError(
			"query text is empty",
			embedQueryActivityError,
			nil,
		)
	}

	vectors, err := w.aiProvider.EmbedTexts(ctx, []string{param.Query})
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("embedding query: %s", err.Error()),
			embedQueryActivityError,
			err,
		)
	}
	if len(vectors) != 1 {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("provider returned %d vectors for one query", len(vectors)),
			embedQueryActivityError,
			nil,
		)
	}
	return vectors[0], nil
}

// QueryVectorsActivityParam runs one ranked similarity query
type QueryVectorsActivityParam struct {
	Vector []float32
	TopK   int
}

// QueryVectorsActivity returns the topK nearest segments, best first
func (w *Worker) QueryVectorsActivity(ctx context.Context, param *QueryVectorsActivityParam) ([]types.SearchCandidate, error) {
	candidates, err := w.vectorIndex.SearchSimilar(ctx, param.Vector, param.TopK)
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("searching vector index: %s", err.Error()),
			queryVectorsActivityError,
			err,
		)
	}
	return candidates, nil
}

// CutClipActivityParam describes one clip to cut out of a source video
type CutClipActivityParam struct {
	RequestUID   types.RequestUIDType
	Rank         int
	ObjectRef    types.ObjectRef
	StartSeconds float64
	EndSeconds   float64
}

// CutClipActivityResult carries the presigned URL of the cut clip
type CutClipActivityResult struct {
	ClipKey  string
	VideoURL string
}

// CutClipActivity downloads the source object, cuts out the candidate's time
// range with a stream copy (no re-encode) and uploads the clip under cuts/.
// The returned URL is a time-limited capability to fetch the clip.
func (w *Worker) CutClipActivity(ctx context.Context, param *CutClipActivityParam) (*CutClipActivityResult, error) {
	srcPath, cleanupSrc, err := w.downloadToTemp(ctx, param.ObjectRef.Key)
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("downloading %s: %s", param.ObjectRef.String(), err.Error()),
			cutClipActivityError,
			err,
		)
	}
	defer cleanupSrc()

	clipPath := srcPath + ".clip.mp4"
	defer os.Remove(clipPath)
	if err := cutClip(ctx, srcPath, clipPath, param.StartSeconds, param.EndSeconds); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("cutting %s at %.2fs-%.2fs: %s", param.ObjectRef.String(), param.StartSeconds, param.EndSeconds, err.Error()),
			cutClipActivityError,
			err,
		)
	}

	content, err := os.ReadFile(clipPath)
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("reading clip file: %s", err.Error()),
			cutClipActivityError,
			err,
		)
	}

	clipKey := fmt.Sprintf("cuts/%s_%d.mp4", param.RequestUID.String(), param.Rank)
	if err := w.objectStorage.UploadFile(ctx, clipKey, content, "video/mp4"); err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("uploading clip %s: %s", clipKey, err.Error()),
			cutClipActivityError,
			err,
		)
	}

	u, err := w.objectStorage.GetPresignedURLForDownload(ctx, clipKey, fmt.Sprintf("clip_%d.mp4", param.Rank), "video/mp4", w.pipeline.ClipURLExpiry)
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("presigning clip %s: %s", clipKey, err.Error()),
			cutClipActivityError,
			err,
		)
	}

	w.log.Info("Clip cut and uploaded",
		zap.String("requestUID", param.RequestUID.String()),
		zap.Int("rank", param.Rank),
		zap.String("clipKey", clipKey))
	return &CutClipActivityResult{ClipKey: clipKey, VideoURL: u.String()}, nil
}

// CreateCallbackActivityParam records a single-use approval callback
type CreateCallbackActivityParam struct {
	RequestUID types.RequestUIDType
	WorkflowID string
	VideoURL   string
	Timeout    time.Duration
}

// CreateCallbackActivityResult returns the callback capability identifier
type CreateCallbackActivityResult struct {
	CallbackUID types.CallbackUIDType
}

// CreateCallbackActivity persists a pending callback before the workflow
// suspends on it
func (w *Worker) CreateCallbackActivity(ctx context.Context, param *CreateCallbackActivityParam) (*CreateCallbackActivityResult, error) {
	callbackUID, err := uuid.NewV4()
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("generating callback UID: %s", err.Error()),
			createCallbackActivityError,
			err,
		)
	}

	cb := &repository.ApprovalCallbackModel{
		UID:         callbackUID,
		RequestUID:  param.RequestUID,
		WorkflowID:  param.WorkflowID,
		VideoURL:    param.VideoURL,
		State:       repository.CallbackStatePending,
		TimeoutTime: time.Now().Add(param.Timeout),
	}
	if err := w.repository.CreateApprovalCallback(ctx, cb); err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("creating callback for request %s: %s", param.RequestUID.String(), err.Error()),
			createCallbackActivityError,
			err,
		)
	}

	w.log.Info("Approval callback created",
		zap.String("requestUID", param.RequestUID.String()),
		zap.String("callbackUID", callbackUID.String()))
	return &CreateCallbackActivityResult{CallbackUID: callbackUID}, nil
}

// ResolveCallbackActivityParam attempts the pending->resolved commit
type ResolveCallbackActivityParam struct {
	CallbackUID types.CallbackUIDType
	Decision    types.Decision
	Message     string
}

// ResolveCallbackActivityResult reports the committed decision. Won is false
// when another committer got there first; Decision then carries theirs.
type ResolveCallbackActivityResult struct {
	Won      bool
	Decision types.Decision
}

// ResolveCallbackActivity commits a decision on a callback. Losing the
// commit race is a normal outcome, not an error.
func (w *Worker) ResolveCallbackActivity(ctx context.Context, param *ResolveCallbackActivityParam) (*ResolveCallbackActivityResult, error) {
	cb, err := w.repository.ResolveApprovalCallback(ctx, param.CallbackUID, param.Decision, param.Message)
	if err != nil {
		if errors.Is(err, errdomain.ErrAlreadyResolved) {
			prev, getErr := w.repository.GetApprovalCallback(ctx, param.CallbackUID)
			if getErr != nil {
				return nil, temporal.NewApplicationErrorWithCause(
					fmt.Sprintf("reading resolved callback %s: %s", param.CallbackUID.String(), getErr.Error()),
					resolveCallbackActivityError,
					getErr,
				)
			}
			return &ResolveCallbackActivityResult{Won: false, Decision: types.Decision(prev.Decision)}, nil
		}
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("resolving callback %s: %s", param.CallbackUID.String(), err.Error()),
			resolveCallbackActivityError,
			err,
		)
	}

	w.log.Info("Approval callback resolved",
		zap.String("callbackUID", param.CallbackUID.String()),
		zap.String("decision", string(param.Decision)))
	return &ResolveCallbackActivityResult{Won: true, Decision: types.Decision(cb.Decision)}, nil
}

// PublishStatusEventActivityParam wraps one status event for the bus
type PublishStatusEventActivityParam struct {
	Event types.StatusEvent
}

// PublishStatusEventActivity publishes a status event on the bus
func (w *Worker) PublishStatusEventActivity(ctx context.Context, param *PublishStatusEventActivityParam) error {
	if err := w.eventBus.Publish(ctx, param.Event); err != nil {
		return temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("publishing %s for request %s: %s", param.Event.Status, param.Event.RequestID, err.Error()),
			publishStatusEventActivityError,
			err,
		)
	}
	return nil
}

// cutClip extracts [start, end] from src into dst with a stream copy.
func cutClip(ctx context.Context, src, dst string, start, end float64) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-ss", fmt.Sprintf("%.3f", start),
		"-to", fmt.Sprintf("%.3f", end),
		"-i", src,
		"-c", "copy",
		dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, string(out))
	}
	return nil
}
