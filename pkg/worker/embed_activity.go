package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/ai"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/milvus"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/repository"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

const (
	updateJobStateActivityError     = "UpdateJobStateActivity"
	extractSegmentsActivityError    = "ExtractSegmentsActivity"
	submitEmbeddingActivityError    = "SubmitEmbeddingActivity"
	checkEmbeddingActivityError     = "CheckEmbeddingActivity"
	indexVectorsActivityError       = "IndexVectorsActivity"
	publishIngestEventActivityError = "PublishIngestEventActivity"
)

// embeddingOutputPrefix is where the provider drops its JSONL vector files
// for one job.
func embeddingOutputPrefix(jobUID types.JobUIDType) string {
	return fmt.Sprintf("embeddings/%s/", jobUID.String())
}

// UpdateJobStateActivityParam advances the job record. Zero-valued optional
// fields leave their columns untouched.
type UpdateJobStateActivityParam struct {
	JobUID      types.JobUIDType
	State       types.JobState
	LastError   string
	PollToken   string
	VectorCount int
}

// UpdateJobStateActivity persists a stage transition of the embedding job
func (w *Worker) UpdateJobStateActivity(ctx context.Context, param *UpdateJobStateActivityParam) error {
	update := repository.JobStateUpdate{State: param.State}
	if param.LastError != "" {
		update.LastError = &param.LastError
	}
	if param.PollToken != "" {
		update.PollToken = &param.PollToken
	}
	if param.VectorCount > 0 {
		update.VectorCount = &param.VectorCount
	}

	if err := w.repository.UpdateJobState(ctx, param.JobUID, update); err != nil {
		return temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("updating job %s to %s: %s", param.JobUID.String(), param.State, err.Error()),
			updateJobStateActivityError,
			err,
		)
	}

	w.log.Info("Job state updated",
		zap.String("jobUID", param.JobUID.String()),
		zap.String("state", string(param.State)))
	return nil
}

// ExtractSegmentsActivityParam identifies the object to probe and split
type ExtractSegmentsActivityParam struct {
	JobUID    types.JobUIDType
	ObjectRef types.ObjectRef
}

// ExtractSegmentsActivity downloads the landed object, probes its duration
// and splits it into fixed-length segments. An unreadable or zero-length
// video is a non-retryable failure: retrying cannot fix the input.
func (w *Worker) ExtractSegmentsActivity(ctx context.Context, param *ExtractSegmentsActivityParam) ([]types.VideoSegment, error) {
	localPath, cleanup, err := w.downloadToTemp(ctx, param.ObjectRef.Key)
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("downloading %s: %s", param.ObjectRef.String(), err.Error()),
			extractSegmentsActivityError,
			err,
		)
	}
	defer cleanup()

	duration, err := probeDuration(ctx, localPath)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("probing %s: %s", param.ObjectRef.String(), err.Error()),
			extractSegmentsActivityError,
			err,
		)
	}
	if duration <= 0 {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("object %s has no playable duration", param.ObjectRef.String()),
			extractSegmentsActivityError,
			nil,
		)
	}

	segmentLen := float64(w.pipeline.SegmentSeconds)
	count := int(math.Ceil(duration / segmentLen))
	segments := make([]types.VideoSegment, 0, count)
	for i := range count {
		start := float64(i) * segmentLen
		end := math.Min(start+segmentLen, duration)
		segments = append(segments, types.VideoSegment{
			SegmentUID:   fmt.Sprintf("%s-%04d", param.JobUID.String(), i),
			StartSeconds: start,
			EndSeconds:   end,
		})
	}

	w.log.Info("Extracted segments",
		zap.String("jobUID", param.JobUID.String()),
		zap.Float64("duration", duration),
		zap.Int("segments", len(segments)))
	return segments, nil
}

// SubmitEmbeddingActivityParam carries the segment plan to the provider
type SubmitEmbeddingActivityParam struct {
	JobUID    types.JobUIDType
	ObjectRef types.ObjectRef
	Segments  []types.VideoSegment
}

// SubmitEmbeddingActivityResult returns the provider's poll token
type SubmitEmbeddingActivityResult struct {
	PollToken string
}

// SubmitEmbeddingActivity starts the async video embedding job
func (w *Worker) SubmitEmbeddingActivity(ctx context.Context, param *SubmitEmbeddingActivityParam) (*SubmitEmbeddingActivityResult, error) {
	if !w.aiProvider.SupportsVideo() {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("provider %s cannot embed video", w.aiProvider.Name()),
			submitEmbeddingActivityError,
			nil,
		)
	}

	token, err := w.aiProvider.SubmitVideoEmbedding(ctx, ai.SubmitVideoEmbeddingParam{
		ObjectRef:    param.ObjectRef,
		Segments:     param.Segments,
		OutputPrefix: embeddingOutputPrefix(param.JobUID),
	})
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("submitting embedding job for %s: %s", param.ObjectRef.String(), err.Error()),
			submitEmbeddingActivityError,
			err,
		)
	}

	w.log.Info("Embedding job submitted",
		zap.String("jobUID", param.JobUID.String()),
		zap.String("pollToken", token))
	return &SubmitEmbeddingActivityResult{PollToken: token}, nil
}

// CheckEmbeddingActivityParam polls one async embedding job
type CheckEmbeddingActivityParam struct {
	PollToken string
}

// CheckEmbeddingActivityResult reports the polled job state. Done with an
// empty FailureMessage means the output prefix is ready to ingest.
type CheckEmbeddingActivityResult struct {
	Done           bool
	OutputPrefix   string
	FailureMessage string
}

// CheckEmbeddingActivity polls the provider for job completion
func (w *Worker) CheckEmbeddingActivity(ctx context.Context, param *CheckEmbeddingActivityParam) (*CheckEmbeddingActivityResult, error) {
	job, err := w.aiProvider.GetVideoEmbeddingJob(ctx, param.PollToken)
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("polling embedding job %s: %s", param.PollToken, err.Error()),
			checkEmbeddingActivityError,
			err,
		)
	}

	result := &CheckEmbeddingActivityResult{OutputPrefix: job.OutputPrefix}
	switch job.Status {
	case ai.VideoJobCompleted:
		result.Done = true
	case ai.VideoJobFailed:
		result.Done = true
		result.FailureMessage = job.FailureMessage
		if result.FailureMessage == "" {
			result.FailureMessage = "embedding job failed without a message"
		}
	}
	return result, nil
}

// IndexVectorsActivityParam points at the provider's JSONL output
type IndexVectorsActivityParam struct {
	JobUID       types.JobUIDType
	ObjectRef    types.ObjectRef
	OutputPrefix string
}

// IndexVectorsActivityResult reports how many vectors landed in the index
type IndexVectorsActivityResult struct {
	VectorCount int
}

// embeddingRecord is one line of the provider's JSONL output.
type embeddingRecord struct {
	ID        string    `json:"id"`
	Embedding []float32 `json:"embedding"`
	Metadata  struct {
		StartSeconds float64 `json:"startSeconds"`
		EndSeconds   float64 `json:"endSeconds"`
	} `json:"metadata"`
}

// IndexVectorsActivity streams the provider's JSONL vector files into the
// index in batches. Upserts are keyed by segment UID, so replaying the
// activity after a partial failure converges instead of duplicating.
func (w *Worker) IndexVectorsActivity(ctx context.Context, param *IndexVectorsActivityParam) (*IndexVectorsActivityResult, error) {
	// Segment UIDs embed the job UID, so vectors from an earlier embed of
	// the same object would survive the upsert. Clear them first.
	if err := w.vectorIndex.DeleteVectorsByObject(ctx, param.ObjectRef); err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("clearing stale vectors for %s: %s", param.ObjectRef.String(), err.Error()),
			indexVectorsActivityError,
			err,
		)
	}

	paths, err := w.objectStorage.ListFilePathsWithPrefix(ctx, param.OutputPrefix)
	if err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("listing embedding output %s: %s", param.OutputPrefix, err.Error()),
			indexVectorsActivityError,
			err,
		)
	}

	total := 0
	batch := make([]milvus.SegmentVector, 0, IndexBatchSize)
	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.vectorIndex.UpsertVectors(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, path := range paths {
		if !strings.HasSuffix(path, ".jsonl") {
			continue
		}
		if err := w.ingestVectorFile(ctx, path, param.ObjectRef, &batch, flushBatch); err != nil {
			return nil, temporal.NewApplicationErrorWithCause(
				fmt.Sprintf("ingesting %s: %s", path, err.Error()),
				indexVectorsActivityError,
				err,
			)
		}
	}
	if err := flushBatch(); err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("upserting final batch for %s: %s", param.ObjectRef.String(), err.Error()),
			indexVectorsActivityError,
			err,
		)
	}

	if total == 0 {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("embedding output %s holds no vectors", param.OutputPrefix),
			indexVectorsActivityError,
			nil,
		)
	}

	// Flush so the vectors are searchable the moment the job reads completed.
	if err := w.vectorIndex.FlushCollection(ctx); err != nil {
		return nil, temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("flushing collection: %s", err.Error()),
			indexVectorsActivityError,
			err,
		)
	}

	w.log.Info("Vectors indexed",
		zap.String("jobUID", param.JobUID.String()),
		zap.Int("vectorCount", total))
	return &IndexVectorsActivityResult{VectorCount: total}, nil
}

func (w *Worker) ingestVectorFile(ctx context.Context, path string, ref types.ObjectRef, batch *[]milvus.SegmentVector, flush func() error) error {
	reader, err := w.objectStorage.GetFileReader(ctx, path)
	if err != nil {
		return err
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	// Vectors are 1024 floats per line; the default scanner buffer is too
	// small for that.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec embeddingRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("decoding vector record: %w", err)
		}
		if rec.ID == "" || len(rec.Embedding) == 0 {
			return fmt.Errorf("vector record missing id or embedding")
		}

		*batch = append(*batch, milvus.SegmentVector{
			SegmentUID:   rec.ID,
			Bucket:       ref.Bucket,
			Key:          ref.Key,
			StartSeconds: rec.Metadata.StartSeconds,
			EndSeconds:   rec.Metadata.EndSeconds,
			Vector:       rec.Embedding,
		})
		if len(*batch) >= IndexBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

// PublishIngestEventActivityParam announces an embedding-job termination
type PublishIngestEventActivityParam struct {
	ObjectRef   types.ObjectRef
	Completed   bool
	VectorCount int
	Reason      string
}

// PublishIngestEventActivity publishes the terminal ingest event for a job
func (w *Worker) PublishIngestEventActivity(ctx context.Context, param *PublishIngestEventActivityParam) error {
	event := types.IngestEvent{
		ObjectRef:   param.ObjectRef,
		Completed:   param.Completed,
		VectorCount: param.VectorCount,
		Reason:      param.Reason,
	}
	if err := w.eventBus.PublishIngest(ctx, event); err != nil {
		return temporal.NewApplicationErrorWithCause(
			fmt.Sprintf("publishing ingest event for %s: %s", param.ObjectRef.String(), err.Error()),
			publishIngestEventActivityError,
			err,
		)
	}
	return nil
}

// downloadToTemp copies an object into a temp file and returns its path with
// a cleanup func.
func (w *Worker) downloadToTemp(ctx context.Context, objectKey string) (string, func(), error) {
	reader, err := w.objectStorage.GetFileReader(ctx, objectKey)
	if err != nil {
		return "", nil, err
	}
	defer reader.Close()

	f, err := os.CreateTemp("", "video-agent-*"+filepath.Ext(objectKey))
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}

	path := f.Name()
	return path, func() { os.Remove(path) }, nil
}

// probeDuration reads the container duration in seconds with ffprobe.
func probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return duration, nil
}
