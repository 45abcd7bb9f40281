package worker

import (
	"fmt"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

// EmbedVideoWorkflowParam identifies the job and the landed object to embed
type EmbedVideoWorkflowParam struct {
	JobUID    types.JobUIDType
	ObjectRef types.ObjectRef
}

// EmbedVideoWorkflow drives one uploaded video from landed object to
// searchable vectors. The job record advances through
// pending -> extracting -> embedding -> indexing -> completed, and any
// unrecoverable error parks it at failed with a single terminal ingest event.
func (w *Worker) EmbedVideoWorkflow(ctx workflow.Context, param EmbedVideoWorkflowParam) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting EmbedVideoWorkflow",
		"jobUID", param.JobUID.String(),
		"objectRef", param.ObjectRef.String())

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: ActivityTimeoutStandard,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    RetryInitialInterval,
			BackoffCoefficient: RetryBackoffCoefficient,
			MaximumInterval:    RetryMaximumIntervalStandard,
			MaximumAttempts:    RetryMaximumAttempts,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	longActivityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: ActivityTimeoutLong,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    RetryInitialInterval,
			BackoffCoefficient: RetryBackoffCoefficient,
			MaximumInterval:    RetryMaximumIntervalLong,
			MaximumAttempts:    RetryMaximumAttempts,
		},
	}
	longCtx := workflow.WithActivityOptions(ctx, longActivityOptions)

	// On any failure the job record and the ingest channel must still reach a
	// terminal state, even when the workflow context is already cancelled.
	var wfErr error
	defer func() {
		if wfErr == nil {
			return
		}
		dctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		dctx = workflow.WithActivityOptions(dctx, activityOptions)

		failParam := &UpdateJobStateActivityParam{
			JobUID:    param.JobUID,
			State:     types.JobStateFailed,
			LastError: wfErr.Error(),
		}
		if err := workflow.ExecuteActivity(dctx, w.UpdateJobStateActivity, failParam).Get(dctx, nil); err != nil {
			logger.Error("Failed to mark job failed", "error", err)
		}
		eventParam := &PublishIngestEventActivityParam{
			ObjectRef: param.ObjectRef,
			Completed: false,
			Reason:    wfErr.Error(),
		}
		if err := workflow.ExecuteActivity(dctx, w.PublishIngestEventActivity, eventParam).Get(dctx, nil); err != nil {
			logger.Error("Failed to publish failure event", "error", err)
		}
	}()

	// Step 1: probe the object and split it into fixed-length segments
	if wfErr = w.advanceJob(ctx, param.JobUID, types.JobStateExtracting); wfErr != nil {
		return wfErr
	}

	var segments []types.VideoSegment
	extractParam := &ExtractSegmentsActivityParam{
		JobUID:    param.JobUID,
		ObjectRef: param.ObjectRef,
	}
	if wfErr = workflow.ExecuteActivity(longCtx, w.ExtractSegmentsActivity, extractParam).Get(longCtx, &segments); wfErr != nil {
		logger.Error("Failed to extract segments", "error", wfErr)
		return wfErr
	}
	if len(segments) == 0 {
		wfErr = temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("video %s produced no segments", param.ObjectRef.String()),
			"EmptyVideo", nil)
		return wfErr
	}

	// Step 2: submit the async embedding job and persist its poll token so a
	// restarted worker can keep polling the same job
	if wfErr = w.advanceJob(ctx, param.JobUID, types.JobStateEmbedding); wfErr != nil {
		return wfErr
	}

	var submission SubmitEmbeddingActivityResult
	submitParam := &SubmitEmbeddingActivityParam{
		JobUID:    param.JobUID,
		ObjectRef: param.ObjectRef,
		Segments:  segments,
	}
	if wfErr = workflow.ExecuteActivity(ctx, w.SubmitEmbeddingActivity, submitParam).Get(ctx, &submission); wfErr != nil {
		logger.Error("Failed to submit embedding job", "error", wfErr)
		return wfErr
	}

	tokenParam := &UpdateJobStateActivityParam{
		JobUID:    param.JobUID,
		State:     types.JobStateEmbedding,
		PollToken: submission.PollToken,
	}
	if wfErr = workflow.ExecuteActivity(ctx, w.UpdateJobStateActivity, tokenParam).Get(ctx, nil); wfErr != nil {
		return wfErr
	}

	// Step 3: poll until the provider finishes, bounded by EmbeddingPollMaxWait
	deadline := workflow.Now(ctx).Add(EmbeddingPollMaxWait)
	var outputPrefix string
	for {
		if wfErr = workflow.Sleep(ctx, EmbeddingPollInterval); wfErr != nil {
			return wfErr
		}

		var poll CheckEmbeddingActivityResult
		checkParam := &CheckEmbeddingActivityParam{PollToken: submission.PollToken}
		if wfErr = workflow.ExecuteActivity(ctx, w.CheckEmbeddingActivity, checkParam).Get(ctx, &poll); wfErr != nil {
			logger.Error("Failed to poll embedding job", "error", wfErr)
			return wfErr
		}

		if poll.Done {
			if poll.FailureMessage != "" {
				wfErr = temporal.NewNonRetryableApplicationError(
					fmt.Sprintf("embedding job failed: %s", poll.FailureMessage),
					"EmbeddingFailed", nil)
				return wfErr
			}
			outputPrefix = poll.OutputPrefix
			break
		}

		if workflow.Now(ctx).After(deadline) {
			wfErr = temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("embedding job %s still in progress after %s", submission.PollToken, EmbeddingPollMaxWait),
				"EmbeddingTimeout", nil)
			return wfErr
		}
	}

	// Step 4: stream the provider's vector output into the index
	if wfErr = w.advanceJob(ctx, param.JobUID, types.JobStateIndexing); wfErr != nil {
		return wfErr
	}

	var indexed IndexVectorsActivityResult
	indexParam := &IndexVectorsActivityParam{
		JobUID:       param.JobUID,
		ObjectRef:    param.ObjectRef,
		OutputPrefix: outputPrefix,
	}
	if wfErr = workflow.ExecuteActivity(longCtx, w.IndexVectorsActivity, indexParam).Get(longCtx, &indexed); wfErr != nil {
		logger.Error("Failed to index vectors", "error", wfErr)
		return wfErr
	}

	// Step 5: mark completed and announce the object as searchable
	doneParam := &UpdateJobStateActivityParam{
		JobUID:      param.JobUID,
		State:       types.JobStateCompleted,
		VectorCount: indexed.VectorCount,
	}
	if wfErr = workflow.ExecuteActivity(ctx, w.UpdateJobStateActivity, doneParam).Get(ctx, nil); wfErr != nil {
		return wfErr
	}

	eventParam := &PublishIngestEventActivityParam{
		ObjectRef:   param.ObjectRef,
		Completed:   true,
		VectorCount: indexed.VectorCount,
	}
	if err := workflow.ExecuteActivity(ctx, w.PublishIngestEventActivity, eventParam).Get(ctx, nil); err != nil {
		// The index already holds the vectors; a lost announcement is not
		// worth failing the whole job over.
		logger.Error("Failed to publish completion event", "error", err)
	}

	logger.Info("EmbedVideoWorkflow completed",
		"jobUID", param.JobUID.String(),
		"objectRef", param.ObjectRef.String(),
		"vectorCount", indexed.VectorCount)
	return nil
}

func (w *Worker) advanceJob(ctx workflow.Context, jobUID types.JobUIDType, state types.JobState) error {
	param := &UpdateJobStateActivityParam{JobUID: jobUID, State: state}
	return workflow.ExecuteActivity(ctx, w.UpdateJobStateActivity, param).Get(ctx, nil)
}
