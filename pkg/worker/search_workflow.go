package worker

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

// SearchWorkflowParam carries one natural-language search request
type SearchWorkflowParam struct {
	RequestUID types.RequestUIDType
	Query      string
	TopK       int
	Approval   ApprovalPolicy
}

// ApprovalPolicy decides which candidates need a human decision. Mode is
// "all", "none" or "threshold"; in threshold mode candidates scoring below
// MinScore require approval. Timeout bounds how long a gated candidate waits
// for a decision; it rides in the param so every worker replaying this
// workflow gates with the same deadline.
type ApprovalPolicy struct {
	Mode     string
	MinScore float32
	Timeout  time.Duration
}

// ApprovalSignal is the payload of the approval-decision signal. CallbackID
// correlates the decision with a suspended candidate; signals for other
// callbacks are acknowledged and ignored.
type ApprovalSignal struct {
	CallbackID string
	Decision   types.Decision
	Message    string
}

// needsApproval applies the policy to one candidate score.
func (p ApprovalPolicy) needsApproval(score float32) bool {
	switch p.Mode {
	case "none":
		return false
	case "threshold":
		return score < p.MinScore
	default:
		return true
	}
}

// SearchWorkflow resolves a query against the vector index and walks the
// ranked candidates in descending similarity order. Each candidate is cut
// into a playable clip; candidates the policy trusts are surfaced as FOUND,
// the rest are parked behind an approval callback one at a time. An approved
// clip ends the request (the reviewer picked their result); a vetoed clip
// advances the walk to the next candidate. Already-emitted FOUND events are
// never retracted by a later failure.
func (w *Worker) SearchWorkflow(ctx workflow.Context, param SearchWorkflowParam) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting SearchWorkflow",
		"requestUID", param.RequestUID.String(),
		"topK", param.TopK)

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

	requestID := param.RequestUID.String()

	// An unrecoverable failure still owes the stream its single terminal
	// FAILED event.
	var wfErr error
	defer func() {
		if wfErr == nil {
			return
		}
		dctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		dctx = workflow.WithActivityOptions(dctx, activityOptions)
		w.publishStatus(dctx, types.StatusEvent{
			RequestID: requestID,
			Status:    types.StatusFailed,
			Message:   wfErr.Error(),
		})
	}()

	w.publishStatus(ctx, types.StatusEvent{
		RequestID: requestID,
		Status:    types.StatusSearching,
		Message:   fmt.Sprintf("searching for %q", param.Query),
	})

	// Step 1: embed the query text
	var queryVector []float32
	embedParam := &EmbedQueryActivityParam{Query: param.Query}
	if wfErr = workflow.ExecuteActivity(ctx, w.EmbedQueryActivity, embedParam).Get(ctx, &queryVector); wfErr != nil {
		logger.Error("Failed to embed query", "error", wfErr)
		return wfErr
	}

	// Step 2: rank candidates in the vector index
	var candidates []types.SearchCandidate
	queryParam := &QueryVectorsActivityParam{Vector: queryVector, TopK: param.TopK}
	if wfErr = workflow.ExecuteActivity(ctx, w.QueryVectorsActivity, queryParam).Get(ctx, &candidates); wfErr != nil {
		logger.Error("Failed to query vectors", "error", wfErr)
		return wfErr
	}

	if len(candidates) == 0 {
		logger.Info("No candidates found", "requestUID", requestID)
		w.publishStatus(ctx, types.StatusEvent{
			RequestID: requestID,
			Status:    types.StatusFailed,
			Message:   fmt.Sprintf("no results for %q", param.Query),
		})
		return nil
	}

	signalCh := workflow.GetSignalChannel(ctx, ApprovalSignalName)

	// Step 3: walk candidates in rank order
	surfaced := 0
	for i, candidate := range candidates {
		var clip CutClipActivityResult
		cutParam := &CutClipActivityParam{
			RequestUID:   param.RequestUID,
			Rank:         i,
			ObjectRef:    candidate.ObjectRef,
			StartSeconds: candidate.StartSeconds,
			EndSeconds:   candidate.EndSeconds,
		}
		if err := workflow.ExecuteActivity(longCtx, w.CutClipActivity, cutParam).Get(longCtx, &clip); err != nil {
			// A broken source object should not sink the whole request while
			// other candidates remain.
			logger.Error("Failed to cut clip, skipping candidate",
				"rank", i, "objectRef", candidate.ObjectRef.String(), "error", err)
			continue
		}

		if !param.Approval.needsApproval(candidate.Score) {
			w.publishStatus(ctx, types.StatusEvent{
				RequestID: requestID,
				Status:    types.StatusFound,
				Message:   fmt.Sprintf("clip at %.0fs-%.0fs, score %.3f", candidate.StartSeconds, candidate.EndSeconds, candidate.Score),
				VideoURL:  clip.VideoURL,
			})
			surfaced++
			continue
		}

		accepted, timedOut, err := w.runApprovalGate(ctx, signalCh, param.RequestUID, clip.VideoURL, param.Approval.Timeout)
		if err != nil {
			wfErr = err
			return wfErr
		}
		if accepted {
			logger.Info("SearchWorkflow completed with approval", "requestUID", requestID, "rank", i)
			return nil
		}
		if timedOut {
			// Nobody is reviewing. The gate already published the terminal
			// REJECTED; parking further candidates would just repeat the wait.
			logger.Info("SearchWorkflow ended on approval timeout", "requestUID", requestID, "rank", i)
			return nil
		}
		// Vetoed; the gate already published REJECTED for this clip. Try the
		// next candidate.
	}

	if surfaced == 0 {
		// Every candidate was vetoed or unplayable; the stream needs a
		// terminal event.
		w.publishStatus(ctx, types.StatusEvent{
			RequestID: requestID,
			Status:    types.StatusFailed,
			Message:   "no candidate was approved",
		})
	}
	logger.Info("SearchWorkflow completed", "requestUID", requestID, "surfaced", surfaced)
	return nil
}

// runApprovalGate parks one clip behind a single-use callback and waits for
// a human decision or the timeout, whichever commits first. The commit race
// is settled by the conditional pending->resolved update; whichever side
// loses it adopts the committed decision. The terminal event is published
// either way: the bus is at-least-once and consumers dedupe on callbackId,
// so a repeated publish is harmless while a missing one strands the client.
func (w *Worker) runApprovalGate(ctx workflow.Context, signalCh workflow.ReceiveChannel, requestUID types.RequestUIDType, videoURL string, timeout time.Duration) (accepted, timedOut bool, err error) {
	logger := workflow.GetLogger(ctx)
	requestID := requestUID.String()

	var created CreateCallbackActivityResult
	createParam := &CreateCallbackActivityParam{
		RequestUID: requestUID,
		WorkflowID: workflow.GetInfo(ctx).WorkflowExecution.ID,
		VideoURL:   videoURL,
		Timeout:    timeout,
	}
	if err := workflow.ExecuteActivity(ctx, w.CreateCallbackActivity, createParam).Get(ctx, &created); err != nil {
		return false, timedOut, err
	}
	callbackID := created.CallbackUID.String()

	w.publishStatus(ctx, types.StatusEvent{
		RequestID:  requestID,
		Status:     types.StatusAwaitingApproval,
		Message:    "clip ready, awaiting approval",
		CallbackID: callbackID,
		VideoURL:   videoURL,
	})

	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	timer := workflow.NewTimer(timerCtx, timeout)

	var signal ApprovalSignal
	decided := false
	for !decided && !timedOut {
		selector := workflow.NewSelector(ctx)
		selector.AddReceive(signalCh, func(c workflow.ReceiveChannel, _ bool) {
			var s ApprovalSignal
			c.Receive(ctx, &s)
			if s.CallbackID != callbackID {
				// A stale or mis-addressed decision. Acknowledge and keep
				// waiting.
				logger.Info("Ignoring decision for unknown callback",
					"got", s.CallbackID, "want", callbackID)
				return
			}
			signal = s
			decided = true
		})
		selector.AddFuture(timer, func(workflow.Future) {
			timedOut = true
		})
		selector.Select(ctx)
	}
	cancelTimer()

	resolveParam := &ResolveCallbackActivityParam{
		CallbackUID: created.CallbackUID,
		Decision:    types.DecisionRejected,
		Message:     "approval timed out",
	}
	if decided {
		resolveParam.Decision = signal.Decision
		resolveParam.Message = signal.Message
	}

	var resolved ResolveCallbackActivityResult
	if err := workflow.ExecuteActivity(ctx, w.ResolveCallbackActivity, resolveParam).Get(ctx, &resolved); err != nil {
		return false, timedOut, err
	}
	message := resolveParam.Message
	if !resolved.Won {
		// A prior attempt already committed this callback. In practice that
		// prior committer is this workflow's own retried activity, which may
		// have crashed after the commit but before publishing, so the
		// terminal event must still go out. Adopt the committed decision;
		// our message belongs to the attempt that lost.
		logger.Info("Callback already resolved",
			"callbackID", callbackID, "decision", resolved.Decision)
		if resolved.Decision != resolveParam.Decision {
			message = ""
		}
	}

	status := types.StatusRejected
	if resolved.Decision == types.DecisionApproved {
		status = types.StatusApproved
	}
	w.publishStatus(ctx, types.StatusEvent{
		RequestID:  requestID,
		Status:     status,
		Message:    message,
		CallbackID: callbackID,
		VideoURL:   videoURL,
	})
	return resolved.Decision == types.DecisionApproved, timedOut, nil
}

// publishStatus emits one event on the bus, logging instead of failing the
// workflow when the bus is down: the event stream is advisory, the request
// state is not.
func (w *Worker) publishStatus(ctx workflow.Context, event types.StatusEvent) {
	param := &PublishStatusEventActivityParam{Event: event}
	if err := workflow.ExecuteActivity(ctx, w.PublishStatusEventActivity, param).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("Failed to publish status event",
			"requestID", event.RequestID, "status", string(event.Status), "error", err)
	}
}
