package worker

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap"

	qt "github.com/frankban/quicktest"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

type embedTestEnv struct {
	env     *testsuite.TestWorkflowEnvironment
	worker  *Worker
	updates []UpdateJobStateActivityParam
	ingests []PublishIngestEventActivityParam
}

func newEmbedTestEnv(t *testing.T) *embedTestEnv {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	w := &Worker{log: zap.NewNop()}
	ete := &embedTestEnv{env: env, worker: w}

	env.RegisterWorkflow(w.EmbedVideoWorkflow)
	env.RegisterActivity(w.UpdateJobStateActivity)
	env.RegisterActivity(w.ExtractSegmentsActivity)
	env.RegisterActivity(w.SubmitEmbeddingActivity)
	env.RegisterActivity(w.CheckEmbeddingActivity)
	env.RegisterActivity(w.IndexVectorsActivity)
	env.RegisterActivity(w.PublishIngestEventActivity)

	env.OnActivity(w.UpdateJobStateActivity, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, param *UpdateJobStateActivityParam) error {
			ete.updates = append(ete.updates, *param)
			return nil
		})
	env.OnActivity(w.PublishIngestEventActivity, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, param *PublishIngestEventActivityParam) error {
			ete.ingests = append(ete.ingests, *param)
			return nil
		})

	return ete
}

func (ete *embedTestEnv) states() []types.JobState {
	out := make([]types.JobState, len(ete.updates))
	for i, u := range ete.updates {
		out[i] = u.State
	}
	return out
}

func embedParam() EmbedVideoWorkflowParam {
	return EmbedVideoWorkflowParam{
		JobUID:    uuid.Must(uuid.NewV4()),
		ObjectRef: types.ObjectRef{Bucket: "video-media", Key: "videos/demo.mp4"},
	}
}

func testSegments(jobUID types.JobUIDType, n int) []types.VideoSegment {
	out := make([]types.VideoSegment, n)
	for i := range n {
		out[i] = types.VideoSegment{
			SegmentUID:   jobUID.String() + "-0000",
			StartSeconds: float64(i * 15),
			EndSeconds:   float64(i*15 + 15),
		}
	}
	return out
}

func TestEmbedVideoWorkflow_Success(t *testing.T) {
	c := qt.New(t)
	ete := newEmbedTestEnv(t)
	param := embedParam()

	ete.env.OnActivity(ete.worker.ExtractSegmentsActivity, mock.Anything, mock.Anything).
		Return(testSegments(param.JobUID, 4), nil)
	ete.env.OnActivity(ete.worker.SubmitEmbeddingActivity, mock.Anything, mock.Anything).
		Return(&SubmitEmbeddingActivityResult{PollToken: "inv-123"}, nil)

	// First poll still running, second poll done.
	polls := 0
	ete.env.OnActivity(ete.worker.CheckEmbeddingActivity, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, p *CheckEmbeddingActivityParam) (*CheckEmbeddingActivityResult, error) {
			polls++
			if polls < 2 {
				return &CheckEmbeddingActivityResult{}, nil
			}
			return &CheckEmbeddingActivityResult{Done: true, OutputPrefix: "embeddings/" + param.JobUID.String() + "/"}, nil
		})
	ete.env.OnActivity(ete.worker.IndexVectorsActivity, mock.Anything, mock.Anything).
		Return(&IndexVectorsActivityResult{VectorCount: 4}, nil)

	ete.env.ExecuteWorkflow(ete.worker.EmbedVideoWorkflow, param)

	c.Assert(ete.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ete.env.GetWorkflowError(), qt.IsNil)
	c.Assert(ete.states(), qt.DeepEquals, []types.JobState{
		types.JobStateExtracting,
		types.JobStateEmbedding,
		types.JobStateEmbedding, // poll token persisted
		types.JobStateIndexing,
		types.JobStateCompleted,
	})
	c.Assert(ete.updates[2].PollToken, qt.Equals, "inv-123")
	c.Assert(ete.updates[4].VectorCount, qt.Equals, 4)
	c.Assert(ete.ingests, qt.HasLen, 1)
	c.Assert(ete.ingests[0].Completed, qt.IsTrue)
	c.Assert(ete.ingests[0].VectorCount, qt.Equals, 4)
}

func TestEmbedVideoWorkflow_EmptyVideoFails(t *testing.T) {
	c := qt.New(t)
	ete := newEmbedTestEnv(t)
	param := embedParam()

	ete.env.OnActivity(ete.worker.ExtractSegmentsActivity, mock.Anything, mock.Anything).
		Return([]types.VideoSegment{}, nil)

	ete.env.ExecuteWorkflow(ete.worker.EmbedVideoWorkflow, param)

	c.Assert(ete.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ete.env.GetWorkflowError(), qt.IsNotNil)
	// Terminal state commits even though the workflow failed.
	c.Assert(ete.states(), qt.DeepEquals, []types.JobState{
		types.JobStateExtracting,
		types.JobStateFailed,
	})
	c.Assert(ete.ingests, qt.HasLen, 1)
	c.Assert(ete.ingests[0].Completed, qt.IsFalse)
	c.Assert(ete.ingests[0].Reason, qt.Not(qt.Equals), "")
}

func TestEmbedVideoWorkflow_EmbeddingJobFails(t *testing.T) {
	c := qt.New(t)
	ete := newEmbedTestEnv(t)
	param := embedParam()

	ete.env.OnActivity(ete.worker.ExtractSegmentsActivity, mock.Anything, mock.Anything).
		Return(testSegments(param.JobUID, 2), nil)
	ete.env.OnActivity(ete.worker.SubmitEmbeddingActivity, mock.Anything, mock.Anything).
		Return(&SubmitEmbeddingActivityResult{PollToken: "inv-456"}, nil)
	ete.env.OnActivity(ete.worker.CheckEmbeddingActivity, mock.Anything, mock.Anything).
		Return(&CheckEmbeddingActivityResult{Done: true, FailureMessage: "model refused the input"}, nil)

	ete.env.ExecuteWorkflow(ete.worker.EmbedVideoWorkflow, param)

	c.Assert(ete.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ete.env.GetWorkflowError(), qt.IsNotNil)
	last := ete.updates[len(ete.updates)-1]
	c.Assert(last.State, qt.Equals, types.JobStateFailed)
	c.Assert(last.LastError, qt.Contains, "model refused the input")
	c.Assert(ete.ingests, qt.HasLen, 1)
	c.Assert(ete.ingests[0].Completed, qt.IsFalse)
}

func TestEmbedVideoWorkflow_IndexingFailureMarksJobFailed(t *testing.T) {
	c := qt.New(t)
	ete := newEmbedTestEnv(t)
	param := embedParam()

	ete.env.OnActivity(ete.worker.ExtractSegmentsActivity, mock.Anything, mock.Anything).
		Return(testSegments(param.JobUID, 2), nil)
	ete.env.OnActivity(ete.worker.SubmitEmbeddingActivity, mock.Anything, mock.Anything).
		Return(&SubmitEmbeddingActivityResult{PollToken: "inv-789"}, nil)
	ete.env.OnActivity(ete.worker.CheckEmbeddingActivity, mock.Anything, mock.Anything).
		Return(&CheckEmbeddingActivityResult{Done: true, OutputPrefix: "embeddings/x/"}, nil)
	ete.env.OnActivity(ete.worker.IndexVectorsActivity, mock.Anything, mock.Anything).
		Return(nil, temporal.NewNonRetryableApplicationError("vector index unavailable", indexVectorsActivityError, nil))

	ete.env.ExecuteWorkflow(ete.worker.EmbedVideoWorkflow, param)

	c.Assert(ete.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ete.env.GetWorkflowError(), qt.IsNotNil)
	last := ete.updates[len(ete.updates)-1]
	c.Assert(last.State, qt.Equals, types.JobStateFailed)
	c.Assert(ete.ingests, qt.HasLen, 1)
	c.Assert(ete.ingests[0].Completed, qt.IsFalse)
}
