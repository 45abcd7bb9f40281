package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap"

	qt "github.com/frankban/quicktest"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

type searchTestEnv struct {
	env          *testsuite.TestWorkflowEnvironment
	worker       *Worker
	events       []types.StatusEvent
	callbackUIDs []types.CallbackUIDType
	resolutions  []ResolveCallbackActivityParam
}

// newSearchTestEnv wires a workflow environment where every activity is
// mocked: the vector index returns the given candidates, clip cutting always
// succeeds and callback UIDs are handed out sequentially so tests can signal
// them.
func newSearchTestEnv(t *testing.T, candidates []types.SearchCandidate) *searchTestEnv {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	w := &Worker{log: zap.NewNop()}

	ste := &searchTestEnv{env: env, worker: w}

	env.RegisterWorkflow(w.SearchWorkflow)
	env.RegisterActivity(w.EmbedQueryActivity)
	env.RegisterActivity(w.QueryVectorsActivity)
	env.RegisterActivity(w.CutClipActivity)
	env.RegisterActivity(w.CreateCallbackActivity)
	env.RegisterActivity(w.ResolveCallbackActivity)
	env.RegisterActivity(w.PublishStatusEventActivity)

	env.OnActivity(w.EmbedQueryActivity, mock.Anything, mock.Anything).
		Return([]float32{0.1, 0.2, 0.3}, nil)
	env.OnActivity(w.QueryVectorsActivity, mock.Anything, mock.Anything).
		Return(candidates, nil)
	env.OnActivity(w.CutClipActivity, mock.Anything, mock.Anything).
		Return(&CutClipActivityResult{ClipKey: "cuts/clip.mp4", VideoURL: "https://media.test/clip.mp4"}, nil)
	env.OnActivity(w.PublishStatusEventActivity, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			param := args.Get(1).(*PublishStatusEventActivityParam)
			ste.events = append(ste.events, param.Event)
		}).
		Return(nil)

	return ste
}

func (ste *searchTestEnv) statuses() []types.Status {
	out := make([]types.Status, len(ste.events))
	for i, e := range ste.events {
		out[i] = e.Status
	}
	return out
}

func testCandidates(n int) []types.SearchCandidate {
	ref := types.ObjectRef{Bucket: "video-media", Key: "videos/demo.mp4"}
	out := make([]types.SearchCandidate, n)
	for i := range n {
		out[i] = types.SearchCandidate{
			ObjectRef:    ref,
			SegmentUID:   uuid.Must(uuid.NewV4()).String(),
			StartSeconds: float64(i * 15),
			EndSeconds:   float64(i*15 + 15),
			Score:        0.9 - float32(i)*0.1,
		}
	}
	return out
}

func searchParam(mode string) SearchWorkflowParam {
	return SearchWorkflowParam{
		RequestUID: uuid.Must(uuid.NewV4()),
		Query:      "goal celebration",
		TopK:       5,
		Approval:   ApprovalPolicy{Mode: mode, Timeout: time.Hour},
	}
}

func TestSearchWorkflow_NoCandidates(t *testing.T) {
	c := qt.New(t)
	ste := newSearchTestEnv(t, nil)

	ste.env.ExecuteWorkflow(ste.worker.SearchWorkflow, searchParam("all"))

	c.Assert(ste.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ste.env.GetWorkflowError(), qt.IsNil)
	c.Assert(ste.statuses(), qt.DeepEquals, []types.Status{types.StatusSearching, types.StatusFailed})
}

func TestSearchWorkflow_NoApprovalNeeded(t *testing.T) {
	c := qt.New(t)
	ste := newSearchTestEnv(t, testCandidates(3))

	ste.env.ExecuteWorkflow(ste.worker.SearchWorkflow, searchParam("none"))

	c.Assert(ste.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ste.env.GetWorkflowError(), qt.IsNil)
	c.Assert(ste.statuses(), qt.DeepEquals, []types.Status{
		types.StatusSearching, types.StatusFound, types.StatusFound, types.StatusFound,
	})
	for _, ev := range ste.events[1:] {
		c.Assert(ev.VideoURL, qt.Equals, "https://media.test/clip.mp4")
	}
	c.Assert(ste.callbackUIDs, qt.HasLen, 0)
}

func TestSearchWorkflow_ThresholdSkipsApprovalForHighScores(t *testing.T) {
	c := qt.New(t)
	ste := newSearchTestEnv(t, testCandidates(3))

	param := searchParam("threshold")
	param.Approval.MinScore = 0.5

	ste.env.ExecuteWorkflow(ste.worker.SearchWorkflow, param)

	c.Assert(ste.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ste.env.GetWorkflowError(), qt.IsNil)
	// All three candidates score above the threshold, so none are gated.
	c.Assert(ste.statuses(), qt.DeepEquals, []types.Status{
		types.StatusSearching, types.StatusFound, types.StatusFound, types.StatusFound,
	})
}

func TestSearchWorkflow_ApprovedAfterGate(t *testing.T) {
	c := qt.New(t)
	ste := newSearchTestEnv(t, testCandidates(2))
	mockCallbackGate(ste)

	ste.env.RegisterDelayedCallback(func() {
		ste.env.SignalWorkflow(ApprovalSignalName, ApprovalSignal{
			CallbackID: ste.callbackUIDs[0].String(),
			Decision:   types.DecisionApproved,
			Message:    "looks right",
		})
	}, time.Minute)

	ste.env.ExecuteWorkflow(ste.worker.SearchWorkflow, searchParam("all"))

	c.Assert(ste.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ste.env.GetWorkflowError(), qt.IsNil)
	c.Assert(ste.statuses(), qt.DeepEquals, []types.Status{
		types.StatusSearching, types.StatusAwaitingApproval, types.StatusApproved,
	})
	c.Assert(ste.events[1].CallbackID, qt.Equals, ste.callbackUIDs[0].String())
	c.Assert(ste.events[2].CallbackID, qt.Equals, ste.callbackUIDs[0].String())
	c.Assert(ste.resolutions, qt.HasLen, 1)
	c.Assert(ste.resolutions[0].Decision, qt.Equals, types.DecisionApproved)
}

func TestSearchWorkflow_RejectedAdvancesToNextCandidate(t *testing.T) {
	c := qt.New(t)
	ste := newSearchTestEnv(t, testCandidates(2))
	mockCallbackGate(ste)

	ste.env.RegisterDelayedCallback(func() {
		ste.env.SignalWorkflow(ApprovalSignalName, ApprovalSignal{
			CallbackID: ste.callbackUIDs[0].String(),
			Decision:   types.DecisionRejected,
			Message:    "wrong scene",
		})
	}, time.Minute)
	ste.env.RegisterDelayedCallback(func() {
		ste.env.SignalWorkflow(ApprovalSignalName, ApprovalSignal{
			CallbackID: ste.callbackUIDs[1].String(),
			Decision:   types.DecisionApproved,
		})
	}, 2*time.Minute)

	ste.env.ExecuteWorkflow(ste.worker.SearchWorkflow, searchParam("all"))

	c.Assert(ste.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ste.env.GetWorkflowError(), qt.IsNil)
	c.Assert(ste.statuses(), qt.DeepEquals, []types.Status{
		types.StatusSearching,
		types.StatusAwaitingApproval, types.StatusRejected,
		types.StatusAwaitingApproval, types.StatusApproved,
	})
	c.Assert(ste.callbackUIDs, qt.HasLen, 2)
	c.Assert(ste.events[4].CallbackID, qt.Equals, ste.callbackUIDs[1].String())
}

func TestSearchWorkflow_AllRejectedFailsRequest(t *testing.T) {
	c := qt.New(t)
	ste := newSearchTestEnv(t, testCandidates(1))
	mockCallbackGate(ste)

	ste.env.RegisterDelayedCallback(func() {
		ste.env.SignalWorkflow(ApprovalSignalName, ApprovalSignal{
			CallbackID: ste.callbackUIDs[0].String(),
			Decision:   types.DecisionRejected,
			Message:    "not it",
		})
	}, time.Minute)

	ste.env.ExecuteWorkflow(ste.worker.SearchWorkflow, searchParam("all"))

	c.Assert(ste.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ste.env.GetWorkflowError(), qt.IsNil)
	c.Assert(ste.statuses(), qt.DeepEquals, []types.Status{
		types.StatusSearching, types.StatusAwaitingApproval,
		types.StatusRejected, types.StatusFailed,
	})
	c.Assert(ste.events[3].Message, qt.Equals, "no candidate was approved")
}

func TestSearchWorkflow_TimeoutFailsClosed(t *testing.T) {
	c := qt.New(t)
	ste := newSearchTestEnv(t, testCandidates(3))
	mockCallbackGate(ste)

	// Nobody signals; the timer fires and the gate rejects.
	ste.env.ExecuteWorkflow(ste.worker.SearchWorkflow, searchParam("all"))

	c.Assert(ste.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ste.env.GetWorkflowError(), qt.IsNil)
	c.Assert(ste.statuses(), qt.DeepEquals, []types.Status{
		types.StatusSearching, types.StatusAwaitingApproval, types.StatusRejected,
	})
	// A timeout ends the request instead of parking the remaining candidates.
	c.Assert(ste.callbackUIDs, qt.HasLen, 1)
	c.Assert(ste.resolutions, qt.HasLen, 1)
	c.Assert(ste.resolutions[0].Decision, qt.Equals, types.DecisionRejected)
	c.Assert(ste.resolutions[0].Message, qt.Equals, "approval timed out")
}

func TestSearchWorkflow_StaleSignalIgnored(t *testing.T) {
	c := qt.New(t)
	ste := newSearchTestEnv(t, testCandidates(1))
	mockCallbackGate(ste)

	ste.env.RegisterDelayedCallback(func() {
		// A decision for some other callback must not resolve this gate.
		ste.env.SignalWorkflow(ApprovalSignalName, ApprovalSignal{
			CallbackID: uuid.Must(uuid.NewV4()).String(),
			Decision:   types.DecisionApproved,
		})
	}, time.Minute)
	ste.env.RegisterDelayedCallback(func() {
		ste.env.SignalWorkflow(ApprovalSignalName, ApprovalSignal{
			CallbackID: ste.callbackUIDs[0].String(),
			Decision:   types.DecisionApproved,
		})
	}, 2*time.Minute)

	ste.env.ExecuteWorkflow(ste.worker.SearchWorkflow, searchParam("all"))

	c.Assert(ste.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ste.env.GetWorkflowError(), qt.IsNil)
	c.Assert(ste.resolutions, qt.HasLen, 1)
	c.Assert(ste.resolutions[0].Decision, qt.Equals, types.DecisionApproved)
}

func TestSearchWorkflow_RetriedCommitStillPublishesTerminalStatus(t *testing.T) {
	c := qt.New(t)
	ste := newSearchTestEnv(t, testCandidates(1))

	ste.env.OnActivity(ste.worker.CreateCallbackActivity, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, param *CreateCallbackActivityParam) (*CreateCallbackActivityResult, error) {
			callbackUID := uuid.Must(uuid.NewV4())
			ste.callbackUIDs = append(ste.callbackUIDs, callbackUID)
			return &CreateCallbackActivityResult{CallbackUID: callbackUID}, nil
		})
	// The first attempt commits the decision but the worker dies before
	// reporting; the retry finds the callback already resolved.
	attempts := 0
	ste.env.OnActivity(ste.worker.ResolveCallbackActivity, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, param *ResolveCallbackActivityParam) (*ResolveCallbackActivityResult, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("worker lost after commit")
			}
			return &ResolveCallbackActivityResult{Won: false, Decision: types.DecisionApproved}, nil
		})

	ste.env.RegisterDelayedCallback(func() {
		ste.env.SignalWorkflow(ApprovalSignalName, ApprovalSignal{
			CallbackID: ste.callbackUIDs[0].String(),
			Decision:   types.DecisionApproved,
		})
	}, time.Minute)

	ste.env.ExecuteWorkflow(ste.worker.SearchWorkflow, searchParam("all"))

	c.Assert(ste.env.IsWorkflowCompleted(), qt.IsTrue)
	c.Assert(ste.env.GetWorkflowError(), qt.IsNil)
	c.Assert(attempts, qt.Equals, 2)
	// The committed decision still reaches the stream even though this
	// attempt lost the commit.
	c.Assert(ste.statuses(), qt.DeepEquals, []types.Status{
		types.StatusSearching, types.StatusAwaitingApproval, types.StatusApproved,
	})
	c.Assert(ste.events[2].CallbackID, qt.Equals, ste.callbackUIDs[0].String())
}

// mockCallbackGate installs the default gate mocks: sequential callback UIDs
// and a resolver that always wins the commit and echoes the decision.
func mockCallbackGate(ste *searchTestEnv) {
	ste.env.OnActivity(ste.worker.CreateCallbackActivity, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, param *CreateCallbackActivityParam) (*CreateCallbackActivityResult, error) {
			callbackUID := uuid.Must(uuid.NewV4())
			ste.callbackUIDs = append(ste.callbackUIDs, callbackUID)
			return &CreateCallbackActivityResult{CallbackUID: callbackUID}, nil
		})
	ste.env.OnActivity(ste.worker.ResolveCallbackActivity, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, param *ResolveCallbackActivityParam) (*ResolveCallbackActivityResult, error) {
			ste.resolutions = append(ste.resolutions, *param)
			return &ResolveCallbackActivityResult{Won: true, Decision: param.Decision}, nil
		})
}
