package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	errdomain "github.com/EducloudHQ/video-agent-nova-embeddings/pkg/errors"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

// CreateSearchRequest persists a submitted search request.
func (r *repository) CreateSearchRequest(ctx context.Context, req *SearchRequestModel) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("creating search request: %w", err)
	}
	return nil
}

// GetSearchRequest fetches a search request by requestId.
func (r *repository) GetSearchRequest(ctx context.Context, requestUID types.RequestUIDType) (*SearchRequestModel, error) {
	var req SearchRequestModel
	err := r.db.WithContext(ctx).Where("uid = ?", requestUID).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("fetching search request %s: %w", requestUID, errdomain.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching search request: %w", err)
	}
	return &req, nil
}

// CreateApprovalCallback persists a pending callback record before the
// owning workflow suspends.
func (r *repository) CreateApprovalCallback(ctx context.Context, cb *ApprovalCallbackModel) error {
	cb.State = CallbackStatePending
	if err := r.db.WithContext(ctx).Create(cb).Error; err != nil {
		return fmt.Errorf("creating approval callback: %w", err)
	}
	return nil
}

// GetApprovalCallback fetches a callback by callbackId.
func (r *repository) GetApprovalCallback(ctx context.Context, callbackUID types.CallbackUIDType) (*ApprovalCallbackModel, error) {
	var cb ApprovalCallbackModel
	err := r.db.WithContext(ctx).Where("uid = ?", callbackUID).First(&cb).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("fetching callback %s: %w", callbackUID, errdomain.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching callback: %w", err)
	}
	return &cb, nil
}

// ResolveApprovalCallback commits a decision with a conditional update on the
// pending state. The first committer (human decision or timeout) wins; any
// later attempt gets ErrAlreadyResolved and must treat it as a no-op.
func (r *repository) ResolveApprovalCallback(ctx context.Context, callbackUID types.CallbackUIDType, decision types.Decision, message string) (*ApprovalCallbackModel, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&ApprovalCallbackModel{}).
		Where("uid = ? AND state = ?", callbackUID, CallbackStatePending).
		Updates(map[string]any{
			"state":       CallbackStateResolved,
			"decision":    string(decision),
			"message":     message,
			"decide_time": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("resolving callback: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Either the callback never existed or it was already resolved.
		if _, err := r.GetApprovalCallback(ctx, callbackUID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("callback %s: %w", callbackUID, errdomain.ErrAlreadyResolved)
	}

	return r.GetApprovalCallback(ctx, callbackUID)
}

// ListPendingCallbacks returns callbacks still awaiting a decision. Used for
// diagnostics; the timers that resolve them live in the workflow history and
// re-arm on their own after a restart.
func (r *repository) ListPendingCallbacks(ctx context.Context, olderThan time.Time) ([]ApprovalCallbackModel, error) {
	var callbacks []ApprovalCallbackModel
	err := r.db.WithContext(ctx).
		Where("state = ? AND suspend_time < ?", CallbackStatePending, olderThan).
		Order("suspend_time").
		Find(&callbacks).Error
	if err != nil {
		return nil, fmt.Errorf("listing pending callbacks: %w", err)
	}
	return callbacks, nil
}
