package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	errdomain "github.com/EducloudHQ/video-agent-nova-embeddings/pkg/errors"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

// terminalStates is used to filter active (non-terminal) jobs.
var terminalStates = []types.JobState{types.JobStateCompleted, types.JobStateFailed}

// CreateVideoAsset inserts the asset record if it doesn't exist yet.
// Re-uploads of the same key keep the original row (assets are immutable).
func (r *repository) CreateVideoAsset(ctx context.Context, asset *VideoAssetModel) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(asset)
	if result.Error != nil {
		return fmt.Errorf("creating video asset: %w", result.Error)
	}
	return nil
}

// CreateJobIfNoneActive inserts a new pending job unless a non-terminal job
// already exists for the same object reference. The check and the insert run
// in one transaction so concurrent duplicate triggers can't both win.
func (r *repository) CreateJobIfNoneActive(ctx context.Context, job *EmbeddingJobModel) (*EmbeddingJobModel, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active EmbeddingJobModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("bucket = ? AND key = ? AND state NOT IN ?", job.Bucket, job.Key, terminalStates).
			First(&active).Error
		if err == nil {
			return fmt.Errorf("job %s still active for %s: %w", active.UID, job.ObjectRef(), errdomain.ErrAlreadyExists)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("checking active job: %w", err)
		}

		job.State = types.JobStatePending
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("creating embedding job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob fetches a job by its unique identifier.
func (r *repository) GetJob(ctx context.Context, jobUID types.JobUIDType) (*EmbeddingJobModel, error) {
	var job EmbeddingJobModel
	err := r.db.WithContext(ctx).Where("uid = ?", jobUID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("fetching job %s: %w", jobUID, errdomain.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching job: %w", err)
	}
	return &job, nil
}

// GetActiveJobByObjectRef returns the non-terminal job for an object, if any.
func (r *repository) GetActiveJobByObjectRef(ctx context.Context, ref types.ObjectRef) (*EmbeddingJobModel, error) {
	var job EmbeddingJobModel
	err := r.db.WithContext(ctx).
		Where("bucket = ? AND key = ? AND state NOT IN ?", ref.Bucket, ref.Key, terminalStates).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no active job for %s: %w", ref, errdomain.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching active job: %w", err)
	}
	return &job, nil
}

// UpdateJobState records a stage transition. Stage transitions within a job
// are strictly sequential: the workflow doesn't start a stage before this
// write returns.
func (r *repository) UpdateJobState(ctx context.Context, jobUID types.JobUIDType, update JobStateUpdate) error {
	columns := map[string]any{"state": update.State}
	if update.Attempt != nil {
		columns["attempt"] = *update.Attempt
	}
	if update.LastError != nil {
		columns["last_error"] = *update.LastError
	}
	if update.PollToken != nil {
		columns["poll_token"] = *update.PollToken
	}
	if update.VectorCount != nil {
		columns["vector_count"] = *update.VectorCount
	}

	result := r.db.WithContext(ctx).
		Model(&EmbeddingJobModel{}).
		Where("uid = ?", jobUID).
		Updates(columns)
	if result.Error != nil {
		return fmt.Errorf("updating job state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("updating job %s: %w", jobUID, errdomain.ErrNotFound)
	}
	return nil
}
