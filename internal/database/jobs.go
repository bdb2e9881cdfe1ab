package database

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketsync/internal/model"
)

// ErrJobNotFound is returned when the referenced job does not exist
var ErrJobNotFound = errors.New("job not found")

// JobDatabase defines job-related database operations. All mutations are
// single atomic updates against the shared store; callers never cache job
// state across calls.
type JobDatabase interface {
	// Create a new job
	CreateJob(ctx context.Context, job *model.Job) error

	// Get a job by ID
	GetJobByID(ctx context.Context, id primitive.ObjectID) (*model.Job, error)

	// Update job status; sets completed_at on terminal statuses
	UpdateJobStatus(ctx context.Context, id primitive.ObjectID, status model.JobStatus) error

	// MarkJobRunning flips a claimed job to running and stamps started_at
	MarkJobRunning(ctx context.Context, id primitive.ObjectID) error

	// Update job progress
	UpdateJobProgress(ctx context.Context, id primitive.ObjectID, progress model.JobProgress) error

	// Append one line to the job's log stream
	AppendJobLog(ctx context.Context, id primitive.ObjectID, level model.LogLevel, message string) error

	// Store the job body's result payload
	SetJobResult(ctx context.Context, id primitive.ObjectID, result interface{}) error

	// Job control requests
	RequestJobCancel(ctx context.Context, id primitive.ObjectID) error
	RequestJobPause(ctx context.Context, id primitive.ObjectID) error
	ResumeJob(ctx context.Context, id primitive.ObjectID) error

	// Count jobs by status across the whole fleet
	CountJobsByStatus(ctx context.Context, status model.JobStatus) (int64, error)

	// List jobs by owner ID
	ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.Job, error)

	// List jobs by status
	ListJobsByStatus(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.Job, error)
}

// CreateJob creates a new job in the database
func (m *mongoDB) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID.IsZero() {
		job.ID = primitive.NewObjectID()
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.StatusPending
	}
	if job.Logs == nil {
		job.Logs = []model.JobLogEntry{}
	}

	_, err := m.jobsCol.InsertOne(ctx, job)
	if err != nil {
		log.Error().Err(err).Str("jobID", job.ID.Hex()).Msg("Failed to create job")
		return err
	}

	log.Debug().Str("jobID", job.ID.Hex()).Str("type", job.Type).Msg("Created new job")
	return nil
}

// GetJobByID retrieves a job by its ID
func (m *mongoDB) GetJobByID(ctx context.Context, id primitive.ObjectID) (*model.Job, error) {
	var job model.Job
	err := m.jobsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrJobNotFound
		}
		log.Error().Err(err).Str("jobID", id.Hex()).Msg("Failed to get job")
		return nil, err
	}

	return &job, nil
}

// UpdateJobStatus updates a job's status
func (m *mongoDB) UpdateJobStatus(ctx context.Context, id primitive.ObjectID, status model.JobStatus) error {
	set := bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}
	if status.IsTerminal() {
		set["completed_at"] = time.Now()
	}

	result, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		log.Error().Err(err).Str("jobID", id.Hex()).Str("status", string(status)).Msg("Failed to update job status")
		return err
	}
	if result.MatchedCount == 0 {
		return ErrJobNotFound
	}

	log.Debug().Str("jobID", id.Hex()).Str("status", string(status)).Msg("Updated job status")
	return nil
}

// MarkJobRunning flips a job to running and stamps started_at
func (m *mongoDB) MarkJobRunning(ctx context.Context, id primitive.ObjectID) error {
	now := time.Now()
	result, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"status":     model.StatusRunning,
			"started_at": now,
			"updated_at": now,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("jobID", id.Hex()).Msg("Failed to mark job running")
		return err
	}
	if result.MatchedCount == 0 {
		return ErrJobNotFound
	}

	return nil
}

// UpdateJobProgress updates a job's progress counters and message
func (m *mongoDB) UpdateJobProgress(ctx context.Context, id primitive.ObjectID, progress model.JobProgress) error {
	_, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"progress":   progress,
			"updated_at": time.Now(),
		},
	})
	if err != nil {
		log.Error().Err(err).Str("jobID", id.Hex()).Int("current", progress.Current).Msg("Failed to update job progress")
		return err
	}

	return nil
}

// AppendJobLog pushes one entry onto the job's append-only log
func (m *mongoDB) AppendJobLog(ctx context.Context, id primitive.ObjectID, level model.LogLevel, message string) error {
	entry := model.JobLogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}

	_, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$push": bson.M{"logs": entry},
		"$set":  bson.M{"updated_at": entry.Timestamp},
	})
	if err != nil {
		log.Error().Err(err).Str("jobID", id.Hex()).Msg("Failed to append job log")
		return err
	}

	return nil
}

// SetJobResult stores the job body's structured result payload
func (m *mongoDB) SetJobResult(ctx context.Context, id primitive.ObjectID, result interface{}) error {
	_, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"result":     result,
			"updated_at": time.Now(),
		},
	})
	if err != nil {
		log.Error().Err(err).Str("jobID", id.Hex()).Msg("Failed to set job result")
		return err
	}

	return nil
}

// RequestJobCancel sets the cancellation flag. Non-terminal jobs move to
// cancelling; the running worker resolves the final state at its next
// checkpoint.
func (m *mongoDB) RequestJobCancel(ctx context.Context, id primitive.ObjectID) error {
	result, err := m.jobsCol.UpdateOne(ctx,
		bson.M{
			"_id":    id,
			"status": bson.M{"$nin": []model.JobStatus{model.StatusCompleted, model.StatusFailed, model.StatusCancelled}},
		},
		bson.M{
			"$set": bson.M{
				"cancel_requested": true,
				"status":           model.StatusCancelling,
				"updated_at":       time.Now(),
			},
		})
	if err != nil {
		log.Error().Err(err).Str("jobID", id.Hex()).Msg("Failed to request job cancel")
		return err
	}
	if result.MatchedCount == 0 {
		return ErrJobNotFound
	}

	log.Info().Str("jobID", id.Hex()).Msg("Job cancel requested")
	return nil
}

// RequestJobPause sets the pause flag on a running job
func (m *mongoDB) RequestJobPause(ctx context.Context, id primitive.ObjectID) error {
	result, err := m.jobsCol.UpdateOne(ctx,
		bson.M{"_id": id, "status": model.StatusRunning},
		bson.M{
			"$set": bson.M{
				"pause_requested": true,
				"status":          model.StatusPausing,
				"updated_at":      time.Now(),
			},
		})
	if err != nil {
		log.Error().Err(err).Str("jobID", id.Hex()).Msg("Failed to request job pause")
		return err
	}
	if result.MatchedCount == 0 {
		return ErrJobNotFound
	}

	log.Info().Str("jobID", id.Hex()).Msg("Job pause requested")
	return nil
}

// ResumeJob clears the pause flag on a pausing job
func (m *mongoDB) ResumeJob(ctx context.Context, id primitive.ObjectID) error {
	result, err := m.jobsCol.UpdateOne(ctx,
		bson.M{"_id": id, "status": model.StatusPausing},
		bson.M{
			"$set": bson.M{
				"pause_requested": false,
				"status":          model.StatusRunning,
				"updated_at":      time.Now(),
			},
		})
	if err != nil {
		log.Error().Err(err).Str("jobID", id.Hex()).Msg("Failed to resume job")
		return err
	}
	if result.MatchedCount == 0 {
		return ErrJobNotFound
	}

	log.Info().Str("jobID", id.Hex()).Msg("Job resumed")
	return nil
}

// CountJobsByStatus counts jobs with a specific status across every worker
func (m *mongoDB) CountJobsByStatus(ctx context.Context, status model.JobStatus) (int64, error) {
	count, err := m.jobsCol.CountDocuments(ctx, bson.M{"status": status})
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("Failed to count jobs by status")
		return 0, err
	}

	return count, nil
}

// ListJobsByOwner retrieves jobs for an owner, newest first
func (m *mongoDB) ListJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*model.Job, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.M{"created_at": -1})

	cursor, err := m.jobsCol.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		log.Error().Err(err).Str("ownerID", ownerID).Msg("Failed to list jobs by owner")
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*model.Job
	if err := cursor.All(ctx, &jobs); err != nil {
		log.Error().Err(err).Msg("Failed to decode jobs")
		return nil, err
	}

	return jobs, nil
}

// ListJobsByStatus retrieves jobs by their status, newest first
func (m *mongoDB) ListJobsByStatus(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.Job, error) {
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.M{"created_at": -1})

	cursor, err := m.jobsCol.Find(ctx, bson.M{"status": status}, opts)
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("Failed to list jobs by status")
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*model.Job
	if err := cursor.All(ctx, &jobs); err != nil {
		log.Error().Err(err).Msg("Failed to decode jobs")
		return nil, err
	}

	return jobs, nil
}
