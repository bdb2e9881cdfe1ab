package controller

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"marketsync/internal/config"
	"marketsync/internal/database"
	"marketsync/internal/model"
	"marketsync/internal/orchestrator"
	"marketsync/internal/rabbitmq"
)

// JobController handles job lifecycle operations: creation and enqueueing
// on the API side, consumption and execution on the worker side. Both sides
// can run in the same process or in separate ones; the store and the queue
// are the only coordination points.
type JobController interface {
	// CreateJob persists a pending job and enqueues it for processing
	CreateJob(ctx context.Context, ownerID, marketplace, jobType string, params map[string]string) (*model.Job, error)

	// ProcessJobs starts consuming and executing jobs
	ProcessJobs(ctx context.Context) error

	// StopProcessing drains the consumer and blocks until in-flight jobs
	// finish
	StopProcessing()

	// Control requests: all three only flip flags or statuses in the
	// store; the executing worker reacts at its next checkpoint
	CancelJob(ctx context.Context, jobID string) error
	PauseJob(ctx context.Context, jobID string) error
	ResumeJob(ctx context.Context, jobID string) error

	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]*model.Job, error)

	// AvailableJobTypes maps registered job types to runner names
	AvailableJobTypes() map[string]string
}

type jobController struct {
	db          database.JobDatabase
	rabbit      rabbitmq.Client
	jobsConfig  config.JobsConfig
	registry    orchestrator.RunnerRegistry
	consumerTag string
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// NewJobController creates a new job controller
func NewJobController(db database.JobDatabase, rabbit rabbitmq.Client,
	jobsConfig config.JobsConfig, registry orchestrator.RunnerRegistry) JobController {
	return &jobController{
		db:         db,
		rabbit:     rabbit,
		jobsConfig: jobsConfig,
		registry:   registry,
		shutdown:   make(chan struct{}),
	}
}

// CreateJob persists a new pending job and publishes its ID to the queue
func (c *jobController) CreateJob(ctx context.Context, ownerID, marketplace, jobType string, params map[string]string) (*model.Job, error) {
	if _, ok := c.registry.Get(jobType); !ok {
		return nil, fmt.Errorf("unknown job type: %v", jobType)
	}

	now := time.Now()
	job := &model.Job{
		ID:          primitive.NewObjectID(),
		OwnerID:     ownerID,
		Marketplace: marketplace,
		Type:        jobType,
		Status:      model.StatusPending,
		Params:      params,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := c.db.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := c.rabbit.PublishJob(job.ID.Hex(), job.Type); err != nil {
		c.db.UpdateJobStatus(ctx, job.ID, model.StatusFailed)
		return job, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Info().
		Str("jobID", job.ID.Hex()).
		Str("jobType", jobType).
		Str("marketplace", marketplace).
		Msg("Job created and enqueued")

	return job, nil
}

func (c *jobController) CancelJob(ctx context.Context, jobID string) error {
	id, err := primitive.ObjectIDFromHex(jobID)
	if err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}
	return c.db.RequestJobCancel(ctx, id)
}

func (c *jobController) PauseJob(ctx context.Context, jobID string) error {
	id, err := primitive.ObjectIDFromHex(jobID)
	if err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}
	return c.db.RequestJobPause(ctx, id)
}

func (c *jobController) ResumeJob(ctx context.Context, jobID string) error {
	id, err := primitive.ObjectIDFromHex(jobID)
	if err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}
	return c.db.ResumeJob(ctx, id)
}

func (c *jobController) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	id, err := primitive.ObjectIDFromHex(jobID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id: %w", err)
	}
	return c.db.GetJobByID(ctx, id)
}

func (c *jobController) ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]*model.Job, error) {
	return c.db.ListJobsByOwner(ctx, ownerID, limit, offset)
}

func (c *jobController) AvailableJobTypes() map[string]string {
	jobTypes := make(map[string]string)
	for _, jobType := range c.registry.AvailableTypes() {
		runner, _ := c.registry.Get(jobType)
		jobTypes[jobType] = runner.Name()
	}
	return jobTypes
}

// ProcessJobs declares the queue topology and starts the consumer loop
func (c *jobController) ProcessJobs(ctx context.Context) error {
	if len(c.registry.AvailableTypes()) == 0 {
		return fmt.Errorf("no job runners registered")
	}

	if err := c.rabbit.SetupJobTopology(); err != nil {
		return fmt.Errorf("failed to set up job topology: %w", err)
	}

	c.consumerTag = fmt.Sprintf("jobs-consumer-%s", primitive.NewObjectID().Hex())
	c.startConsumer(ctx)

	log.Info().
		Int("runners", len(c.registry.AvailableTypes())).
		Msg("Job processing started")
	return nil
}

// StopProcessing stops the consumer and waits for in-flight jobs
func (c *jobController) StopProcessing() {
	close(c.shutdown)
	c.wg.Wait()
	log.Info().Msg("Job processing stopped")
}

func (c *jobController) startConsumer(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		log.Info().Str("consumerTag", c.consumerTag).Msg("Starting job consumer")

		for {
			select {
			case <-ctx.Done():
				log.Info().Str("consumerTag", c.consumerTag).Msg("Context cancelled, stopping consumer")
				return
			case <-c.shutdown:
				log.Info().Str("consumerTag", c.consumerTag).Msg("Shutdown signal received, stopping consumer")
				return
			default:
			}

			deliveries, err := c.rabbit.Consume(c.consumerTag)
			if err != nil {
				log.Error().Err(err).Msg("Failed to consume from job queue")
				time.Sleep(5 * time.Second)
				continue
			}

			c.runWorkerPool(ctx, deliveries)

			log.Warn().Str("consumerTag", c.consumerTag).Msg("Consumer channel closed, reconnecting...")
			time.Sleep(5 * time.Second)
		}
	}()
}

// runWorkerPool fans deliveries out to a bounded pool so one process can
// execute several jobs at once, e.g. syncs for different marketplaces. The
// store-backed ceiling still bounds the fleet-wide total. Returns when the
// delivery channel closes.
func (c *jobController) runWorkerPool(ctx context.Context, deliveries <-chan amqp.Delivery) {
	workers := c.jobsConfig.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	var pool sync.WaitGroup
	for i := 0; i < workers; i++ {
		pool.Add(1)
		go func() {
			defer pool.Done()
			for delivery := range deliveries {
				c.processDelivery(ctx, delivery)
			}
		}()
	}
	pool.Wait()
}

// waitForCapacity blocks until the fleet-wide count of running jobs drops
// below the ceiling. The count comes from the shared store so the ceiling
// holds across processes; the check-then-claim is not transactional, so the
// ceiling is a soft limit under race. Jittered backoff keeps competing
// workers from rechecking in lockstep.
func (c *jobController) waitForCapacity(ctx context.Context) error {
	base := time.Duration(c.jobsConfig.CeilingBackoffSeconds) * time.Second
	if base <= 0 {
		base = 5 * time.Second
	}

	for {
		running, err := c.db.CountJobsByStatus(ctx, model.StatusRunning)
		if err != nil {
			return fmt.Errorf("count running jobs: %w", err)
		}
		if running < int64(c.jobsConfig.MaxConcurrent) {
			return nil
		}

		wait := base + time.Duration(rand.Int63n(int64(base)))
		log.Info().
			Int64("running", running).
			Int("ceiling", c.jobsConfig.MaxConcurrent).
			Dur("backoff", wait).
			Msg("Concurrency ceiling reached, backing off")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.shutdown:
			timer.Stop()
			return fmt.Errorf("shutting down")
		case <-timer.C:
		}
	}
}

// processDelivery executes one claimed job end to end
func (c *jobController) processDelivery(ctx context.Context, delivery amqp.Delivery) {
	jobIDStr, ok := delivery.Headers["job_id"].(string)
	if !ok {
		log.Error().Msg("Message missing job_id header, rejecting")
		delivery.Nack(false, false)
		return
	}
	jobID, err := primitive.ObjectIDFromHex(jobIDStr)
	if err != nil {
		log.Error().Str("jobID", jobIDStr).Msg("Malformed job_id header, rejecting")
		delivery.Nack(false, false)
		return
	}

	jobType, ok := delivery.Headers["job_type"].(string)
	if !ok {
		log.Error().Str("jobID", jobIDStr).Msg("Message missing job_type header, rejecting")
		delivery.Nack(false, false)
		return
	}

	logger := log.With().
		Str("jobID", jobID.Hex()).
		Str("jobType", jobType).
		Logger()

	// Hold the claim until the fleet has capacity. The message stays
	// unacked, so a worker crash here returns it to the queue.
	if err := c.waitForCapacity(ctx); err != nil {
		logger.Warn().Err(err).Msg("Releasing job claim")
		delivery.Nack(false, true)
		return
	}

	job, err := c.db.GetJobByID(ctx, jobID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to retrieve job from database")
		delivery.Nack(false, false)
		return
	}

	// A job cancelled while still queued never starts
	if job.CancelRequested || job.Status.IsTerminal() {
		logger.Info().Str("status", string(job.Status)).Msg("Skipping job, already cancelled or finished")
		if !job.Status.IsTerminal() {
			c.db.UpdateJobStatus(ctx, jobID, model.StatusCancelled)
		}
		delivery.Ack(false)
		return
	}

	runner, exists := c.registry.Get(jobType)
	if !exists {
		logger.Error().Msg("No runner registered for job type")
		c.db.UpdateJobStatus(ctx, jobID, model.StatusFailed)
		delivery.Ack(false)
		return
	}

	if err := c.db.MarkJobRunning(ctx, jobID); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job running")
		delivery.Nack(false, false)
		return
	}

	logger.Info().Msg("Job execution started")
	result, cancelled, err := runner.Run(ctx, job)

	if result != nil {
		if serr := c.db.SetJobResult(ctx, jobID, result); serr != nil {
			logger.Error().Err(serr).Msg("Failed to store job result")
		}
	}

	switch {
	case err != nil:
		logger.Error().Err(err).Msg("Job execution failed")
		c.db.AppendJobLog(ctx, jobID, model.LogError, err.Error())
		if ferr := c.db.UpdateJobStatus(ctx, jobID, model.StatusFailed); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to update job status to failed")
		}
	case cancelled:
		c.db.AppendJobLog(ctx, jobID, model.LogWarning, "Job cancelled, partial results kept")
		if cerr := c.db.UpdateJobStatus(ctx, jobID, model.StatusCancelled); cerr != nil {
			logger.Error().Err(cerr).Msg("Failed to update job status to cancelled")
		}
		logger.Info().Msg("Job cancelled")
	default:
		if cerr := c.db.UpdateJobStatus(ctx, jobID, model.StatusCompleted); cerr != nil {
			logger.Error().Err(cerr).Msg("Failed to update job status to completed")
		}
		logger.Info().Msg("Job completed")
	}

	delivery.Ack(false)
}
