package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pmb2/Social-Genius-sub006/domain"
)

// casRetries bounds the optimistic-concurrency loop in UpdateStatus.
const casRetries = 3

// TaskRepositoryMongo implements domain.TaskRepository.
type TaskRepositoryMongo struct {
	collection *mongo.Collection
}

// NewTaskRepositoryMongo creates a TaskRepositoryMongo and ensures its
// indexes.
func NewTaskRepositoryMongo(ctx context.Context, db *mongo.Database) (*TaskRepositoryMongo, error) {
	repo := &TaskRepositoryMongo{collection: db.Collection(TasksCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating %s indexes: %w", TasksCollection, err)
	}
	return repo, nil
}

func (r *TaskRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// At most one active task per (business, task type). The partial
			// filter keeps completed history out of the uniqueness check.
			Keys: bson.D{{Key: "business_id", Value: 1}, {Key: "task_type", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
				"status": bson.M{"$in": []string{
					string(domain.TaskStatusPending),
					string(domain.TaskStatusInProgress),
				}},
			}),
		},
		{
			// Purge scans terminal tasks by age.
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return err
	}
	log.Info().Msgf("Indexes for %s collection ensured.", TasksCollection)
	return nil
}

func (r *TaskRepositoryMongo) Insert(ctx context.Context, task *domain.AutomationTask) error {
	_, err := r.collection.InsertOne(ctx, task)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateActiveTask
		}
		log.Error().Err(err).Str("task_id", task.ID).Msg("Error inserting automation task")
		return err
	}
	return nil
}

func (r *TaskRepositoryMongo) GetByID(ctx context.Context, taskID string) (*domain.AutomationTask, error) {
	var task domain.AutomationTask
	err := r.collection.FindOne(ctx, bson.M{"_id": taskID}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrTaskNotFound
		}
		log.Error().Err(err).Str("task_id", taskID).Msg("Error loading automation task")
		return nil, err
	}
	return &task, nil
}

// UpdateStatus applies a mutation to the task only while its status is in the
// from set. The replace is guarded on the previously read status and
// updated_at, so a concurrent transition loses the race cleanly and the loop
// re-reads.
func (r *TaskRepositoryMongo) UpdateStatus(ctx context.Context, taskID string, from []domain.TaskStatus, apply func(*domain.AutomationTask)) (*domain.AutomationTask, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		task, err := r.GetByID(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if !statusIn(task.Status, from) {
			return nil, domain.ErrTerminalTaskState
		}

		guard := bson.M{
			"_id":        taskID,
			"status":     task.Status,
			"updated_at": task.UpdatedAt,
		}
		apply(task)
		task.UpdatedAt = time.Now().UTC()

		result, err := r.collection.ReplaceOne(ctx, guard, task)
		if err != nil {
			log.Error().Err(err).Str("task_id", taskID).Msg("Error updating automation task")
			return nil, err
		}
		if result.MatchedCount == 1 {
			return task, nil
		}
	}
	return nil, fmt.Errorf("updating task %s: too much contention", taskID)
}

func (r *TaskRepositoryMongo) AppendScreenshot(ctx context.Context, taskID string, shot domain.Screenshot) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": taskID},
		bson.M{
			"$push": bson.M{"screenshots": shot},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		log.Error().Err(err).Str("task_id", taskID).Msg("Error appending screenshot")
		return err
	}
	if result.MatchedCount == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepositoryMongo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{
		"status": bson.M{"$in": []string{
			string(domain.TaskStatusSuccess),
			string(domain.TaskStatusFailed),
			string(domain.TaskStatusTerminated),
		}},
		"updated_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		log.Error().Err(err).Msg("Error purging completed automation tasks")
		return 0, err
	}
	return result.DeletedCount, nil
}

func statusIn(status domain.TaskStatus, set []domain.TaskStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

var _ domain.TaskRepository = (*TaskRepositoryMongo)(nil)
