/*
Copyright 2025 CrossCheck Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package crosscheck

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"

	"github.com/hibiken/asynq"

	"github.com/crosscheck-finance/crosscheck/config"
	redis_db "github.com/crosscheck-finance/crosscheck/internal/redis-db"
)

// Queue represents a queue for handling various tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueFileProcessing enqueues a session for source file parsing. The task ID
// carries a "process:" prefix because matching for the same session is
// enqueued while this task is still active, and bare session IDs would
// collide under asynq's uniqueness check.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the session whose files should be parsed.
//
// Returns:
// - error: An error if the task could not be enqueued.
func (q *Queue) queueFileProcessing(ctx context.Context, sessionID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(sessionID)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("process:%s", sessionID)),
		asynq.Queue(cfg.Queue.FileProcessingQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.FileProcessingQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued file processing: %+v", sessionID)
	return nil
}

// queueMatching enqueues the matching run for a session and assigns it to a
// specific queue based on the session ID. Sessions are evenly distributed
// across multiple queues by hashing the session ID, so independent sessions
// can be drained in parallel while all work for one session stays serialized
// within the same queue.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - sessionID string: The ID of the session to match.
//
// Returns:
// - error: An error if the task could not be enqueued.
func (q *Queue) queueMatching(ctx context.Context, sessionID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(sessionID)
	if err != nil {
		return err
	}
	queueIndex := hashSessionID(sessionID) % cfg.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cfg.Queue.MatchingQueue, queueIndex+1)

	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("match:%s", sessionID)),
		asynq.Queue(queueName),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(queueName, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued matching: %+v", sessionID)
	return nil
}

// queueIndexData enqueues a task to index data in a specified collection.
//
// Parameters:
// - id string: The ID of the data to index.
// - collection string: The name of the collection to index the data in.
// - data interface{}: The data to be indexed.
//
// Returns:
// - error: An error if the task could not be enqueued.
func (q *Queue) queueIndexData(id string, collection string, data interface{}) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if cfg.TypeSense.Dns == "" {
		return nil
	}

	payload := map[string]interface{}{
		"collection": collection,
		"payload":    data,
	}

	IPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{asynq.Queue(cfg.Queue.IndexQueue)}
	task := asynq.NewTask(cfg.Queue.IndexQueue, IPayload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued index data: %+v", id)
	return nil
}

// hashSessionID returns a consistent hash value for a string session ID.
//
// Parameters:
// - sessionID string: The session ID to hash.
//
// Returns:
// - int: The hash value of the session ID.
func hashSessionID(sessionID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(sessionID))
	return int(hasher.Sum32())
}

// HasPendingTask reports whether a queued or running pipeline task still
// exists for the session. Stuck session recovery uses this to tell a session
// whose worker died from one whose work is merely slow.
//
// Parameters:
// - sessionID string: The ID of the session to look for.
//
// Returns:
// - bool: True if a file processing or matching task for the session is still in a queue.
func (q *Queue) HasPendingTask(sessionID string) bool {
	cfg, err := config.Fetch()
	if err != nil {
		return false
	}

	task, err := q.Inspector.GetTaskInfo(cfg.Queue.FileProcessingQueue, fmt.Sprintf("process:%s", sessionID))
	if err == nil && task != nil {
		return true
	}

	// Matching tasks land in one of the numbered queues; check them all.
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.MatchingQueue, i)
		task, err := q.Inspector.GetTaskInfo(queueName, fmt.Sprintf("match:%s", sessionID))
		if err == nil && task != nil {
			return true
		}
	}
	return false
}
