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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
	"go.opentelemetry.io/otel"

	"github.com/crosscheck-finance/crosscheck"
	"github.com/crosscheck-finance/crosscheck/config"
	redis_db "github.com/crosscheck-finance/crosscheck/internal/redis-db"
	"github.com/crosscheck-finance/crosscheck/internal/search"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

// indexData represents the data structure used for indexing data in the system.
// It includes the collection name and the payload which is the data to be indexed.
type indexData struct {
	Collection string                 `json:"collection"`
	Payload    map[string]interface{} `json:"payload"`
}

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// processSessionFiles parses the uploaded files of a session received from the Redis queue.
// Transient failures are pushed back for retry; once the retry budget is exhausted the
// session itself is marked failed so it never sits in processing forever.
func (b *crosscheckInstance) processSessionFiles(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("crosscheck.reconciliation.worker").Start(ctx, "Process Session Files From Redis Queue")
	defer span.End()

	var sessionID string
	if err := json.Unmarshal(t.Payload(), &sessionID); err != nil {
		logrus.Error(err)
		return err
	}

	if err := b.crosscheck.ProcessSessionFiles(ctx, sessionID); err != nil {
		retryCount, _ := asynq.GetRetryCount(ctx)
		if retryCount >= b.cnf.Queue.MaxRetryAttempts {
			return b.crosscheck.FailSession(ctx, sessionID,
				fmt.Errorf("file processing failed after max retry attempts: %v", err))
		}

		logrus.Infof("Session %s file processing pushed back for retry due to error: %v", sessionID, err)
		return err // This will trigger a retry
	}

	log.Println(" [*] Session Files Processed", sessionID)
	return nil
}

// runSessionMatching runs the matching engine for a session received from the Redis queue.
// Like file processing, transient failures retry and exhausted retries fail the session.
func (b *crosscheckInstance) runSessionMatching(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("crosscheck.reconciliation.worker").Start(ctx, "Run Session Matching From Redis Queue")
	defer span.End()

	var sessionID string
	if err := json.Unmarshal(t.Payload(), &sessionID); err != nil {
		logrus.Error(err)
		return err
	}

	if err := b.crosscheck.RunSessionMatching(ctx, sessionID); err != nil {
		retryCount, _ := asynq.GetRetryCount(ctx)
		if retryCount >= b.cnf.Queue.MaxRetryAttempts {
			return b.crosscheck.FailSession(ctx, sessionID,
				fmt.Errorf("matching failed after max retry attempts: %v", err))
		}

		logrus.Infof("Session %s matching pushed back for retry due to error: %v", sessionID, err)
		return err // This will trigger a retry
	}

	log.Println(" [*] Session Matched", sessionID)
	return nil
}

// indexData indexes data into TypeSense for searchability.
// It fetches the collection name and payload from the task, ensures the collections exist,
// and sends the payload to the appropriate TypeSense collection for indexing.
func (b *crosscheckInstance) indexData(ctx context.Context, t *asynq.Task) error {
	var data indexData

	// Unmarshal the indexing data from the task payload.
	if err := json.Unmarshal(t.Payload(), &data); err != nil {
		logrus.Error(err)
		return err
	}

	collection := data.Collection
	payload := data.Payload

	// Initialize a new TypeSense client and ensure collections exist.
	newSearch := search.NewTypesenseClient(b.cnf.TypeSenseKey, []string{b.cnf.TypeSense.Dns})
	err := newSearch.EnsureCollectionsExist(ctx)
	if err != nil {
		log.Printf("Failed to ensure collections exist: %v", err)
		return err
	}

	// Handle the notification and send the payload to the collection for indexing.
	err = newSearch.HandleNotification(ctx, collection, payload)
	if err != nil {
		log.Println("Error indexing data", err)
		return err
	}

	log.Println(" [*] Data indexed", collection)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.FileProcessingQueue] = 3
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.IndexQueue] = 1

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.MatchingQueue, i)
		queues[queueName] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *crosscheckInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	// Register handlers for the sharded matching queues
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.MatchingQueue, i)
		mux.HandleFunc(queueName, b.runSessionMatching)
	}

	// Register handlers for other task types
	mux.HandleFunc(cfg.Queue.FileProcessingQueue, b.processSessionFiles)
	mux.HandleFunc(cfg.Queue.IndexQueue, b.indexData)
	mux.HandleFunc(cfg.Queue.WebhookQueue, crosscheck.ProcessWebhook)
}

// workerCommands defines the "workers" command to start worker processes.
// The workers listen to various queues such as file processing, matching, indexing, and webhooks.
func workerCommands(b *crosscheckInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start crosscheck workers", // Short description of the command
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			// Load configuration
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			// Initialize observability (tracing and PostHog)
			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			// Initialize queues
			queues := initializeQueues()

			// Initialize worker server
			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			// Initialize task handlers
			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			// Start the stuck-session recovery loop alongside the queue consumers
			recovery := crosscheck.NewStuckSessionRecoveryProcessor(b.crosscheck)
			recovery.Start(ctx)
			defer recovery.Stop()

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring", //  Optional: if you want to serve asynqmon under a sub-path.
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			// Start asynqmon HTTP server in a new goroutine
			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			// Start worker server
			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
