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

package search

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crosscheck-finance/crosscheck/database"
)

// ReindexProgress tracks the progress of a reindex operation.
type ReindexProgress struct {
	Status           string     `json:"status"` // "in_progress", "completed", "failed"
	Phase            string     `json:"phase"`  // "drop_collections", "indexing_sessions", etc.
	TotalRecords     int64      `json:"total_records"`
	ProcessedRecords int64      `json:"processed_records"`
	Errors           []string   `json:"errors,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// ReindexConfig holds configuration for reindexing.
type ReindexConfig struct {
	BatchSize int
}

// ReindexService handles reindexing operations.
type ReindexService struct {
	client     *TypesenseClient
	datasource database.IDataSource
	config     ReindexConfig
	progress   *ReindexProgress
	mu         sync.RWMutex
}

// NewReindexService creates a new ReindexService instance.
func NewReindexService(client *TypesenseClient, datasource database.IDataSource, config ReindexConfig) *ReindexService {
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	return &ReindexService{
		client:     client,
		datasource: datasource,
		config:     config,
		progress: &ReindexProgress{
			Status: "pending",
		},
	}
}

// GetProgress returns the current progress of the reindex operation.
func (r *ReindexService) GetProgress() ReindexProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.progress
}

// GetProgressPtr returns a pointer to a copy of the current progress.
func (r *ReindexService) GetProgressPtr() *ReindexProgress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	progress := *r.progress
	return &progress
}

func (r *ReindexService) updateProgress(phase string, processed int64, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Phase = phase
	r.progress.ProcessedRecords = processed
	r.progress.TotalRecords = total
}

func (r *ReindexService) addProcessed(count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.ProcessedRecords += count
	r.progress.TotalRecords = r.progress.ProcessedRecords
}

func (r *ReindexService) addError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Errors = append(r.progress.Errors, err)
}

// StartReindex performs a complete reindex of all reconciliation data.
// It drops all collections, recreates them, and indexes data in order:
// sessions -> matches -> exceptions
func (r *ReindexService) StartReindex(ctx context.Context) (*ReindexProgress, error) {
	r.mu.Lock()
	r.progress = &ReindexProgress{
		Status:    "in_progress",
		Phase:     "starting",
		StartedAt: time.Now(),
	}
	r.mu.Unlock()

	logrus.Info("Starting reindex operation")

	if err := r.dropCollections(ctx); err != nil {
		return r.failWithError(err, "drop_collections")
	}

	if err := r.createCollections(ctx); err != nil {
		return r.failWithError(err, "create_collections")
	}

	sessionIDs, err := r.indexSessions(ctx)
	if err != nil {
		return r.failWithError(err, "indexing_sessions")
	}

	if err := r.indexMatches(ctx, sessionIDs); err != nil {
		return r.failWithError(err, "indexing_matches")
	}

	if err := r.indexExceptions(ctx, sessionIDs); err != nil {
		return r.failWithError(err, "indexing_exceptions")
	}

	r.mu.Lock()
	now := time.Now()
	r.progress.Status = "completed"
	r.progress.Phase = "done"
	r.progress.CompletedAt = &now
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"total_records":     r.progress.TotalRecords,
		"processed_records": r.progress.ProcessedRecords,
		"duration":          time.Since(r.progress.StartedAt).String(),
	}).Info("Reindex operation completed")

	return r.GetProgressPtr(), nil
}

func (r *ReindexService) failWithError(err error, phase string) (*ReindexProgress, error) {
	r.mu.Lock()
	now := time.Now()
	r.progress.Status = "failed"
	r.progress.Phase = phase
	r.progress.CompletedAt = &now
	r.progress.Errors = append(r.progress.Errors, err.Error())
	r.mu.Unlock()

	logrus.WithError(err).WithField("phase", phase).Error("Reindex operation failed")
	return r.GetProgressPtr(), err
}

func (r *ReindexService) dropCollections(ctx context.Context) error {
	r.updateProgress("drop_collections", 0, 0)
	logrus.Info("Dropping all collections")

	if err := r.client.DropAllCollections(ctx); err != nil {
		return err
	}

	logrus.Info("All collections dropped successfully")
	return nil
}

func (r *ReindexService) createCollections(ctx context.Context) error {
	r.updateProgress("create_collections", 0, 0)
	logrus.Info("Creating collections")

	if err := r.client.EnsureCollectionsExist(ctx); err != nil {
		return err
	}

	logrus.Info("All collections created successfully")
	return nil
}

// indexSessions pages through every reconciliation session, indexes each one
// and returns the IDs it saw so the match and exception phases know which
// sessions to walk.
func (r *ReindexService) indexSessions(ctx context.Context) ([]string, error) {
	r.updateProgress("indexing_sessions", 0, 0)
	logrus.Info("Starting to index sessions")

	var sessionIDs []string
	var offset int
	var totalIndexed int64
	batchNum := 0

	for {
		sessions, err := r.datasource.GetAllSessions(ctx, "", r.config.BatchSize, offset)
		if err != nil {
			return nil, err
		}

		if len(sessions) == 0 {
			break
		}

		batchCount := len(sessions)
		for _, session := range sessions {
			sessionIDs = append(sessionIDs, session.SessionID)

			data, err := toMap(session)
			if err != nil {
				r.addError("session " + session.SessionID + ": " + err.Error())
				continue
			}

			if err := r.client.HandleNotification(ctx, CollectionSessions, data); err != nil {
				r.addError("session " + session.SessionID + ": " + err.Error())
				continue
			}
			totalIndexed++
		}

		r.updateProgress("indexing_sessions", totalIndexed, totalIndexed)

		batchNum++
		if batchNum%100 == 0 {
			logrus.WithFields(logrus.Fields{
				"batch":   batchNum,
				"indexed": totalIndexed,
			}).Info("Session indexing progress")
		}

		offset += batchCount
	}

	logrus.WithField("total", totalIndexed).Info("Session indexing completed")
	return sessionIDs, nil
}

func (r *ReindexService) indexMatches(ctx context.Context, sessionIDs []string) error {
	r.updateProgress("indexing_matches", r.progress.ProcessedRecords, r.progress.TotalRecords)
	logrus.Info("Starting to index matches")

	var totalIndexed int64
	for _, sessionID := range sessionIDs {
		var offset int
		for {
			matches, err := r.datasource.GetMatches(ctx, sessionID, r.config.BatchSize, offset)
			if err != nil {
				return err
			}

			if len(matches) == 0 {
				break
			}

			var batchIndexed int64
			for _, match := range matches {
				data, err := toMap(match)
				if err != nil {
					r.addError("match " + match.MatchID + ": " + err.Error())
					continue
				}

				if err := r.client.HandleNotification(ctx, CollectionMatches, data); err != nil {
					r.addError("match " + match.MatchID + ": " + err.Error())
					continue
				}
				batchIndexed++
			}

			totalIndexed += batchIndexed
			r.addProcessed(batchIndexed)
			offset += len(matches)
		}
	}

	logrus.WithField("total", totalIndexed).Info("Match indexing completed")
	return nil
}

func (r *ReindexService) indexExceptions(ctx context.Context, sessionIDs []string) error {
	r.updateProgress("indexing_exceptions", r.progress.ProcessedRecords, r.progress.TotalRecords)
	logrus.Info("Starting to index exceptions")

	var totalIndexed int64
	for _, sessionID := range sessionIDs {
		var offset int
		for {
			exceptions, err := r.datasource.GetExceptions(ctx, sessionID, "", r.config.BatchSize, offset)
			if err != nil {
				return err
			}

			if len(exceptions) == 0 {
				break
			}

			var batchIndexed int64
			for _, exception := range exceptions {
				data, err := toMap(exception)
				if err != nil {
					r.addError("exception " + exception.ExceptionID + ": " + err.Error())
					continue
				}

				if err := r.client.HandleNotification(ctx, CollectionExceptions, data); err != nil {
					r.addError("exception " + exception.ExceptionID + ": " + err.Error())
					continue
				}
				batchIndexed++
			}

			totalIndexed += batchIndexed
			r.addProcessed(batchIndexed)
			offset += len(exceptions)
		}
	}

	logrus.WithField("total", totalIndexed).Info("Exception indexing completed")
	return nil
}

// toMap converts a model struct into the map form the indexer consumes,
// honoring the struct's JSON tags.
func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// DropCollection deletes a collection from Typesense.
func (t *TypesenseClient) DropCollection(ctx context.Context, collectionName string) error {
	_, err := t.Client.Collection(collectionName).Delete(ctx)
	if err != nil && !strings.Contains(err.Error(), "not found") && !strings.Contains(err.Error(), "Not Found") {
		return err
	}
	return nil
}

// DropAllCollections drops all known collections from Typesense.
func (t *TypesenseClient) DropAllCollections(ctx context.Context) error {
	collections := []string{
		CollectionSessions,
		CollectionMatches,
		CollectionExceptions,
	}

	for _, c := range collections {
		logrus.WithField("collection", c).Debug("Dropping collection")
		if err := t.DropCollection(ctx, c); err != nil {
			return err
		}
	}

	return nil
}
