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
	"embed"

	"github.com/redis/go-redis/v9"

	"github.com/crosscheck-finance/crosscheck/config"
	"github.com/crosscheck-finance/crosscheck/database"
	redis_db "github.com/crosscheck-finance/crosscheck/internal/redis-db"
	"github.com/crosscheck-finance/crosscheck/internal/search"
)

// CrossCheck represents the main struct for the CrossCheck application.
type CrossCheck struct {
	queue      *Queue
	search     *search.TypesenseClient
	redis      redis.UniversalClient
	datasource database.IDataSource
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewCrossCheck initializes a new instance of CrossCheck with the provided database datasource.
// It fetches the configuration and initializes the Redis client, queue, and search client.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
//
// Returns:
// - *CrossCheck: A pointer to the newly created CrossCheck instance.
// - error: An error if any of the initialization steps fail.
func NewCrossCheck(db database.IDataSource) (*CrossCheck, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{configuration.Redis.Dns}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	newSearch := search.NewTypesenseClient(configuration.TypeSenseKey, []string{configuration.TypeSense.Dns})
	newCrossCheck := &CrossCheck{datasource: db, queue: newQueue, redis: redisClient.Client(), search: newSearch}
	return newCrossCheck, nil
}

// GetSearchClient returns the Typesense client used for indexing and search.
func (c *CrossCheck) GetSearchClient() *search.TypesenseClient {
	return c.search
}

// GetDataSource returns the underlying datasource.
func (c *CrossCheck) GetDataSource() database.IDataSource {
	return c.datasource
}
