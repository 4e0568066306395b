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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"
)

const (
	CollectionSessions   = "reconciliation_sessions"
	CollectionMatches    = "transaction_matches"
	CollectionExceptions = "reconciliation_exceptions"
)

// CollectionConfig holds configuration for a specific collection.
type CollectionConfig struct {
	Schema           *api.CollectionSchema
	IDField          string
	TimeFields       []string
	DefaultSortField string
}

var collectionConfigs map[string]CollectionConfig

func init() {
	collectionConfigs = map[string]CollectionConfig{
		CollectionSessions: {
			Schema:     getSessionSchema(),
			IDField:    "session_id",
			TimeFields: []string{"created_at", "processed_at"},
		},
		CollectionMatches: {
			Schema:     getMatchSchema(),
			IDField:    "match_id",
			TimeFields: []string{"created_at"},
		},
		CollectionExceptions: {
			Schema:     getExceptionSchema(),
			IDField:    "exception_id",
			TimeFields: []string{"created_at", "resolved_at"},
		},
	}
}

// TypesenseClient wraps the Typesense client and provides methods to interact with it.
type TypesenseClient struct {
	Client *typesense.Client
}

// NotificationPayload represents an index update: the collection it targets
// and the document data to upsert.
type NotificationPayload struct {
	Table string                 `json:"table"`
	Data  map[string]interface{} `json:"data"`
}

// NewTypesenseClient initializes and returns a new Typesense client instance.
func NewTypesenseClient(apiKey string, hosts []string) *TypesenseClient {
	client := typesense.NewClient(
		typesense.WithServer(hosts[0]),
		typesense.WithAPIKey(apiKey),
		typesense.WithConnectionTimeout(5*time.Second),
		typesense.WithCircuitBreakerMaxRequests(50),
		typesense.WithCircuitBreakerInterval(2*time.Minute),
		typesense.WithCircuitBreakerTimeout(1*time.Minute),
	)
	return &TypesenseClient{Client: client}
}

// EnsureCollectionsExist ensures that all the necessary collections exist in
// the Typesense schema. Missing collections are created from the latest
// schema; existing ones are left alone.
func (t *TypesenseClient) EnsureCollectionsExist(ctx context.Context) error {
	for name, config := range collectionConfigs {
		if _, err := t.CreateCollection(ctx, config.Schema); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}
	return nil
}

// CreateCollection creates a collection in Typesense based on the provided schema.
// If the collection already exists, it will return without error.
func (t *TypesenseClient) CreateCollection(ctx context.Context, schema *api.CollectionSchema) (*api.CollectionResponse, error) {
	resp, err := t.Client.Collections().Create(ctx, schema)
	if err != nil {
		if isAlreadyExists(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp, nil
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

// Search performs a search query on a specific collection with the provided search parameters.
func (t *TypesenseClient) Search(ctx context.Context, collection string, searchParams *api.SearchCollectionParams) (*api.SearchResult, error) {
	return t.Client.Collection(collection).Documents().Search(ctx, searchParams)
}

// MultiSearch runs several searches in one round trip.
func (t *TypesenseClient) MultiSearch(ctx context.Context, searchRequests api.MultiSearchSearchesParameter) (*api.MultiSearchResult, error) {
	return t.Client.MultiSearch.Perform(ctx, &api.MultiSearchParams{}, searchRequests)
}

// HandleNotification upserts one document into the collection named by table.
// The data map is normalized first: schema fields are backfilled with
// defaults, time fields converted to Unix timestamps and decimal amounts to
// floats, since documents arrive as JSON-marshalled models with RFC 3339 time
// strings and string-encoded decimals.
func (t *TypesenseClient) HandleNotification(ctx context.Context, table string, data map[string]interface{}) error {
	config, ok := collectionConfigs[table]
	if !ok {
		return fmt.Errorf("unknown collection: %s", table)
	}

	t.ensureSchemaFields(config, data)
	t.normalizeTimeFields(config, data)
	t.normalizeNumericFields(config, data)

	return t.upsertDocument(ctx, table, data)
}

// ensureSchemaFields ensures all required schema fields are present with default values
func (t *TypesenseClient) ensureSchemaFields(config CollectionConfig, data map[string]interface{}) {
	latestSchema := config.Schema

	optionalFieldMap := make(map[string]bool)
	for _, field := range latestSchema.Fields {
		if field.Optional != nil && *field.Optional {
			optionalFieldMap[field.Name] = true
		}
	}

	for _, field := range latestSchema.Fields {
		if _, ok := data[field.Name]; !ok {
			isOptional := field.Optional != nil && *field.Optional
			if !isOptional {
				data[field.Name] = getDefaultValue(field.Type)
			}
		}
	}

	for key, value := range data {
		if optionalFieldMap[key] {
			if strVal, ok := value.(string); ok && strVal == "" {
				delete(data, key)
			}
		}
	}
}

// normalizeTimeFields converts time fields to Unix timestamps. Nil values
// (optional timestamps such as processed_at) are dropped so Typesense never
// sees them.
func (t *TypesenseClient) normalizeTimeFields(config CollectionConfig, data map[string]interface{}) {
	for _, field := range config.TimeFields {
		fieldValue, ok := data[field]
		if !ok {
			continue
		}
		switch v := fieldValue.(type) {
		case nil:
			delete(data, field)
		case time.Time:
			data[field] = v.Unix()
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
				data[field] = parsed.Unix()
			} else {
				delete(data, field)
			}
		case float64:
			data[field] = int64(v)
		case int64:
			// Already a Unix timestamp.
		default:
			delete(data, field)
		}
	}
}

// normalizeNumericFields coerces string-encoded numbers into floats for
// fields the schema types as float. Decimal amounts marshal as JSON strings,
// which Typesense would otherwise reject.
func (t *TypesenseClient) normalizeNumericFields(config CollectionConfig, data map[string]interface{}) {
	for _, field := range config.Schema.Fields {
		if field.Type != "float" {
			continue
		}
		strVal, ok := data[field.Name].(string)
		if !ok {
			continue
		}
		if parsed, err := strconv.ParseFloat(strVal, 64); err == nil {
			data[field.Name] = parsed
		} else {
			delete(data, field.Name)
		}
	}
}

// getIDField returns the primary ID field name for a given table
func (t *TypesenseClient) getIDField(table string) string {
	if config, ok := collectionConfigs[table]; ok {
		return config.IDField
	}
	return ""
}

// upsertDocument handles the final upsert operation to Typesense
func (t *TypesenseClient) upsertDocument(ctx context.Context, table string, data map[string]interface{}) error {
	idField := t.getIDField(table)

	if idField != "" {
		if id, ok := data[idField].(string); ok && id != "" {
			data["id"] = id
			_, err := t.Client.Collection(table).Documents().Upsert(ctx, data)
			if err != nil {
				return fmt.Errorf("failed to upsert document in Typesense: %w", err)
			}
			return nil
		}
	}

	_, err := t.Client.Collection(table).Documents().Upsert(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to index document in Typesense: %w", err)
	}

	return nil
}

// MigrateTypeSenseSchema adds new fields from the latest schema to the existing collection schema in Typesense.
// This is useful when the schema has been updated, and new fields need to be added.
func (t *TypesenseClient) MigrateTypeSenseSchema(ctx context.Context, collectionName string) error {
	collection := t.Client.Collection(collectionName)

	currentSchemaResponse, err := collection.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve current schema: %w", err)
	}

	currentSchema := &api.CollectionSchema{
		Name:   currentSchemaResponse.Name,
		Fields: currentSchemaResponse.Fields,
	}

	config, ok := collectionConfigs[collectionName]
	if !ok {
		return fmt.Errorf("unknown collection: %s", collectionName)
	}
	latestSchema := config.Schema

	// Compare the current schema with the latest schema and get any new fields.
	newFields := compareSchemas(currentSchema, latestSchema)

	// Add each new field to the collection.
	for _, field := range newFields {
		updateSchema := &api.CollectionUpdateSchema{
			Fields: []api.Field{field},
		}

		_, err := collection.Update(ctx, updateSchema)
		if err != nil {
			return fmt.Errorf("failed to add field %s: %w", field.Name, err)
		}
		logrus.Infof("Added new field %s to collection %s", field.Name, collectionName)
	}

	return nil
}

// compareSchemas compares the old schema with the new schema and returns any new fields that are present in the new schema but not in the old one.
func compareSchemas(oldSchema, newSchema *api.CollectionSchema) []api.Field {
	var newFields []api.Field
	oldFieldMap := make(map[string]bool)

	for _, field := range oldSchema.Fields {
		oldFieldMap[field.Name] = true
	}

	for _, field := range newSchema.Fields {
		if !oldFieldMap[field.Name] {
			newFields = append(newFields, field)
		}
	}

	return newFields
}

// getDefaultValue returns the default value for a given field type in Typesense.
func getDefaultValue(fieldType string) interface{} {
	switch fieldType {
	case "string":
		return ""
	case "int32", "int64":
		return int64(0)
	case "float":
		return float64(0)
	case "bool":
		return false
	case "string[]":
		return []string{}
	default:
		return nil
	}
}

// getSessionSchema returns the schema for the "reconciliation_sessions" collection.
func getSessionSchema() *api.CollectionSchema {
	facet := true
	optional := true
	sortBy := "created_at"
	return &api.CollectionSchema{
		Name: CollectionSessions,
		Fields: []api.Field{
			{Name: "session_id", Type: "string", Facet: &facet},
			{Name: "name", Type: "string", Facet: &facet},
			{Name: "description", Type: "string", Facet: &facet},
			{Name: "owner", Type: "string", Facet: &facet},
			{Name: "status", Type: "string", Facet: &facet},
			{Name: "date_tolerance_days", Type: "int32", Facet: &facet},
			{Name: "amount_tolerance", Type: "float", Facet: &facet},
			{Name: "total_ledger_records", Type: "int32", Facet: &facet},
			{Name: "total_bank_records", Type: "int32", Facet: &facet},
			{Name: "matched_records", Type: "int32", Facet: &facet},
			{Name: "unmatched_ledger_records", Type: "int32", Facet: &facet},
			{Name: "unmatched_bank_records", Type: "int32", Facet: &facet},
			{Name: "error_message", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "created_at", Type: "int64", Facet: &facet},
			{Name: "processed_at", Type: "int64", Facet: &facet, Optional: &optional},
		},
		DefaultSortingField: &sortBy,
	}
}

// getMatchSchema returns the schema for the "transaction_matches" collection.
func getMatchSchema() *api.CollectionSchema {
	facet := true
	sortBy := "created_at"
	return &api.CollectionSchema{
		Name: CollectionMatches,
		Fields: []api.Field{
			{Name: "match_id", Type: "string", Facet: &facet},
			{Name: "session_id", Type: "string", Facet: &facet},
			{Name: "ledger_record_id", Type: "string", Facet: &facet},
			{Name: "bank_record_id", Type: "string", Facet: &facet},
			{Name: "match_type", Type: "string", Facet: &facet},
			{Name: "confidence_score", Type: "float", Facet: &facet},
			{Name: "date_difference_days", Type: "int32", Facet: &facet},
			{Name: "amount_difference", Type: "float", Facet: &facet},
			{Name: "is_confirmed", Type: "bool", Facet: &facet},
			{Name: "notes", Type: "string", Facet: &facet},
			{Name: "created_at", Type: "int64", Facet: &facet},
		},
		DefaultSortingField: &sortBy,
	}
}

// getExceptionSchema returns the schema for the "reconciliation_exceptions" collection.
func getExceptionSchema() *api.CollectionSchema {
	facet := true
	optional := true
	sortBy := "created_at"
	return &api.CollectionSchema{
		Name: CollectionExceptions,
		Fields: []api.Field{
			{Name: "exception_id", Type: "string", Facet: &facet},
			{Name: "session_id", Type: "string", Facet: &facet},
			{Name: "exception_type", Type: "string", Facet: &facet},
			{Name: "severity", Type: "string", Facet: &facet},
			{Name: "ledger_record_id", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "bank_record_id", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "description", Type: "string", Facet: &facet},
			{Name: "status", Type: "string", Facet: &facet},
			{Name: "resolution", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "resolution_notes", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "created_at", Type: "int64", Facet: &facet},
			{Name: "resolved_at", Type: "int64", Facet: &facet, Optional: &optional},
		},
		DefaultSortingField: &sortBy,
	}
}
