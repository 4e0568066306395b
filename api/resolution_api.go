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
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/crosscheck-finance/crosscheck/api/model"
)

// GetSessionMatches lists the matches produced for a session, strongest
// confidence first.
func (a Api) GetSessionMatches(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	limit, offset := pagination(c, defaultListLimit)
	matches, err := a.crosscheck.GetSessionMatches(c.Request.Context(), id, limit, offset)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, matches)
}

// GetMatch retrieves a single match by ID.
func (a Api) GetMatch(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	match, err := a.crosscheck.GetMatch(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, match)
}

// ConfirmMatch marks an automatic match as reviewed. The body is optional;
// when present it may carry reviewer notes.
//
// Parameters:
// - c: The Gin context containing the request and response.
//
// Responses:
// - 404 Not Found: If the match does not exist.
// - 200 OK: If the match was confirmed.
func (a Api) ConfirmMatch(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.ConfirmMatch
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	match, err := a.crosscheck.ConfirmMatch(c.Request.Context(), id, req.Notes)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, match)
}

// GetSessionExceptions lists a session's exceptions with an optional status
// filter.
func (a Api) GetSessionExceptions(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	limit, offset := pagination(c, defaultListLimit)
	exceptions, err := a.crosscheck.GetSessionExceptions(c.Request.Context(), id, c.Query("status"), limit, offset)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exceptions)
}

// GetException retrieves a single exception by ID.
func (a Api) GetException(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	exception, err := a.crosscheck.GetException(c.Request.Context(), id)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exception)
}

// ResolveException applies a resolution to an open exception. A manual_match
// resolution pairs the exception's record with the supplied counterpart and
// records a confirmed manual match; ignore and resolved update the exception
// alone.
//
// Parameters:
// - c: The Gin context containing the request and response.
//
// Responses:
// - 400 Bad Request: If the resolution is unknown or the counterpart is missing or invalid.
// - 409 Conflict: If the exception was already resolved.
// - 200 OK: If the exception was resolved.
func (a Api) ResolveException(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.ResolveException
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := req.ValidateResolveException(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	exception, err := a.crosscheck.ResolveException(c.Request.Context(), id, req.Resolution, req.Notes, req.CounterpartID())
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exception)
}

// GetMatchSuggestions ranks candidate counterparts for an unmatched record's
// exception. The limit query caps the number of suggestions.
func (a Api) GetMatchSuggestions(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	suggestions, err := a.crosscheck.SuggestMatches(c.Request.Context(), id, limit)
	if err != nil {
		serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, suggestions)
}
