package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// DefaultConcurrency bounds how many items run at once.
const DefaultConcurrency = 4

// Result represents the result of a single operation in a batch
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchResult represents the aggregated results of a batch operation
type BatchResult struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// ParseObjectArray parses a parameter that must be a non-empty array of
// JSON objects. Some clients send the array JSON-encoded as a string; that
// form is accepted too.
func ParseObjectArray(param any, paramName string) ([]map[string]any, error) {
	if param == nil {
		return nil, fmt.Errorf("%s is required", paramName)
	}

	if s, ok := param.(string); ok {
		var decoded []any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &decoded); err != nil {
			return nil, fmt.Errorf("%s must be an array of objects", paramName)
		}
		param = decoded
	}

	items, ok := param.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an array of objects", paramName)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s cannot be empty", paramName)
	}

	result := make([]map[string]any, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an object", paramName, i)
		}
		result = append(result, obj)
	}
	return result, nil
}

// Summarize aggregates results.
func Summarize(results []Result) BatchResult {
	br := BatchResult{
		Total:   len(results),
		Results: results,
	}
	for _, r := range results {
		if r.Status == StatusSuccess {
			br.Successful++
		} else {
			br.Failed++
		}
	}
	return br
}

// FormatResults creates a formatted JSON string from batch results
func FormatResults(results []Result) (string, error) {
	raw, err := json.MarshalIndent(Summarize(results), "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Process runs fn for every item with at most limit calls in flight and
// returns one Result per item in input order. A failing item does not stop
// the others; a cancelled ctx marks the items that never started as failed.
func Process[T any](ctx context.Context, items []T, limit int, id func(int, T) string, fn func(context.Context, T) (any, error)) []Result {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]Result, len(items))
	g := new(errgroup.Group)
	g.SetLimit(limit)

	for i, item := range items {
		results[i].ID = id(i, item)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = NewErrorResult(results[i].ID, err)
				return nil
			}
			res, err := fn(ctx, item)
			if err != nil {
				results[i] = NewErrorResult(results[i].ID, err)
				return nil
			}
			results[i] = NewSuccessResult(results[i].ID, res)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// NewSuccessResult creates a success result
func NewSuccessResult(id string, result any) Result {
	return Result{
		ID:     id,
		Status: StatusSuccess,
		Result: result,
	}
}

// NewErrorResult creates an error result
func NewErrorResult(id string, err error) Result {
	return Result{
		ID:     id,
		Status: StatusError,
		Error:  err.Error(),
	}
}
