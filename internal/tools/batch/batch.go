package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Item statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the outcome of one item of a batch.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchResult aggregates item results.
type BatchResult struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// ParseStringOrArray accepts a single string, a comma separated string or an
// array of strings. Blank entries are rejected and duplicates dropped.
func ParseStringOrArray(param interface{}, paramName string) ([]string, error) {
	var raw []string
	switch v := param.(type) {
	case nil:
		return nil, fmt.Errorf("%s is required", paramName)
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		raw = strings.Split(v, ",")
	case []interface{}:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", paramName, i)
			}
			raw = append(raw, s)
		}
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		raw = v
	default:
		return nil, fmt.Errorf("%s must be a string or array of strings", paramName)
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for i, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("%s[%d] cannot be empty", paramName, i)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// Summarize counts successes and failures.
func Summarize(results []Result) BatchResult {
	br := BatchResult{Total: len(results), Results: results}
	for _, r := range results {
		if r.Status == StatusSuccess {
			br.Successful++
		} else {
			br.Failed++
		}
	}
	return br
}

// FormatResults renders results as indented JSON.
func FormatResults(results []Result) string {
	data, _ := json.MarshalIndent(Summarize(results), "", "  ")
	return string(data)
}

// ProcessBatch runs fn for each id in order. Items left when ctx is done are
// reported as failed without calling fn.
func ProcessBatch(ctx context.Context, ids []string, fn func(ctx context.Context, id string) (string, error)) []Result {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			results = append(results, NewErrorResult(id, err))
			continue
		}
		res, err := fn(ctx, id)
		if err != nil {
			results = append(results, NewErrorResult(id, err))
			continue
		}
		results = append(results, NewSuccessResult(id, res))
	}
	return results
}

// NewSuccessResult creates a success result.
func NewSuccessResult(id, message string) Result {
	return Result{ID: id, Status: StatusSuccess, Result: message}
}

// NewErrorResult creates an error result.
func NewErrorResult(id string, err error) Result {
	return Result{ID: id, Status: StatusError, Error: err.Error()}
}
