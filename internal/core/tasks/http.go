package tasks

import (
	"context"
	"fmt"
	"net/http"

	"github.com/paceline/paceline/internal/core"
)

// Builder binds request specs to producers sharing one HTTP client.
type Builder struct {
	Client    *http.Client
	UserAgent string
}

// Build validates every spec and returns the queue in input order.
func (b *Builder) Build(specs []Spec) ([]core.Task, error) {
	queue := make([]core.Task, 0, len(specs))
	for i, spec := range specs {
		normalized, err := spec.Validate()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i+1, err)
		}
		queue = append(queue, core.Task{
			Name: normalized.Name,
			Run:  b.producer(normalized),
		})
	}
	return queue, nil
}

func (b *Builder) producer(spec Spec) core.Producer {
	return func(ctx context.Context) (*core.TaskResult, error) {
		if ctx == nil {
			ctx = context.Background()
		}

		timeout, err := spec.timeout()
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, nil)
		if err != nil {
			return nil, err
		}
		if b != nil && b.UserAgent != "" {
			req.Header.Set("User-Agent", b.UserAgent)
		}

		client := b.client()
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

		result := &core.TaskResult{
			Message:    resp.Status,
			StatusCode: resp.StatusCode,
		}

		if spec.ExpectStatus > 0 {
			if resp.StatusCode != spec.ExpectStatus {
				return result, fmt.Errorf("unexpected status %d, want %d", resp.StatusCode, spec.ExpectStatus)
			}
			return result, nil
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return result, fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		return result, nil
	}
}

func (b *Builder) client() *http.Client {
	if b != nil && b.Client != nil {
		return b.Client
	}
	return &http.Client{Timeout: defaultTimeout}
}
