// Package tasks turns jobs documents into queued work the drainer can run.
package tasks

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultTimeout = 10 * time.Second

// Spec describes one queued request before a producer is bound to it.
type Spec struct {
	Name         string `yaml:"name,omitempty" json:"name,omitempty"`
	Method       string `yaml:"method,omitempty" json:"method,omitempty"`
	URL          string `yaml:"url" json:"url"`
	ExpectStatus int    `yaml:"expect_status,omitempty" json:"expect_status,omitempty"`
	Timeout      string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Document is the top-level shape of a jobs file.
type Document struct {
	Tasks []Spec `yaml:"tasks" json:"tasks"`
}

// Validate checks one spec and returns its normalized form.
func (s Spec) Validate() (Spec, error) {
	s.URL = strings.TrimSpace(s.URL)
	if s.URL == "" {
		return s, fmt.Errorf("url is required")
	}

	parsed, err := url.Parse(s.URL)
	if err != nil {
		return s, fmt.Errorf("invalid url %q: %w", s.URL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return s, fmt.Errorf("url %q must use http or https", s.URL)
	}
	if parsed.Host == "" {
		return s, fmt.Errorf("url %q has no host", s.URL)
	}

	s.Method = strings.ToUpper(strings.TrimSpace(s.Method))
	if s.Method == "" {
		s.Method = "GET"
	}

	if s.ExpectStatus < 0 || s.ExpectStatus > 599 {
		return s, fmt.Errorf("expect_status %d is out of range", s.ExpectStatus)
	}

	if _, err := s.timeout(); err != nil {
		return s, err
	}

	if strings.TrimSpace(s.Name) == "" {
		s.Name = deriveName(parsed)
	}

	return s, nil
}

func (s Spec) timeout() (time.Duration, error) {
	raw := strings.TrimSpace(s.Timeout)
	if raw == "" {
		return defaultTimeout, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", raw, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("timeout %q must be positive", raw)
	}
	return parsed, nil
}

func deriveName(parsed *url.URL) string {
	name := parsed.Hostname()
	if path := strings.TrimSuffix(parsed.Path, "/"); path != "" {
		name += path
	}
	return name
}

// NormalizeSpecs validates every spec in order and returns normalized copies.
func NormalizeSpecs(specs []Spec) ([]Spec, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no tasks found")
	}

	normalized := make([]Spec, 0, len(specs))
	for i, spec := range specs {
		clean, err := spec.Validate()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i+1, err)
		}
		normalized = append(normalized, clean)
	}
	return normalized, nil
}

// ParseDocument reads a YAML (or JSON) jobs document into validated specs.
func ParseDocument(data []byte) ([]Spec, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid jobs document: %w", err)
	}
	return NormalizeSpecs(doc.Tasks)
}

// ReadList reads a plain text task list: one URL per line, optionally
// prefixed by a method. Blank lines and lines starting with # are skipped.
func ReadList(r io.Reader) ([]Spec, error) {
	specs := make([]Spec, 0)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}

		spec := Spec{URL: raw}
		if fields := strings.Fields(raw); len(fields) == 2 {
			spec.Method = fields[0]
			spec.URL = fields[1]
		} else if len(fields) > 2 {
			return nil, fmt.Errorf("invalid task on line %d: expected [METHOD] URL", line)
		}

		normalized, err := spec.Validate()
		if err != nil {
			return nil, fmt.Errorf("invalid task on line %d: %w", line, err)
		}
		specs = append(specs, normalized)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no tasks found")
	}
	return specs, nil
}
