// Package pipelineconfig is the production pipeline.PipelineResolver /
// pipeline.EventAccessVerifier pair cmd/core wires the pipeline engine
// against: a static, event-name-keyed table of pipelines loaded once at
// startup, each pipeline's extractors and destination being plain outgoing
// HTTP calls (§4.5.3 "one HTTP extractor"). Unlike internal/dispatcher,
// which renders a CMD against a specific connection's auth, these calls
// carry no connection/auth context of their own — they are the
// passthrough webhook-style deliveries a pipeline existed for.
package pipelineconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/integration-core/core/internal/domain/accesskey"
	"github.com/integration-core/core/internal/domain/event"
	"github.com/integration-core/core/internal/pipeline"
)

// ExtractorSpec configures one HTTP extractor (§4.5.3).
type ExtractorSpec struct {
	Key     string
	Method  string
	URL     string
	Headers map[string]string
	Retry   pipeline.RetryPolicy
}

// DestinationSpec configures a pipeline's final HTTP delivery.
type DestinationSpec struct {
	Method  string
	URL     string
	Headers map[string]string
}

// PipelineSpec is one pipeline matched against an event by name.
type PipelineSpec struct {
	Key             string
	Extractors      []ExtractorSpec
	TransformSource string
	Destination     DestinationSpec
	Retry           pipeline.RetryPolicy
}

// StaticResolver resolves pipelines by event name from a fixed table
// assembled at startup (§4.5.1 "resolve pipelines matching"). It also
// implements EventAccessVerifier: an event is considered live so long as
// its stored access-key string still decodes under secret (§4.5.1
// "New -> Verified").
type StaticResolver struct {
	Secret    []byte
	ByName    map[string][]PipelineSpec
	Client    *http.Client
}

// NewStaticResolver builds a resolver over byName, using a shared HTTP
// client with timeout for every extractor/destination call.
func NewStaticResolver(secret []byte, byName map[string][]PipelineSpec, timeout time.Duration) *StaticResolver {
	return &StaticResolver{
		Secret: secret,
		ByName: byName,
		Client: &http.Client{Timeout: timeout},
	}
}

// Verify implements pipeline.EventAccessVerifier.
func (r *StaticResolver) Verify(_ context.Context, ev event.Event) (bool, error) {
	if len(r.Secret) == 0 {
		return true, nil
	}
	_, err := accesskey.Parse(ev.AccessKey, r.Secret)
	return err == nil, nil
}

// Resolve implements pipeline.PipelineResolver.
func (r *StaticResolver) Resolve(_ context.Context, ev event.Event) ([]pipeline.PipelineDefinition, error) {
	specs := r.ByName[ev.Name]
	if len(specs) == 0 {
		return nil, nil
	}

	defs := make([]pipeline.PipelineDefinition, 0, len(specs))
	for _, spec := range specs {
		extractors := make([]pipeline.ExtractorDefinition, 0, len(spec.Extractors))
		for _, es := range spec.Extractors {
			extractors = append(extractors, pipeline.ExtractorDefinition{
				Key:    es.Key,
				Runner: &httpExtractorRunner{client: r.Client, spec: es},
				Retry:  es.Retry,
			})
		}
		defs = append(defs, pipeline.PipelineDefinition{
			Key:             spec.Key,
			Extractors:      extractors,
			TransformSource: spec.TransformSource,
			Destination:     &httpDestinationCaller{client: r.Client, spec: spec.Destination},
			Retry:           spec.Retry,
		})
	}
	return defs, nil
}

type httpExtractorRunner struct {
	client *http.Client
	spec   ExtractorSpec
}

func (r *httpExtractorRunner) Run(ctx context.Context, _ string, contextMap map[string]interface{}) (json.RawMessage, error) {
	var body io.Reader
	if len(contextMap) > 0 {
		encoded, err := json.Marshal(contextMap)
		if err != nil {
			return nil, fmt.Errorf("pipelineconfig: encode extractor context: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, r.spec.Method, r.spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("pipelineconfig: build extractor request: %w", err)
	}
	for k, v := range r.spec.Headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipelineconfig: extractor %s: %w", r.spec.Key, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pipelineconfig: read extractor response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("pipelineconfig: extractor %s returned status %d", r.spec.Key, resp.StatusCode)
	}
	return out, nil
}

type httpDestinationCaller struct {
	client *http.Client
	spec   DestinationSpec
}

func (c *httpDestinationCaller) Call(ctx context.Context, _ event.Event, transformed json.RawMessage) (json.RawMessage, error) {
	var body io.Reader
	if len(transformed) > 0 {
		body = bytes.NewReader(transformed)
	}

	req, err := http.NewRequestWithContext(ctx, c.spec.Method, c.spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("pipelineconfig: build destination request: %w", err)
	}
	for k, v := range c.spec.Headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipelineconfig: destination delivery: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pipelineconfig: read destination response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("pipelineconfig: destination returned status %d", resp.StatusCode)
	}
	return out, nil
}
