package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const instrumentation = "example.com/twotruths/internal/narrative"

var (
	tracer   = otel.Tracer(instrumentation)
	duration metric.Float64Histogram
)

func init() {
	h, err := otel.Meter(instrumentation).Float64Histogram(
		"narrative.request.duration",
		metric.WithDescription("Chat model request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err == nil {
		duration = h
	}
}

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, backend, url string, header http.Header, body, out any) error {
	ctx, span := tracer.Start(ctx, backend+"_api_call")
	defer span.End()

	start := time.Now()
	defer func() {
		if duration != nil {
			duration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("backend", backend)))
		}
	}()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("content-type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send request")
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		return fmt.Errorf("api error: %s - %s", resp.Status, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
