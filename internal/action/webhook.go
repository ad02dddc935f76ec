package action

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/bizflow/internal/metrics"
	"github.com/roach88/bizflow/internal/model"
)

func (x *Executor) callWebhook(ctx context.Context, log *slog.Logger, rule *model.AutomationRule, params map[string]any, instance *model.Record) error {
	url := x.param(ctx, params, "url", instance)
	if url == "" {
		log.Warn("webhook url not provided; skipped")
		return nil
	}

	var payload any
	if raw, ok := params["payload"]; ok {
		payload = x.resolver.ResolveValue(ctx, raw, instance)
	} else {
		payload = map[string]any{"event": rule.Name, "instance_id": instance.PK}
	}
	body, err := model.MarshalCanonical(payload)
	if err != nil {
		return fmt.Errorf("webhook payload: %w", err)
	}

	headers := map[string]string{}
	if raw, ok := params["headers"].(map[string]any); ok {
		for k, v := range raw {
			headers[k] = x.resolver.ResolveString(ctx, v, instance)
		}
	}
	if !hasHeader(headers, "Content-Type") {
		headers["Content-Type"] = "application/json"
	}

	reqCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: %w", url, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := x.client.Do(req)
	metrics.WebhookDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("webhook %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s: unexpected status %d", url, resp.StatusCode)
	}
	log.Info("webhook called", "url", url, "status", resp.StatusCode)
	return nil
}

func hasHeader(h map[string]string, name string) bool {
	for k := range h {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(name) {
			return true
		}
	}
	return false
}
