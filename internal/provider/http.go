package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bioetl/targetforge/internal/model"
)

// httpSleepFunc is the sleep function used between retries (injectable for tests)
var httpSleepFunc = time.Sleep

// HTTP fetches annotation records from a provider's REST endpoint.
// Transient failures are retried with bounded backoff; a target with no
// record is simply absent from the result, not an error.
type HTTP struct {
	tag        string
	category   model.Category
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	maxBytes   int64
	maxRetries int
}

// annotationPayload is the wire shape of one provider record
type annotationPayload struct {
	TargetID string                 `json:"target_id"`
	TaxonID  int                    `json:"taxon_id,omitempty"`
	Value    map[string]interface{} `json:"value"`
	Evidence string                 `json:"evidence,omitempty"`
}

// NewHTTP creates an HTTP provider from its configuration
func NewHTTP(tag string, category model.Category, cfg model.ProviderConfig) *HTTP {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 8_000_000
	}
	return &HTTP{
		tag:      tag,
		category: category,
		baseURL:  cfg.BaseURL,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		maxBytes:   maxBytes,
		maxRetries: cfg.MaxRetries,
	}
}

func (p *HTTP) Tag() string              { return p.tag }
func (p *HTTP) Category() model.Category { return p.category }

// Fetch retrieves the provider's current annotation set for the targets.
// One target's exhausted retries do not abort the rest; records for the
// targets that succeeded come back alongside an error naming the failures.
func (p *HTTP) Fetch(ctx context.Context, targetIDs []string, asOf time.Time) ([]model.AnnotationRecord, error) {
	var records []model.AnnotationRecord
	var failed []string
	var lastErr error
	for _, id := range targetIDs {
		if err := p.limiter.Wait(ctx); err != nil {
			// Context cancellation ends the whole fetch
			return records, err
		}

		payloads, err := p.fetchTarget(ctx, id, asOf)
		if err != nil {
			failed = append(failed, id)
			lastErr = err
			continue
		}

		for _, pl := range payloads {
			records = append(records, model.AnnotationRecord{
				TargetID: id,
				Category: p.category,
				Provider: p.tag,
				TaxonID:  pl.TaxonID,
				Value:    pl.Value,
				Evidence: pl.Evidence,
			})
		}
	}
	if len(failed) > 0 {
		return records, fmt.Errorf("provider %s: %d of %d targets failed (%s): %w",
			p.tag, len(failed), len(targetIDs), strings.Join(failed, ", "), lastErr)
	}
	return records, nil
}

// fetchTarget retrieves one target's records, retrying transient failures
func (p *HTTP) fetchTarget(ctx context.Context, targetID string, asOf time.Time) ([]annotationPayload, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", p.baseURL, p.category, url.PathEscape(targetID))
	if !asOf.IsZero() {
		endpoint += "?as_of=" + url.QueryEscape(asOf.UTC().Format("2006-01-02"))
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			httpSleepFunc(time.Duration(attempt) * 500 * time.Millisecond)
		}

		payloads, retryable, err := p.doRequest(ctx, endpoint)
		if err == nil {
			return payloads, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (p *HTTP) doRequest(ctx context.Context, endpoint string) ([]annotationPayload, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// No record for this target: absent, not an error
		return nil, false, nil
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}

	var payloads []annotationPayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	return payloads, false, nil
}
