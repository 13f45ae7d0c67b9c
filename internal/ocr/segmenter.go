package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/corestructure/remote-ocr/internal/config"
	"github.com/corestructure/remote-ocr/pkg/metrics"
)

// BackendNameSegmenter identifies the submit-and-poll segmentation provider.
const BackendNameSegmenter = "segmenter"

const (
	segmenterSubmitRetries   = 3
	segmenterPollInterval    = 2 * time.Second
	segmenterPollMaxAttempts = 300
)

// SegmenterBackend drives the asynchronous segmentation provider: submit a
// single-page PDF, poll the check url until the run completes, return the
// markdown result. The crops handed in by the pipeline are already
// single-page documents, which is all the provider accepts.
type SegmenterBackend struct {
	url    string
	apiKey string
	client *http.Client
	log    *zap.SugaredLogger

	pollInterval    time.Duration
	pollMaxAttempts int
}

func NewSegmenterBackend(cfg *config.BackendsConfig) *SegmenterBackend {
	return &SegmenterBackend{
		url:             cfg.SegmenterURL,
		apiKey:          cfg.SegmenterAPIKey,
		client:          &http.Client{Timeout: 2 * time.Minute},
		log:             zap.S().Named("backend_b"),
		pollInterval:    segmenterPollInterval,
		pollMaxAttempts: segmenterPollMaxAttempts,
	}
}

func (b *SegmenterBackend) Name() string { return BackendNameSegmenter }

type segmenterStatus struct {
	Success         bool   `json:"success"`
	Error           string `json:"error"`
	Status          string `json:"status"`
	RequestCheckURL string `json:"request_check_url"`
	Markdown        string `json:"markdown"`
}

// Recognize submits the crop and blocks until the provider finishes or the
// context is cancelled. The prompt is not transmitted, the provider runs its
// own layout model; JSONMode and Model are likewise ignored.
func (b *SegmenterBackend) Recognize(ctx context.Context, req Request) (string, error) {
	checkURL, err := b.submit(ctx, req)
	if err != nil {
		return "", err
	}
	return b.poll(ctx, checkURL)
}

func (b *SegmenterBackend) submit(ctx context.Context, req Request) (string, error) {
	var checkURL string
	backoff := retry.WithMaxRetries(segmenterSubmitRetries, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		metrics.IncreaseBackendRequestsMetric(BackendNameSegmenter, "submit")

		url, attemptErr := b.submitOnce(ctx, req)
		if attemptErr == nil {
			checkURL = url
			return nil
		}
		if isRetryable(attemptErr) {
			b.log.Warnw("segmenter submit failed, will retry", "error", attemptErr)
			metrics.IncreaseBackendRetriesMetric(BackendNameSegmenter)
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})
	if err != nil {
		return "", err
	}
	return checkURL, nil
}

func (b *SegmenterBackend) submitOnce(ctx context.Context, req Request) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", req.FileName)
	if err != nil {
		return "", errors.Wrap(err, "failed to build segmenter form")
	}
	if _, err := part.Write(req.PDF); err != nil {
		return "", errors.Wrap(err, "failed to write segmenter form file")
	}
	if err := mw.WriteField("output_format", "markdown"); err != nil {
		return "", errors.Wrap(err, "failed to write segmenter form field")
	}
	if err := mw.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finish segmenter form")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, &body)
	if err != nil {
		return "", errors.Wrap(err, "failed to build segmenter request")
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("X-Api-Key", b.apiKey)

	status, err := b.do(httpReq)
	if err != nil {
		return "", err
	}
	if !status.Success && status.Error != "" {
		return "", errors.Errorf("segmenter rejected submission: %s", status.Error)
	}
	if status.RequestCheckURL == "" {
		return "", errors.New("segmenter response has no check url")
	}
	return status.RequestCheckURL, nil
}

func (b *SegmenterBackend) poll(ctx context.Context, checkURL string) (string, error) {
	for attempt := 0; attempt < b.pollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.pollInterval):
		}

		metrics.IncreaseBackendRequestsMetric(BackendNameSegmenter, "poll")

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
		if err != nil {
			return "", errors.Wrap(err, "failed to build segmenter poll request")
		}
		httpReq.Header.Set("X-Api-Key", b.apiKey)

		status, err := b.do(httpReq)
		if err != nil {
			if isRetryable(err) {
				b.log.Warnw("segmenter poll failed, will retry", "error", err)
				continue
			}
			return "", err
		}
		if status.Status != "complete" {
			continue
		}
		if !status.Success {
			return "", errors.Errorf("segmenter run failed: %s", status.Error)
		}
		return status.Markdown, nil
	}
	return "", errors.Errorf("segmenter run did not complete after %d polls", b.pollMaxAttempts)
}

func (b *SegmenterBackend) do(httpReq *http.Request) (*segmenterStatus, error) {
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: errors.Wrap(err, "failed to read segmenter response")}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: truncateBody(data)}
	}

	var status segmenterStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, errors.Wrap(err, "failed to parse segmenter response")
	}
	return &status, nil
}
