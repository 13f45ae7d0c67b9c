package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/corestructure/remote-ocr/internal/config"
	"github.com/corestructure/remote-ocr/pkg/metrics"
)

// BackendNameVision identifies the chat-completion vision provider.
const BackendNameVision = "vision"

const visionMaxRetries = 3

// VisionBackend submits crops to a chat-completion vision endpoint. The crop
// travels inside the message body as a base64 data url.
type VisionBackend struct {
	url    string
	apiKey string
	client *http.Client
	log    *zap.SugaredLogger
}

func NewVisionBackend(cfg *config.BackendsConfig) *VisionBackend {
	return &VisionBackend{
		url:    cfg.VisionURL,
		apiKey: cfg.VisionAPIKey,
		client: &http.Client{Timeout: 5 * time.Minute},
		log:    zap.S().Named("backend_a"),
	}
}

func (b *VisionBackend) Name() string { return BackendNameVision }

type visionFilePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type visionContentPart struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	File *visionFilePart `json:"file,omitempty"`
}

type visionMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type visionPayload struct {
	Model          string          `json:"model"`
	Messages       []visionMessage `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type visionReply struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Recognize sends the crop and prompt to the provider. Transient failures
// (429, 5xx, transport errors) are retried with exponential backoff; other
// 4xx responses fail immediately.
func (b *VisionBackend) Recognize(ctx context.Context, req Request) (string, error) {
	payload := visionPayload{
		Model: req.Model,
		Messages: buildVisionMessages(req.Prompt, visionFilePart{
			Filename: req.FileName,
			FileData: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(req.PDF),
		}),
	}
	if req.JSONMode {
		payload.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize vision request")
	}

	var text string
	backoff := retry.WithMaxRetries(visionMaxRetries, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		metrics.IncreaseBackendRequestsMetric(BackendNameVision, "completion")

		out, attemptErr := b.call(ctx, body)
		if attemptErr == nil {
			text = out
			return nil
		}
		if isRetryable(attemptErr) {
			b.log.Warnw("vision request failed, will retry", "error", attemptErr)
			metrics.IncreaseBackendRetriesMetric(BackendNameVision)
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (b *VisionBackend) call(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build vision request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transportError{err: errors.Wrap(err, "failed to read vision response")}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{status: resp.StatusCode, body: truncateBody(data)}
	}

	var reply visionReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", errors.Wrap(err, "failed to parse vision response")
	}
	if reply.Error != nil {
		return "", errors.Errorf("vision provider error: %s", reply.Error.Message)
	}
	if len(reply.Choices) == 0 {
		return "", errors.New("vision response has no choices")
	}
	return reply.Choices[0].Message.Content, nil
}

func buildVisionMessages(prompt Prompt, file visionFilePart) []visionMessage {
	var messages []visionMessage
	if prompt.System != "" {
		messages = append(messages, visionMessage{Role: "system", Content: prompt.System})
	}
	messages = append(messages, visionMessage{
		Role: "user",
		Content: []visionContentPart{
			{Type: "text", Text: prompt.User},
			{Type: "file", File: &file},
		},
	})
	return messages
}

// statusError is a non-2xx backend reply.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.status, e.body)
}

// transportError is a failure before any HTTP status was received.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// isRetryable reports whether the attempt may succeed if repeated. Transport
// errors, 429 and 5xx qualify; the remaining 4xx family is terminal.
func isRetryable(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return false
}

func truncateBody(data []byte) string {
	const limit = 512
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
