package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/adiouf/wabridge/internal/config"
)

const initialBackoff = 500 * time.Millisecond

// Client exposes the WhatsApp Cloud API operations used by the application.
type Client interface {
	Send(ctx context.Context, method, endpoint string, payload any) (*SendMessageResponse, error)
	SendText(ctx context.Context, to, body string, previewURL bool) (*SendMessageResponse, error)
	SendImage(ctx context.Context, to string, media MediaSource) (*SendMessageResponse, error)
	SendDocument(ctx context.Context, to string, media MediaSource) (*SendMessageResponse, error)
	SendAudio(ctx context.Context, to string, media MediaSource) (*SendMessageResponse, error)
	SendLocation(ctx context.Context, to string, lat, lng float64, name, address string) (*SendMessageResponse, error)
	SendInteractiveButtons(ctx context.Context, to, body string, buttons []ReplyButton) (*SendMessageResponse, error)
	SendReaction(ctx context.Context, to, messageID, emoji string) (*SendMessageResponse, error)
	MarkMessageRead(ctx context.Context, messageID string) error
	GetMediaURL(ctx context.Context, mediaID string) (string, error)
}

// APIClient is a resty-backed implementation of Client.
type APIClient struct {
	httpClient    *resty.Client
	phoneNumberID string
	maxRetries    int
	logger        *zap.Logger
}

var _ Client = (*APIClient)(nil)

// NewClient builds a WhatsApp API client using the provided configuration values.
func NewClient(cfg config.WhatsAppConfig, logger *zap.Logger) *APIClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := strings.TrimSuffix(cfg.BaseURL, "/")
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	restyClient := resty.New()
	restyClient.
		SetBaseURL(fmt.Sprintf("%s/%s", base, cfg.APIVersion)).
		SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.AccessToken)).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &APIClient{
		httpClient:    restyClient,
		phoneNumberID: cfg.PhoneNumberID,
		maxRetries:    cfg.MaxRetries,
		logger:        logger,
	}
}

// SendMessageResponse mirrors the successful response from Meta.
type SendMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Contacts []struct {
		WaID string `json:"wa_id"`
	} `json:"contacts"`
}

// MessageID returns the first provider message id, or "".
func (r *SendMessageResponse) MessageID() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// apiError represents a WhatsApp Cloud API error payload.
type apiError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorData    any    `json:"error_data"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

// Send performs one Cloud API call with bounded retries. Rate limits honor the
// provider's Retry-After hint; timeout-class failures back off exponentially.
// Other provider errors surface immediately as *ProviderError.
func (c *APIClient) Send(ctx context.Context, method, endpoint string, payload any) (*SendMessageResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoffFor(lastErr, attempt)
			c.logger.Warn("retrying cloud api call",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result := new(SendMessageResponse)
		apiErr := new(apiError)

		req := c.httpClient.R().
			SetContext(ctx).
			SetResult(result).
			SetError(apiErr)
		if payload != nil {
			req.SetBody(payload)
		}

		resp, err := req.Execute(method, endpoint)
		if err != nil {
			if !isTimeoutClass(err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("cloud api call %s: %w", endpoint, err)
			}
			lastErr = err
			continue
		}

		if resp.StatusCode() == http.StatusTooManyRequests {
			lastErr = &RateLimitError{RetryAfter: retryAfterHint(resp)}
			if attempt == c.maxRetries {
				return nil, lastErr
			}
			continue
		}

		if resp.StatusCode() >= http.StatusBadRequest {
			perr := &ProviderError{
				StatusCode: resp.StatusCode(),
				Code:       apiErr.Error.Code,
				Type:       apiErr.Error.Type,
				Message:    apiErr.Error.Message,
			}
			if perr.Code == 0 {
				perr.Code = resp.StatusCode()
			}
			return nil, perr
		}

		return result, nil
	}

	return nil, lastErr
}

// backoffFor computes the next delay: the provider's Retry-After when rate
// limited, otherwise exponential in the attempt number.
func (c *APIClient) backoffFor(lastErr error, attempt int) time.Duration {
	var rl *RateLimitError
	if errors.As(lastErr, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	return initialBackoff * time.Duration(1<<(attempt-1))
}

func retryAfterHint(resp *resty.Response) time.Duration {
	raw := resp.Header().Get("Retry-After")
	if raw == "" {
		return initialBackoff
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return initialBackoff
	}
	return time.Duration(secs) * time.Second
}

// isTimeoutClass reports whether the transport error is worth retrying.
func isTimeoutClass(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *APIClient) messagesEndpoint() string {
	return fmt.Sprintf("%s/messages", c.phoneNumberID)
}
