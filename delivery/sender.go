package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-dispatch/core"
)

// OutcomeClass buckets a delivery attempt result for the retry lifecycle.
type OutcomeClass int

const (
	// OutcomeDelivered means the endpoint acknowledged the call with a 2xx.
	OutcomeDelivered OutcomeClass = iota
	// OutcomeRetryable covers transient failures worth another attempt.
	OutcomeRetryable
	// OutcomePermanent covers rejections that will not heal on retry.
	OutcomePermanent
)

// Outcome is the classified result of a single webhook call.
type Outcome struct {
	Class        OutcomeClass
	ResponseCode *int
	Cause        string
}

// Sender performs one outbound webhook call and classifies the result.
type Sender interface {
	Send(ctx context.Context, sub core.Subscription, event core.Event) (Outcome, error)
}

// HTTPClient is the subset of http.Client the sender needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type envelope struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	CreatedAt string         `json:"createdAt"`
}

// HTTPSender posts signed JSON envelopes to subscription endpoints.
type HTTPSender struct {
	client          HTTPClient
	signer          core.PayloadSigner
	callTimeout     time.Duration
	signatureHeader string
	userAgent       string
}

// SenderOption mutates an HTTPSender during construction.
type SenderOption func(*HTTPSender)

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(client HTTPClient) SenderOption {
	return func(s *HTTPSender) {
		if client != nil {
			s.client = client
		}
	}
}

// WithCallTimeout bounds each outbound call.
func WithCallTimeout(timeout time.Duration) SenderOption {
	return func(s *HTTPSender) {
		if timeout > 0 {
			s.callTimeout = timeout
		}
	}
}

// WithSignatureHeader overrides the header carrying the payload signature.
func WithSignatureHeader(name string) SenderOption {
	return func(s *HTTPSender) {
		if name = strings.TrimSpace(name); name != "" {
			s.signatureHeader = name
		}
	}
}

// WithUserAgent overrides the User-Agent sent on outbound calls.
func WithUserAgent(agent string) SenderOption {
	return func(s *HTTPSender) {
		if agent = strings.TrimSpace(agent); agent != "" {
			s.userAgent = agent
		}
	}
}

// NewHTTPSender builds a sender with the given signer and options.
func NewHTTPSender(signer core.PayloadSigner, options ...SenderOption) (*HTTPSender, error) {
	if signer == nil {
		return nil, goerrors.New("delivery: signer is required", goerrors.CategoryBadInput).
			WithTextCode("DISPATCH_BAD_INPUT")
	}
	sender := &HTTPSender{
		client:          &http.Client{},
		signer:          signer,
		callTimeout:     10 * time.Second,
		signatureHeader: "X-Webhook-Signature",
		userAgent:       "go-dispatch/1.0",
	}
	for _, option := range options {
		if option != nil {
			option(sender)
		}
	}
	return sender, nil
}

// Send posts the event envelope to the subscription endpoint and classifies
// the response. The returned error is non-nil only for local failures that
// prevented the call from being attempted at all.
func (s *HTTPSender) Send(ctx context.Context, sub core.Subscription, event core.Event) (Outcome, error) {
	if s == nil {
		return Outcome{}, goerrors.New("delivery: sender is not configured", goerrors.CategoryInternal).
			WithTextCode("DISPATCH_INTERNAL_ERROR")
	}
	body, err := json.Marshal(envelope{
		ID:        event.ID,
		Event:     event.Type,
		Data:      event.Payload,
		CreatedAt: event.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Outcome{}, goerrors.Wrap(err, goerrors.CategoryInternal, "delivery: encode payload").
			WithTextCode("DISPATCH_INTERNAL_ERROR")
	}

	signature, err := s.signer.Sign(body, sub.Secret)
	if err != nil {
		return Outcome{}, goerrors.Wrap(err, goerrors.CategoryInternal, "delivery: sign payload").
			WithTextCode("DISPATCH_SIGNING_FAILED")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, sub.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "delivery: build request").
			WithTextCode("DISPATCH_BAD_INPUT")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set(s.signatureHeader, signature)

	resp, err := s.client.Do(req)
	if err != nil {
		return classifyTransportError(err), nil
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
	}()

	code := resp.StatusCode
	outcome := Outcome{ResponseCode: &code}
	switch {
	case code >= 200 && code < 300:
		outcome.Class = OutcomeDelivered
	case retryableStatus(code):
		outcome.Class = OutcomeRetryable
		outcome.Cause = fmt.Sprintf("endpoint returned %d", code)
	default:
		outcome.Class = OutcomePermanent
		outcome.Cause = fmt.Sprintf("endpoint returned %d", code)
	}
	return outcome, nil
}

// retryableStatus reports whether an HTTP status is worth another attempt.
// 5xx is transient; 429 asks for backoff; 408 is a server side timeout.
func retryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func classifyTransportError(err error) Outcome {
	cause := "request failed"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		cause = "request timed out"
	case errors.Is(err, context.Canceled):
		cause = "request canceled"
	default:
		cause = err.Error()
	}
	return Outcome{Class: OutcomeRetryable, Cause: cause}
}

var _ Sender = (*HTTPSender)(nil)
