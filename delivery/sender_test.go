package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

func testSubscription(endpoint string) core.Subscription {
	return core.Subscription{
		ID:          "sub-1",
		PartnerID:   "partner-1",
		EndpointURL: endpoint,
		Secret:      "s3cret",
		EventTypes:  core.NewEventTypeSet("hr.person.created"),
		Active:      true,
	}
}

func testEvent() core.Event {
	return core.Event{
		ID:         "evt-1",
		Type:       "hr.person.created",
		Payload:    map[string]any{"personId": "p-77"},
		OccurredAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestHTTPSenderDeliversSignedEnvelope(t *testing.T) {
	var (
		gotBody      []byte
		gotSignature string
		gotContent   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotContent = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	signer := core.HMACSigner{}
	sender, err := NewHTTPSender(signer)
	if err != nil {
		t.Fatalf("NewHTTPSender returned error: %v", err)
	}

	sub := testSubscription(server.URL)
	outcome, err := sender.Send(context.Background(), sub, testEvent())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if outcome.Class != OutcomeDelivered {
		t.Fatalf("expected delivered outcome, got %v (%s)", outcome.Class, outcome.Cause)
	}
	if outcome.ResponseCode == nil || *outcome.ResponseCode != http.StatusOK {
		t.Fatalf("expected response code 200, got %v", outcome.ResponseCode)
	}
	if gotContent != "application/json" {
		t.Fatalf("expected JSON content type, got %q", gotContent)
	}
	if err := signer.Verify(gotBody, sub.Secret, gotSignature); err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if payload["id"] != "evt-1" {
		t.Fatalf("expected envelope id evt-1, got %v", payload["id"])
	}
	if payload["event"] != "hr.person.created" {
		t.Fatalf("expected envelope event type, got %v", payload["event"])
	}
	if payload["createdAt"] != "2026-03-14T09:30:00Z" {
		t.Fatalf("expected RFC3339 createdAt, got %v", payload["createdAt"])
	}
	data, ok := payload["data"].(map[string]any)
	if !ok || data["personId"] != "p-77" {
		t.Fatalf("expected event payload under data, got %v", payload["data"])
	}
}

func TestHTTPSenderClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		class  OutcomeClass
	}{
		{http.StatusOK, OutcomeDelivered},
		{http.StatusCreated, OutcomeDelivered},
		{http.StatusNoContent, OutcomeDelivered},
		{http.StatusInternalServerError, OutcomeRetryable},
		{http.StatusBadGateway, OutcomeRetryable},
		{http.StatusServiceUnavailable, OutcomeRetryable},
		{http.StatusTooManyRequests, OutcomeRetryable},
		{http.StatusRequestTimeout, OutcomeRetryable},
		{http.StatusBadRequest, OutcomePermanent},
		{http.StatusUnauthorized, OutcomePermanent},
		{http.StatusNotFound, OutcomePermanent},
		{http.StatusGone, OutcomePermanent},
	}

	for _, tc := range cases {
		status := tc.status
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		sender, err := NewHTTPSender(core.HMACSigner{})
		if err != nil {
			server.Close()
			t.Fatalf("NewHTTPSender returned error: %v", err)
		}
		outcome, err := sender.Send(context.Background(), testSubscription(server.URL), testEvent())
		server.Close()
		if err != nil {
			t.Fatalf("status %d: Send returned error: %v", status, err)
		}
		if outcome.Class != tc.class {
			t.Fatalf("status %d: expected class %v, got %v", status, tc.class, outcome.Class)
		}
		if outcome.ResponseCode == nil || *outcome.ResponseCode != status {
			t.Fatalf("status %d: expected response code recorded, got %v", status, outcome.ResponseCode)
		}
	}
}

func TestHTTPSenderTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	sender, err := NewHTTPSender(core.HMACSigner{}, WithCallTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewHTTPSender returned error: %v", err)
	}
	outcome, err := sender.Send(context.Background(), testSubscription(server.URL), testEvent())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if outcome.Class != OutcomeRetryable {
		t.Fatalf("expected retryable outcome for timeout, got %v", outcome.Class)
	}
	if outcome.ResponseCode != nil {
		t.Fatalf("expected no response code for timeout, got %v", *outcome.ResponseCode)
	}
	if outcome.Cause == "" {
		t.Fatal("expected a timeout cause")
	}
}

func TestHTTPSenderConnectionRefusedIsRetryable(t *testing.T) {
	sender, err := NewHTTPSender(core.HMACSigner{}, WithCallTimeout(time.Second))
	if err != nil {
		t.Fatalf("NewHTTPSender returned error: %v", err)
	}
	sub := testSubscription("http://127.0.0.1:1")
	outcome, err := sender.Send(context.Background(), sub, testEvent())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if outcome.Class != OutcomeRetryable {
		t.Fatalf("expected retryable outcome, got %v", outcome.Class)
	}
}

func TestHTTPSenderRejectsEmptySecret(t *testing.T) {
	sender, err := NewHTTPSender(core.HMACSigner{})
	if err != nil {
		t.Fatalf("NewHTTPSender returned error: %v", err)
	}
	sub := testSubscription("http://example.invalid")
	sub.Secret = ""
	if _, err := sender.Send(context.Background(), sub, testEvent()); err == nil {
		t.Fatal("expected signing error for empty secret")
	}
}

func TestHTTPSenderCustomSignatureHeader(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Partner-Sig")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := NewHTTPSender(core.HMACSigner{}, WithSignatureHeader("X-Partner-Sig"))
	if err != nil {
		t.Fatalf("NewHTTPSender returned error: %v", err)
	}
	if _, err := sender.Send(context.Background(), testSubscription(server.URL), testEvent()); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if gotHeader == "" {
		t.Fatal("expected signature on custom header")
	}
}
