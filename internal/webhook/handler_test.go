package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"imovia/pkg/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *fakeDedup) Seen(externalID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.seen[externalID], nil
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []models.InboundMessage
	keys []string
}

func (q *fakeEnqueuer) Enqueue(ctx context.Context, key string, msg models.InboundMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.keys = append(q.keys, key)
	q.jobs = append(q.jobs, msg)
	return nil
}

func (q *fakeEnqueuer) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func waitForJobs(t *testing.T, q *fakeEnqueuer, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("enqueued jobs: got %d, want %d", q.count(), want)
}

func newTestHandler(appSecret string, dedup Deduper) (*Handler, *fakeEnqueuer) {
	enq := &fakeEnqueuer{}
	if dedup == nil {
		dedup = &fakeDedup{}
	}
	normalizer := NewNormalizer(&fakeDirectory{}, zerolog.Nop())
	h := NewHandler("verify-me", appSecret, normalizer, dedup, enq, zerolog.Nop())
	return h, enq
}

func doReceive(h *Handler, body string, sign func([]byte) string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sign != nil {
		req.Header.Set(SignatureHeader, sign([]byte(body)))
	}
	rec := httptest.NewRecorder()
	_ = h.Receive(e.NewContext(req, rec))
	return rec
}

func TestVerifyChallengeEchoes(t *testing.T) {
	h, _ := newTestHandler("", nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/webhook?mode=subscribe&verifyToken=verify-me&challenge=12345", nil)
	rec := httptest.NewRecorder()
	if err := h.VerifyChallenge(e.NewContext(req, rec)); err != nil {
		t.Fatalf("verify challenge: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Errorf("challenge echo: got %q", rec.Body.String())
	}
}

func TestVerifyChallengeRejectsBadToken(t *testing.T) {
	h, _ := newTestHandler("", nil)

	cases := []string{
		"/webhook?mode=subscribe&verifyToken=wrong&challenge=1",
		"/webhook?mode=unsubscribe&verifyToken=verify-me&challenge=1",
		"/webhook",
	}
	for _, target := range cases {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		_ = h.VerifyChallenge(e.NewContext(req, rec))
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: got %d, want 403", target, rec.Code)
		}
	}
}

func TestReceiveValidSignatureEnqueues(t *testing.T) {
	secret := "app-secret"
	h, enq := newTestHandler(secret, nil)

	rec := doReceive(h, textPayload, func(b []byte) string { return SignBody(b, secret) })

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	waitForJobs(t, enq, 1)
	if enq.keys[0] != "5511988887777" {
		t.Errorf("queue key should be the sender address, got %s", enq.keys[0])
	}
	if enq.jobs[0].ExternalID != "wamid.text1" {
		t.Errorf("external id: got %s", enq.jobs[0].ExternalID)
	}
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	h, enq := newTestHandler("app-secret", nil)

	rec := doReceive(h, textPayload, func(b []byte) string { return SignBody(b, "other-secret") })
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: got %d, want 401", rec.Code)
	}

	rec = doReceive(h, textPayload, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: got %d, want 401", rec.Code)
	}

	time.Sleep(20 * time.Millisecond)
	if enq.count() != 0 {
		t.Errorf("nothing should be enqueued, got %d", enq.count())
	}
}

func TestReceiveSkipsVerificationWithoutSecret(t *testing.T) {
	h, enq := newTestHandler("", nil)

	rec := doReceive(h, textPayload, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	waitForJobs(t, enq, 1)
}

func TestReceiveDropsDuplicates(t *testing.T) {
	dedup := &fakeDedup{seen: map[string]bool{"wamid.text1": true}}
	h, enq := newTestHandler("", dedup)

	rec := doReceive(h, textPayload, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	time.Sleep(50 * time.Millisecond)
	if enq.count() != 0 {
		t.Errorf("duplicate should be dropped, got %d jobs", enq.count())
	}
}

func TestReceiveEnqueuesWhenDedupFails(t *testing.T) {
	dedup := &fakeDedup{err: errTest}
	h, enq := newTestHandler("", dedup)

	rec := doReceive(h, textPayload, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	waitForJobs(t, enq, 1)
}

func TestReceiveAcksUnparseableBody(t *testing.T) {
	h, enq := newTestHandler("", nil)

	rec := doReceive(h, "{not json", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("garbage body still gets a 200 ack, got %d", rec.Code)
	}

	time.Sleep(20 * time.Millisecond)
	if enq.count() != 0 {
		t.Errorf("nothing should be enqueued, got %d", enq.count())
	}
}
