package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/verificaicode/verifica-ai/internal/types"
)

type recordingProcessor struct {
	mu        sync.Mutex
	processed []types.InboundMessage
	answered  []types.InboundMessage
	answer    string
	answerErr error
}

func (r *recordingProcessor) Process(_ context.Context, msg types.InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, msg)
}

func (r *recordingProcessor) Answer(_ context.Context, msg types.InboundMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered = append(r.answered, msg)
	return r.answer, r.answerErr
}

func (r *recordingProcessor) waitProcessed(t *testing.T, n int) []types.InboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.processed) >= n {
			out := append([]types.InboundMessage(nil), r.processed...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("processor did not receive %d messages", n)
	return nil
}

func newTestServer(p *recordingProcessor) *httptest.Server {
	srv := New(p, "segredo", "bot-123", nil, nil)
	return httptest.NewServer(srv.Handler())
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestWebhookChallenge(t *testing.T) {
	srv := newTestServer(&recordingProcessor{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=segredo&hub.challenge=42")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var buf [8]byte
	n, _ := resp.Body.Read(buf[:])
	if resp.StatusCode != http.StatusOK || string(buf[:n]) != "42" {
		t.Errorf("status=%d body=%q", resp.StatusCode, buf[:n])
	}

	bad, err := http.Get(srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=errado")
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusForbidden {
		t.Errorf("bad token status = %d", bad.StatusCode)
	}
}

func TestWebhookDispatchesMessage(t *testing.T) {
	p := &recordingProcessor{}
	srv := newTestServer(p)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/webhook", `{
		"entry": [{"messaging": [{
			"sender": {"id": "u1"},
			"message": {"text": "https://www.instagram.com/p/ABC/", "attachments": [
				{"type": "ig_reel", "payload": {"url": "https://cdn/x", "reel_video_id": "R1", "title": "t"}}
			]}
		}]}]
	}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	got := p.waitProcessed(t, 1)
	if got[0].SenderID != "u1" || len(got[0].Attachments) != 1 || got[0].Attachments[0].Payload.ReelVideoID != "R1" {
		t.Errorf("message = %+v", got[0])
	}
}

func TestWebhookFiltersIrrelevantEvents(t *testing.T) {
	p := &recordingProcessor{}
	srv := newTestServer(p)
	defer srv.Close()

	for name, body := range map[string]string{
		"own echo":     `{"entry":[{"messaging":[{"sender":{"id":"bot-123"},"message":{"text":"x"}}]}]}`,
		"read receipt": `{"entry":[{"messaging":[{"sender":{"id":"u1"},"read":{"mid":"m1"}}]}]}`,
		"no message":   `{"entry":[{"messaging":[{"sender":{"id":"u1"}}]}]}`,
		"empty entry":  `{"entry":[]}`,
		"malformed":    `{"entry": 12}`,
	} {
		resp := postJSON(t, srv.URL+"/webhook", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, webhook always answers 200", name, resp.StatusCode)
		}
	}

	time.Sleep(50 * time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.processed) != 0 {
		t.Errorf("filtered events reached the pipeline: %+v", p.processed)
	}
}

func TestVerifyInvalidToken(t *testing.T) {
	srv := newTestServer(&recordingProcessor{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/verify", `{"VERIFY_TOKEN":"errado","link":"x"}`)
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body["error"] != "401" || body["type"] != "INVALID_TOKEN" {
		t.Errorf("status=%d body=%v", resp.StatusCode, body)
	}
}

func TestVerifyAnswers(t *testing.T) {
	srv := newTestServer(&recordingProcessor{answer: "✅ É fato\n\nok"})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/verify", `{"VERIFY_TOKEN":"segredo","link":"https://www.instagram.com/p/ABC/"}`)
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["response"] != "✅ É fato\n\nok" {
		t.Errorf("body = %v", body)
	}
}

func TestVerifyForwardsMessageAttachments(t *testing.T) {
	p := &recordingProcessor{answer: "ok"}
	srv := newTestServer(p)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/verify", `{
		"VERIFY_TOKEN": "segredo",
		"link": "https://www.instagram.com/p/ABC/",
		"message": {"attachments": [
			{"type": "ig_reel", "payload": {"url": "https://cdn/x", "reel_video_id": "R7"}}
		]}
	}`)
	resp.Body.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.answered) != 1 {
		t.Fatalf("answered %d messages, want 1", len(p.answered))
	}
	got := p.answered[0]
	if got.Text != "https://www.instagram.com/p/ABC/" {
		t.Errorf("text = %q", got.Text)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Payload.ReelVideoID != "R7" {
		t.Errorf("attachments = %+v", got.Attachments)
	}
}

func TestVerifyMessageTextWithoutLink(t *testing.T) {
	p := &recordingProcessor{answer: "ok"}
	srv := newTestServer(p)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/verify", `{
		"VERIFY_TOKEN": "segredo",
		"message": {"text": "isso é verdade?"}
	}`)
	resp.Body.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.answered) != 1 || p.answered[0].Text != "isso é verdade?" {
		t.Fatalf("answered = %+v", p.answered)
	}
}

func TestVerifyPipelineError(t *testing.T) {
	srv := newTestServer(&recordingProcessor{answerErr: errors.New("boom")})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/verify", `{"VERIFY_TOKEN":"segredo","link":"x"}`)
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "500" {
		t.Errorf("body = %v", body)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&recordingProcessor{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestKeepalivePings(t *testing.T) {
	var mu sync.Mutex
	pings := 0
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pings++
		mu.Unlock()
	}))
	defer target.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	Keepalive(ctx, target.URL, 20*time.Millisecond, nil)

	mu.Lock()
	defer mu.Unlock()
	if pings < 2 {
		t.Errorf("pings = %d, want at least 2", pings)
	}
}
