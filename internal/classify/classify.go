// Package classify talks to the external classifier service that decides
// whether an analysis text describes a fact, insufficient information, or
// one of the misinformation subtypes.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Verdict classes as reported by the classifier service.
const (
	ClassFake         = 0
	ClassInsufficient = 1
	ClassFact         = 2
)

// Label prefixes prepended to the final user-facing answer.
const (
	LabelFact         = "✅ É fato"
	LabelInsufficient = "🤔 Informações insuficientes"
)

// fakeTypeLabels maps the subtype class index reported for ClassFake
// verdicts onto its display name.
var fakeTypeLabels = []string{
	"🤣 Sátira ou paródia",
	"🤷 Conexão falsa",
	"🎭 Conteúdo enganoso",
	"🗓️ Contexto falso",
	"👀 Conteúdo impostor",
	"✂️ Conteúdo manipulado",
	"🧪 Conteúdo fabricado",
}

// Verdict is one classification outcome.
type Verdict struct {
	Class    int `json:"class"`
	FakeType int `json:"fake_type"`
}

// Label renders the verdict's display prefix. Out-of-range subtype indexes
// fall back to the fabricated-content label, the broadest category.
func (v Verdict) Label() string {
	switch v.Class {
	case ClassFact:
		return LabelFact
	case ClassInsufficient:
		return LabelInsufficient
	}
	if v.FakeType < 0 || v.FakeType >= len(fakeTypeLabels) {
		return fakeTypeLabels[len(fakeTypeLabels)-1]
	}
	return fakeTypeLabels[v.FakeType]
}

// Oracle classifies analysis texts. Satisfied by Client; faked in tests.
type Oracle interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// Client calls the classifier service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a classifier client. A nil httpClient falls back to a
// 30s-timeout default.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

var _ Oracle = (*Client)(nil)

// Classify sends the analysis text and decodes the verdict.
func (c *Client) Classify(ctx context.Context, text string) (Verdict, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Verdict{}, fmt.Errorf("classifier answered %s: %s", resp.Status, body)
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return Verdict{}, fmt.Errorf("decoding classifier response: %w", err)
	}
	return verdict, nil
}
