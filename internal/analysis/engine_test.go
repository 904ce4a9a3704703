package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/verificaicode/verifica-ai/internal/gemini"
	"github.com/verificaicode/verifica-ai/internal/types"
)

const goodSearchResponse = "```json\n{\"clima\": [\"frente fria chega sexta\"]}\n```"

// scriptedLLM replays one canned result per Generate call and records the
// prompts it saw.
type scriptedLLM struct {
	results []*gemini.Result
	errs    []error
	calls   []struct {
		parts  []gemini.Part
		search bool
	}
}

func (s *scriptedLLM) Generate(_ context.Context, parts []gemini.Part, useSearch bool) (*gemini.Result, error) {
	i := len(s.calls)
	s.calls = append(s.calls, struct {
		parts  []gemini.Part
		search bool
	}{parts, useSearch})

	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return &gemini.Result{Text: "resposta"}, nil
}

type fakeFiles struct {
	uploaded []string
	deleted  []string
	upErr    error
}

func (f *fakeFiles) Upload(_ context.Context, path string) (gemini.FileRef, error) {
	if f.upErr != nil {
		return gemini.FileRef{}, f.upErr
	}
	f.uploaded = append(f.uploaded, path)
	return gemini.FileRef{Name: "files/abc", URI: "gs://files/abc", MIMEType: "video/mp4"}, nil
}

func (f *fakeFiles) Delete(_ context.Context, ref gemini.FileRef) error {
	f.deleted = append(f.deleted, ref.Name)
	return nil
}

type fakeSources struct{ out []types.RankedSource }

func (f *fakeSources) Extract(context.Context, *gemini.Result) []types.RankedSource {
	return f.out
}

func newEngine(llm *scriptedLLM, files *fakeFiles, sources *fakeSources) *Engine {
	e := New(llm, files, sources, nil)
	e.now = func() time.Time { return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC) }
	return e
}

func textItem(text string) *types.WorkItem {
	return &types.WorkItem{
		Kind:        types.KindText,
		RawText:     text,
		PublishedAt: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		RequestID:   "r1",
	}
}

func TestAnalyzeTextHappyPath(t *testing.T) {
	llm := &scriptedLLM{results: []*gemini.Result{
		{Text: goodSearchResponse},
		{Text: "É fato. A frente fria foi confirmada."},
	}}
	srcs := &fakeSources{out: []types.RankedSource{{URI: "https://bbc.com/x", Domain: "bbc.com"}}}

	text, sources, err := newEngine(llm, &fakeFiles{}, srcs).Analyze(context.Background(), textItem("vai chover hoje"))
	if err != nil {
		t.Fatal(err)
	}
	if text != "É fato. A frente fria foi confirmada." {
		t.Errorf("text = %q", text)
	}
	if len(sources) != 1 || sources[0].Domain != "bbc.com" {
		t.Errorf("sources = %+v", sources)
	}

	if len(llm.calls) != 2 {
		t.Fatalf("llm calls = %d, want 2", len(llm.calls))
	}
	if !llm.calls[0].search || llm.calls[1].search {
		t.Error("phase A must search, phase B must not")
	}

	second := llm.calls[1].parts[0].Text
	for _, want := range []string{"vai chover hoje", goodSearchResponse, "2025-03-09", "2025-03-10"} {
		if !strings.Contains(second, want) {
			t.Errorf("analysis prompt missing %q", want)
		}
	}
}

func TestAnalyzeReferencePromptVariant(t *testing.T) {
	llm := &scriptedLLM{results: []*gemini.Result{
		{Text: goodSearchResponse},
		{Text: "ok"},
	}}

	item := textItem("")
	item.Caption = "legenda original"
	item.Referenced = &types.ReferencedContext{SenderID: "s1", RawText: "isso é verdade?"}

	if _, _, err := newEngine(llm, &fakeFiles{}, &fakeSources{}).Analyze(context.Background(), item); err != nil {
		t.Fatal(err)
	}

	first := llm.calls[0].parts[0].Text
	if !strings.Contains(first, "isso é verdade?") || !strings.Contains(first, "legenda original") {
		t.Errorf("search prompt missing reference fields: %q", first)
	}
}

func TestAnalyzeRetriesOnceOnMalformedSearch(t *testing.T) {
	llm := &scriptedLLM{results: []*gemini.Result{
		{Text: "sem json nenhum"},
		{Text: goodSearchResponse},
		{Text: "resposta final"},
	}}

	text, _, err := newEngine(llm, &fakeFiles{}, &fakeSources{}).Analyze(context.Background(), textItem("x"))
	if err != nil {
		t.Fatal(err)
	}
	if text != "resposta final" {
		t.Errorf("text = %q", text)
	}
	// first attempt stops after phase A, second runs A then B
	if len(llm.calls) != 3 {
		t.Errorf("llm calls = %d, want 3", len(llm.calls))
	}
}

func TestAnalyzeSecondFormatFailureIsInternal(t *testing.T) {
	llm := &scriptedLLM{results: []*gemini.Result{
		{Text: "não é json"},
		{Text: "```json\n{broken\n```"},
	}}

	_, _, err := newEngine(llm, &fakeFiles{}, &fakeSources{}).Analyze(context.Background(), textItem("x"))
	if !errors.Is(err, types.ErrInternal) {
		t.Fatalf("err = %v, want ErrInternal", err)
	}
	if len(llm.calls) != 2 {
		t.Errorf("llm calls = %d, want 2 (no third attempt)", len(llm.calls))
	}
}

func TestAnalyzeQuotaPassesThrough(t *testing.T) {
	llm := &scriptedLLM{errs: []error{types.ErrQuotaExceeded}}

	_, _, err := newEngine(llm, &fakeFiles{}, &fakeSources{}).Analyze(context.Background(), textItem("x"))
	if !errors.Is(err, types.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if errors.Is(err, types.ErrInternal) {
		t.Error("quota errors must not be wrapped as internal")
	}
}

func TestAnalyzeMediaLifecycle(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "v_ABC_s1.mp4")
	if err := os.WriteFile(local, []byte("v"), 0o644); err != nil {
		t.Fatal(err)
	}

	llm := &scriptedLLM{results: []*gemini.Result{
		{Text: goodSearchResponse},
		{Text: "ok"},
	}}
	files := &fakeFiles{}

	item := &types.WorkItem{
		Kind:        types.KindVideo,
		Caption:     "legenda",
		LocalPath:   local,
		PublishedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if _, _, err := newEngine(llm, files, &fakeSources{}).Analyze(context.Background(), item); err != nil {
		t.Fatal(err)
	}

	if len(files.uploaded) != 1 || files.uploaded[0] != local {
		t.Errorf("uploaded = %v", files.uploaded)
	}
	if len(files.deleted) != 1 || files.deleted[0] != "files/abc" {
		t.Errorf("deleted = %v", files.deleted)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Error("local media file should be removed after upload")
	}
	// both phases attach the uploaded file
	for i, call := range llm.calls {
		if len(call.parts) != 2 || call.parts[1].FileURI != "gs://files/abc" {
			t.Errorf("call %d parts = %+v", i, call.parts)
		}
	}
}

func TestAnalyzeMediaDeleteRunsOnFailure(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "v_X_s1.jpg")
	if err := os.WriteFile(local, []byte("i"), 0o644); err != nil {
		t.Fatal(err)
	}

	llm := &scriptedLLM{errs: []error{errors.New("backend down")}}
	files := &fakeFiles{}

	item := &types.WorkItem{Kind: types.KindImage, LocalPath: local}
	_, _, err := newEngine(llm, files, &fakeSources{}).Analyze(context.Background(), item)
	if !errors.Is(err, types.ErrInternal) {
		t.Fatalf("err = %v, want ErrInternal", err)
	}
	if len(files.deleted) != 1 {
		t.Error("uploaded file must be deleted even when a phase fails")
	}
}

func TestParseFindings(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"fenced with language tag", goodSearchResponse, false},
		{"fenced without tag", "```\n{\"a\": []}\n```", false},
		{"leading whitespace", "\n  " + goodSearchResponse, false},
		{"bare text", "não encontrei nada", true},
		{"fenced non json", "```json\nnope\n```", true},
		{"fenced wrong shape", "```json\n[1,2]\n```", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseFindings(tc.in)
			if (err != nil) != tc.wantErr {
				t.Errorf("parseFindings(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
		})
	}
}
