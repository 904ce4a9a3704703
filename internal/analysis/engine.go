// Package analysis runs the two-phase verification protocol: a grounded
// search pass that must answer with a fenced JSON findings object, then an
// ungrounded analysis pass over those findings.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verificaicode/verifica-ai/internal/gemini"
	"github.com/verificaicode/verifica-ai/internal/types"
)

// Prompt templates. Placeholders are replaced verbatim; the search variants
// demand the fenced JSON findings block the second phase consumes.
const (
	searchJSONInstruction = `Retorne apenas um bloco JSON no formato ` + "```json\n{\"tema\": [\"resultados encontrados\"]}\n```" + ` mapeando cada tema pesquisado para a lista de resultados encontrados.`

	searchPrompt = `Legenda: "{caption}". Analise detalhadamente o conteúdo presente na legenda e na mídia, se houver. Separe em temas que podem ou não comprovar sua veracidade e realize pesquisas para cada um deles. Busque sempre os mais recentes. Se o conteúdo for temporal, busque sobre ele em si. ` + searchJSONInstruction

	searchPromptWithReference = `Legenda: "{caption}". Segundo a mensagem "{text}", analise detalhadamente o conteúdo presente na legenda e na mídia, se houver. Separe em temas que podem ou não comprovar a veracidade do conteúdo presente na mensagem e realize pesquisas para cada um deles. Busque sempre os mais recentes. Se o conteúdo for temporal, busque sobre ele em si. ` + searchJSONInstruction

	analysisPrompt = `Legenda: "{caption}". Analise detalhadamente o conteúdo presente na legenda e na mídia, se houver. Depois analise os seguintes resultados de pesquisa: "{search_response}". A data do conteúdo analisado é: {post_date}. A data atual é: {current_date}.`

	analysisPromptWithReference = `Legenda: "{caption}". Segundo a mensagem "{text}", analise detalhadamente o conteúdo presente na legenda e na mídia, se houver. Depois analise os seguintes resultados de pesquisa: "{search_response}". Se a mensagem conter 'hoje' e não especificar o contexto como de alguma outra data, considere a data atual para verificação. A data do conteúdo analisado é: {post_date}. A data atual é: {current_date}.`
)

// SourceExtractor reduces grounding metadata to ranked source candidates.
// Satisfied by gemini.SourceResolver.
type SourceExtractor interface {
	Extract(ctx context.Context, res *gemini.Result) []types.RankedSource
}

// Engine executes the verification protocol for one WorkItem at a time.
type Engine struct {
	llm     gemini.Generator
	files   gemini.FileManager
	sources SourceExtractor
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an Engine.
func New(llm gemini.Generator, files gemini.FileManager, sources SourceExtractor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		llm:     llm,
		files:   files,
		sources: sources,
		logger:  logger,
		now:     time.Now,
	}
}

// Analyze runs both phases and returns the candidate answer plus the cited
// sources. A malformed search response re-runs the whole sequence exactly
// once; failing again escalates to the internal-error sentinel. Quota
// exhaustion passes through untouched so the user can be told directly.
func (e *Engine) Analyze(ctx context.Context, item *types.WorkItem) (string, []types.RankedSource, error) {
	var file gemini.FileRef

	if item.Kind.IsMedia() {
		uploaded, err := e.files.Upload(ctx, item.LocalPath)
		if err != nil {
			return "", nil, e.wrap(err)
		}
		file = uploaded

		// The local copy is only needed for the upload; the backend
		// handle is dropped once both phases are done, success or not.
		os.Remove(item.LocalPath)
		defer func() {
			if err := e.files.Delete(context.WithoutCancel(ctx), file); err != nil {
				e.logger.Warn("uploaded file delete failed",
					zap.String("name", file.Name), zap.Error(err))
			}
		}()
	}

	text, sources, err := e.runOnce(ctx, item, file)
	if errors.Is(err, types.ErrResponseFormat) {
		e.logger.Warn("malformed search response, retrying sequence",
			zap.String("request_id", item.RequestID))
		text, sources, err = e.runOnce(ctx, item, file)
	}
	if err != nil {
		return "", nil, e.wrap(err)
	}

	e.logger.Info("analysis complete",
		zap.String("request_id", item.RequestID),
		zap.Int("sources", len(sources)),
		zap.Int("text_len", len(text)))

	return text, sources, nil
}

// runOnce is one full A+B pass.
func (e *Engine) runOnce(ctx context.Context, item *types.WorkItem, file gemini.FileRef) (string, []types.RankedSource, error) {
	searchRes, err := e.llm.Generate(ctx, e.parts(e.searchText(item), file), true)
	if err != nil {
		return "", nil, err
	}

	if _, err := parseFindings(searchRes.Text); err != nil {
		return "", nil, fmt.Errorf("%w: %v", types.ErrResponseFormat, err)
	}

	sources := e.sources.Extract(ctx, searchRes)

	analysisRes, err := e.llm.Generate(ctx, e.parts(e.analysisText(item, searchRes.Text), file), false)
	if err != nil {
		return "", nil, err
	}

	return analysisRes.Text, sources, nil
}

func (e *Engine) parts(text string, file gemini.FileRef) []gemini.Part {
	parts := []gemini.Part{gemini.TextPart(text)}
	if file.URI != "" {
		parts = append(parts, gemini.FilePart(file))
	}
	return parts
}

func (e *Engine) searchText(item *types.WorkItem) string {
	if item.Referenced != nil {
		return expand(searchPromptWithReference, map[string]string{
			"caption": captionOf(item),
			"text":    item.Referenced.RawText,
		})
	}
	return expand(searchPrompt, map[string]string{"caption": captionOf(item)})
}

func (e *Engine) analysisText(item *types.WorkItem, searchResponse string) string {
	vars := map[string]string{
		"caption":         captionOf(item),
		"search_response": searchResponse,
		"post_date":       item.PublishedAt.Format("2006-01-02"),
		"current_date":    e.now().Format("2006-01-02"),
	}
	if item.Referenced != nil {
		vars["text"] = item.Referenced.RawText
		return expand(analysisPromptWithReference, vars)
	}
	return expand(analysisPrompt, vars)
}

// captionOf prefers the free text of a TEXT submission over the post caption.
func captionOf(item *types.WorkItem) string {
	if item.RawText != "" {
		return item.RawText
	}
	return item.Caption
}

// expand substitutes {name} placeholders in a prompt template.
func expand(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// parseFindings validates the fenced JSON findings block of a search
// response: an object mapping each researched theme to its findings.
func parseFindings(text string) (map[string][]string, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return nil, fmt.Errorf("response is not a fenced block")
	}

	body := strings.TrimPrefix(trimmed, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")

	findings := make(map[string][]string)
	if err := json.Unmarshal([]byte(body), &findings); err != nil {
		return nil, fmt.Errorf("decoding findings: %v", err)
	}
	return findings, nil
}

// wrap maps engine failures onto the pipeline taxonomy.
func (e *Engine) wrap(err error) error {
	switch {
	case errors.Is(err, types.ErrQuotaExceeded):
		return err
	case errors.Is(err, types.ErrInternal):
		return err
	default:
		return types.Internal(err)
	}
}
