package gemini

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/verificaicode/verifica-ai/internal/types"
)

// SourceResolver reduces grounding metadata to {uri, domain} pairs. Cited
// URLs go through the backend's redirector, so each is resolved to its final
// destination; a source that fails to resolve is dropped rather than failing
// the whole batch.
type SourceResolver struct {
	client      *http.Client
	timeout     time.Duration
	parallelism int
	logger      *zap.Logger
}

// NewSourceResolver builds a resolver with a bounded per-URL timeout and
// fan-out limit.
func NewSourceResolver(timeout time.Duration, parallelism int, logger *zap.Logger) *SourceResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if parallelism <= 0 {
		parallelism = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceResolver{
		client:      &http.Client{Timeout: timeout},
		timeout:     timeout,
		parallelism: parallelism,
		logger:      logger,
	}
}

// Extract pulls cited URLs out of a generation result and resolves them.
// Structured grounding chunks are preferred; when absent, anchors are read
// from the rendered search-entry HTML.
func (r *SourceResolver) Extract(ctx context.Context, res *Result) []types.RankedSource {
	if res == nil {
		return nil
	}

	candidates := res.ChunkURIs
	if len(candidates) == 0 && res.RenderedHTML != "" {
		candidates = anchorURLs(res.RenderedHTML)
	}
	if len(candidates) == 0 {
		return nil
	}

	return r.resolveAll(ctx, candidates)
}

// resolveAll follows redirects for every candidate in parallel, keeping the
// original citation order among the survivors.
func (r *SourceResolver) resolveAll(ctx context.Context, urls []string) []types.RankedSource {
	finals := make([]string, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for i, raw := range urls {
		g.Go(func() error {
			final, err := r.resolve(gctx, raw)
			if err != nil {
				r.logger.Debug("source dropped", zap.String("url", raw), zap.Error(err))
				return nil
			}
			finals[i] = final
			return nil
		})
	}
	// Workers never return errors; failures degrade to a dropped source.
	_ = g.Wait()

	sources := make([]types.RankedSource, 0, len(finals))
	for _, final := range finals {
		if final == "" {
			continue
		}
		sources = append(sources, types.RankedSource{URI: final, Domain: Domain(final)})
	}
	return sources
}

func (r *SourceResolver) resolve(ctx context.Context, raw string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return resp.Request.URL.String(), nil
}

// Domain reduces a URL to its bare host, stripping the scheme and a leading
// "www.".
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	return strings.TrimPrefix(host, "www.")
}

// anchorURLs collects href values of anchor tags in an HTML fragment,
// in document order.
func anchorURLs(fragment string) []string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil
	}

	var urls []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href := getAttr(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
				urls = append(urls, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return urls
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
