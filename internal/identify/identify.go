// Package identify turns a raw inbound message into a canonical WorkItem.
// It owns the routing ladder: direct post links, share links, plain text
// (with or without a claimable prior submission) and media attachments.
package identify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verificaicode/verifica-ai/internal/gemini"
	"github.com/verificaicode/verifica-ai/internal/refstore"
	"github.com/verificaicode/verifica-ai/internal/scraper"
	"github.com/verificaicode/verifica-ai/internal/types"
)

// Recognized URL shapes. Share links redirect to the canonical post URL.
const (
	postPrefix  = "https://www.instagram.com/p/"
	reelPrefix  = "https://www.instagram.com/reel/"
	sharePrefix = "https://www.instagram.com/share/"
)

// Attachment subtypes as delivered by the transport.
const (
	attachmentReel  = "ig_reel"
	attachmentVideo = "video"
)

// disambiguationPrompt asks whether a plain text refers to something outside
// itself. The model answers a bare "Sim" or "Não".
const disambiguationPrompt = `Analise a mensagem: %q. Me retorne apenas "Sim" se a mensagem se refere a algo ou utiliza algum pronome que dá sentido de referência a algo que não está no texto. Caso contrário, retorne "Não".`

// Identifier builds WorkItems from inbound messages.
type Identifier struct {
	store    refstore.Store
	resolver scraper.Resolver
	llm      gemini.Generator
	http     *http.Client
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an Identifier. httpClient is used to follow share-link
// redirects; nil falls back to a 15s-timeout default.
func New(store refstore.Store, resolver scraper.Resolver, llm gemini.Generator, httpClient *http.Client, logger *zap.Logger) *Identifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Identifier{
		store:    store,
		resolver: resolver,
		llm:      llm,
		http:     httpClient,
		logger:   logger,
		now:      time.Now,
	}
}

// Identify routes one inbound message to a WorkItem. New top-level post
// submissions overwrite the sender's reference slot; a follow-up text that
// claims the slot suppresses the stored item's pending response instead.
func (id *Identifier) Identify(ctx context.Context, msg types.InboundMessage) (*types.WorkItem, error) {
	if msg.IsUnsupported {
		return nil, types.ErrTypeUnsupported
	}

	var item *types.WorkItem
	var err error

	switch {
	case len(msg.Attachments) > 0:
		item, err = id.fromAttachment(msg)
	case strings.HasPrefix(msg.Text, postPrefix) || strings.HasPrefix(msg.Text, reelPrefix):
		item, err = id.fromPostURL(ctx, msg.Text, msg.Text, types.NotShared)
	case strings.HasPrefix(msg.Text, sharePrefix):
		item, err = id.fromShareLink(ctx, msg.Text)
	default:
		return id.fromText(ctx, msg)
	}
	if err != nil {
		return nil, err
	}

	item.RequestID = uuid.NewString()
	if err := id.store.Put(ctx, msg.SenderID, item); err != nil {
		// The reference slot is a convenience; losing it must not block
		// the current analysis.
		id.logger.Warn("reference store write failed",
			zap.String("sender", msg.SenderID), zap.Error(err))
	}

	id.logger.Info("identified",
		zap.String("sender", msg.SenderID),
		zap.String("kind", item.Kind.String()),
		zap.String("share", item.Share.String()),
		zap.String("shortcode", item.Shortcode))

	return item, nil
}

// fromPostURL resolves a canonical post URL through the scraping backend.
// Carousels stay undetermined until the fetcher selects the sub-item.
func (id *Identifier) fromPostURL(ctx context.Context, canonical, original string, share types.ShareKind) (*types.WorkItem, error) {
	shortcode := ShortcodeFromURL(canonical)
	if shortcode == "" {
		return nil, fmt.Errorf("%w: no shortcode in %s", types.ErrInvalidLink, canonical)
	}

	post, err := id.resolver.ResolveShortcode(ctx, shortcode)
	if err != nil {
		return nil, err
	}

	kind := types.KindImage
	switch {
	case post.IsCarousel:
		kind = types.KindUndetermined
	case post.IsVideo:
		kind = types.KindVideo
	}

	return &types.WorkItem{
		Kind:        kind,
		Share:       share,
		Shortcode:   shortcode,
		Remote:      post,
		Caption:     post.Caption,
		PublishedAt: post.PublishedAt,
		MayRespond:  true,
		OriginalURL: original,
	}, nil
}

// fromShareLink follows the share-link redirect to the canonical URL, then
// proceeds like a direct post link.
func (id *Identifier) fromShareLink(ctx context.Context, link string) (*types.WorkItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidLink, err)
	}

	resp, err := id.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: following share link: %v", types.ErrInvalidLink, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: share link answered %s", types.ErrInvalidLink, resp.Status)
	}

	canonical := resp.Request.URL.String()
	return id.fromPostURL(ctx, canonical, canonical, types.SharedViaLink)
}

// fromText handles plain text. With no prior sender state it is a fresh TEXT
// item. With prior state, one cheap LLM call decides whether the text refers
// back to the stored submission.
func (id *Identifier) fromText(ctx context.Context, msg types.InboundMessage) (*types.WorkItem, error) {
	state, ok, err := id.store.Get(ctx, msg.SenderID)
	if err != nil {
		id.logger.Warn("reference store read failed",
			zap.String("sender", msg.SenderID), zap.Error(err))
	}

	if ok && state.Item != nil {
		res, err := id.llm.Generate(ctx, []gemini.Part{
			gemini.TextPart(fmt.Sprintf(disambiguationPrompt, msg.Text)),
		}, false)
		if err != nil {
			return nil, err
		}

		if strings.HasPrefix(strings.TrimSpace(res.Text), "Sim") {
			return id.fromReference(ctx, msg, state)
		}
	}

	return &types.WorkItem{
		Kind:        types.KindText,
		Share:       types.NotShared,
		RawText:     msg.Text,
		PublishedAt: id.now(),
		MayRespond:  true,
		RequestID:   uuid.NewString(),
	}, nil
}

// fromReference rebuilds a WorkItem from the stored snapshot and marks the
// stored item so its still-pending original response is dropped. Only the
// most recent submission is claimable; there is no deeper history.
func (id *Identifier) fromReference(ctx context.Context, msg types.InboundMessage, state *types.SenderState) (*types.WorkItem, error) {
	if err := id.store.Suppress(ctx, msg.SenderID); err != nil {
		id.logger.Warn("reference suppress failed",
			zap.String("sender", msg.SenderID), zap.Error(err))
	}

	item := state.Item.Snapshot()
	item.Referenced = &types.ReferencedContext{SenderID: msg.SenderID, RawText: msg.Text}
	item.MayRespond = true
	item.LocalPath = "" // media is re-fetched for the new analysis
	item.RequestID = uuid.NewString()

	id.logger.Info("reference claimed",
		zap.String("sender", msg.SenderID),
		zap.String("shortcode", item.Shortcode))

	return item, nil
}

// fromAttachment builds a media WorkItem from the first attachment payload.
func (id *Identifier) fromAttachment(msg types.InboundMessage) (*types.WorkItem, error) {
	att := msg.Attachments[0]

	switch att.Type {
	case attachmentReel:
		// Reel payloads occasionally deliver an image asset; the fetcher
		// settles image-vs-video from the content headers.
		return &types.WorkItem{
			Kind:       types.KindUndetermined,
			Share:      types.SharedViaApp,
			Shortcode:  att.Payload.ReelVideoID,
			MediaURL:   att.Payload.URL,
			Caption:    att.Payload.Title,
			MayRespond: true,
		}, nil
	case attachmentVideo:
		return &types.WorkItem{
			Kind:       types.KindVideo,
			Share:      types.NotShared,
			Shortcode:  assetIDFromURL(att.Payload.URL),
			MediaURL:   att.Payload.URL,
			MayRespond: true,
		}, nil
	default:
		return &types.WorkItem{
			Kind:       types.KindImage,
			Share:      types.SharedViaApp,
			Shortcode:  assetIDFromURL(att.Payload.URL),
			MediaURL:   att.Payload.URL,
			MayRespond: true,
		}, nil
	}
}

// ShortcodeFromURL extracts the post identifier from a canonical post URL:
// the last path segment, query ignored.
//
//	https://www.instagram.com/p/ABC123xyz/ -> ABC123xyz
func ShortcodeFromURL(raw string) string {
	raw, _, _ = strings.Cut(raw, "?")
	raw = strings.TrimSuffix(raw, "/")
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

// ImgIndexFromURL extracts the 1-based img_index query parameter selecting a
// carousel sub-item. Missing or unparseable values default to 1.
func ImgIndexFromURL(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 1
	}
	idx, err := strconv.Atoi(u.Query().Get("img_index"))
	if err != nil || idx < 1 {
		return 1
	}
	return idx
}

// assetIDFromURL pulls the first query parameter value out of a CDN asset
// URL, which is the asset id on gallery uploads.
func assetIDFromURL(raw string) string {
	_, query, ok := strings.Cut(raw, "=")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(query, "&")
	return id
}
