// Package pipeline orchestrates one inbound message end to end: identify,
// fetch, analyze, compose, deliver. It also owns the user-facing error
// translation and the per-sender reference consistency rules.
package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verificaicode/verifica-ai/internal/messenger"
	"github.com/verificaicode/verifica-ai/internal/refstore"
	"github.com/verificaicode/verifica-ai/internal/types"
)

// User-facing messages, sent as-is over the messaging transport.
const (
	msgProcessing  = "Estamos analisando o conteúdo. Pode demorar alguns segundos..."
	msgInvalidLink = "Link inválido. Verifique-o e tente novamente."
	msgUnsupported = "Tipo de postagem inválida. Verifique-a e tente novamente."
	msgQuota       = "Muitas requisições ao mesmo tempo. Tente novamente mais tarde."
	msgTooLong     = "Mensagem muito longa. Envie até 2000 caracteres e tente novamente."
	msgSendFailed  = "Ocorreu um erro ao enviar a mensagem. Tente novamente mais tarde."
	msgInternal    = "Ocorreu um erro interno. Tente novamente mais tarde."
)

// senderStripes bounds the lock table for per-sender serialization of
// reference-slot access.
const senderStripes = 64

// Identifier routes an inbound message to a WorkItem.
type Identifier interface {
	Identify(ctx context.Context, msg types.InboundMessage) (*types.WorkItem, error)
}

// Fetcher materializes the item's media locally.
type Fetcher interface {
	Fetch(ctx context.Context, item *types.WorkItem) error
}

// Analyzer runs the two-phase verification protocol.
type Analyzer interface {
	Analyze(ctx context.Context, item *types.WorkItem) (string, []types.RankedSource, error)
}

// Composer assembles the final bounded answer.
type Composer interface {
	Compose(ctx context.Context, analysisText string, sources []types.RankedSource) (string, error)
}

// Pipeline wires the verification stages together.
type Pipeline struct {
	identifier Identifier
	fetcher    Fetcher
	analyzer   Analyzer
	composer   Composer
	sender     messenger.Sender
	store      refstore.Store
	metrics    *Metrics
	logger     *zap.Logger

	locks [senderStripes]sync.Mutex
}

// New creates a Pipeline.
func New(identifier Identifier, fetcher Fetcher, analyzer Analyzer, composer Composer, sender messenger.Sender, store refstore.Store, metrics *Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Pipeline{
		identifier: identifier,
		fetcher:    fetcher,
		analyzer:   analyzer,
		composer:   composer,
		sender:     sender,
		store:      store,
		metrics:    metrics,
		logger:     logger,
	}
}

// Process handles one inbound message: immediate acknowledgment, the full
// verification run, then delivery of either the answer or a translated
// error. Panics are contained per message.
func (p *Pipeline) Process(ctx context.Context, msg types.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing message",
				zap.String("sender", msg.SenderID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			p.metrics.Outcome("panic")
			p.send(ctx, msg.SenderID, msgInternal)
		}
	}()

	if err := p.sender.Send(ctx, msg.SenderID, msgProcessing); err != nil {
		p.logger.Warn("acknowledgment send failed",
			zap.String("sender", msg.SenderID), zap.Error(err))
	}

	started := time.Now()
	item, final, err := p.run(ctx, msg)
	p.metrics.Duration(time.Since(started))

	if err != nil {
		p.metrics.Outcome(outcomeOf(err))
		p.logger.Error("message processing failed",
			zap.String("sender", msg.SenderID), zap.Error(err))
		p.send(ctx, msg.SenderID, translate(err))
		return
	}

	if !p.mayRespond(ctx, msg.SenderID, item) {
		p.metrics.Outcome("suppressed")
		p.logger.Info("response suppressed by newer reference claim",
			zap.String("sender", msg.SenderID),
			zap.String("request_id", item.RequestID))
		return
	}

	if err := p.sender.Send(ctx, msg.SenderID, final); err != nil {
		p.metrics.Outcome("send_error")
		p.logger.Error("answer delivery failed",
			zap.String("sender", msg.SenderID), zap.Error(err))

		var graphErr *types.GraphAPIError
		if errors.As(err, &graphErr) && graphErr.MessageTooLong() {
			p.send(ctx, msg.SenderID, msgTooLong)
		} else {
			p.send(ctx, msg.SenderID, msgSendFailed)
		}
		return
	}

	p.metrics.Outcome("ok")
}

// Answer runs the verification stages and returns the final text without
// touching the messaging transport. Used by the site verification endpoint.
func (p *Pipeline) Answer(ctx context.Context, msg types.InboundMessage) (string, error) {
	_, final, err := p.run(ctx, msg)
	return final, err
}

func (p *Pipeline) run(ctx context.Context, msg types.InboundMessage) (*types.WorkItem, string, error) {
	item, err := p.identify(ctx, msg)
	if err != nil {
		return nil, "", err
	}

	if err := p.fetcher.Fetch(ctx, item); err != nil {
		return nil, "", err
	}

	text, sources, err := p.analyzer.Analyze(ctx, item)
	if err != nil {
		return nil, "", err
	}

	final, err := p.composer.Compose(ctx, text, sources)
	if err != nil {
		return nil, "", types.Internal(err)
	}

	return item, final, nil
}

// identify runs under the sender's stripe lock so a submission and a
// follow-up text never interleave their reference-slot reads and writes.
// Processing after identification stays concurrent.
func (p *Pipeline) identify(ctx context.Context, msg types.InboundMessage) (*types.WorkItem, error) {
	lock := p.lockFor(msg.SenderID)
	lock.Lock()
	defer lock.Unlock()

	return p.identifier.Identify(ctx, msg)
}

// mayRespond reports whether the finished item may still answer the sender.
// A non-referenced item loses that right when a follow-up text claimed it
// mid-flight; the claiming item answers instead.
func (p *Pipeline) mayRespond(ctx context.Context, senderID string, item *types.WorkItem) bool {
	if item.Referenced != nil {
		return true
	}

	state, ok, err := p.store.Get(ctx, senderID)
	if err != nil || !ok || state.Item == nil {
		return true
	}
	if state.Item.RequestID == item.RequestID && !state.MayRespond {
		return false
	}
	return true
}

func (p *Pipeline) send(ctx context.Context, senderID, text string) {
	if err := p.sender.Send(ctx, senderID, text); err != nil {
		p.logger.Error("outbound send failed",
			zap.String("sender", senderID), zap.Error(err))
	}
}

func (p *Pipeline) lockFor(senderID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(senderID))
	return &p.locks[h.Sum32()%senderStripes]
}

// translate maps pipeline errors onto the user-facing Portuguese messages.
func translate(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidLink):
		return msgInvalidLink
	case errors.Is(err, types.ErrTypeUnsupported):
		return msgUnsupported
	case errors.Is(err, types.ErrQuotaExceeded):
		return msgQuota
	default:
		return msgInternal
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidLink):
		return "invalid_link"
	case errors.Is(err, types.ErrTypeUnsupported):
		return "unsupported"
	case errors.Is(err, types.ErrQuotaExceeded):
		return "quota"
	default:
		return "internal_error"
	}
}
