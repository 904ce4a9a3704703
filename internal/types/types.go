// Package types defines the shared domain structures for the verification
// pipeline: the canonical WorkItem, the ranked source model, and the
// per-sender reference state.
package types

import "time"

// ContentKind classifies what kind of content a WorkItem carries.
type ContentKind int

const (
	// KindText is a plain text message with no media.
	KindText ContentKind = iota
	// KindImage is a single image.
	KindImage
	// KindVideo is a video.
	KindVideo
	// KindUndetermined means the item is media but image-vs-video is not
	// known yet. It must be resolved to KindImage or KindVideo before
	// analysis starts.
	KindUndetermined
)

// String returns the lowercase name of the kind for logging.
func (k ContentKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindUndetermined:
		return "undetermined"
	default:
		return "unknown"
	}
}

// IsMedia reports whether the kind refers to a downloadable asset.
func (k ContentKind) IsMedia() bool {
	return k == KindImage || k == KindVideo || k == KindUndetermined
}

// ShareKind classifies how a post reached the bot.
type ShareKind int

const (
	// NotShared is an original submission (direct link or gallery upload).
	NotShared ShareKind = iota
	// SharedViaApp means the post was forwarded through the app share sheet.
	SharedViaApp
	// SharedViaLink means the user pasted a share link that redirects to
	// the canonical post URL.
	SharedViaLink
)

// String returns the lowercase name of the share kind for logging.
func (s ShareKind) String() string {
	switch s {
	case NotShared:
		return "not_shared"
	case SharedViaApp:
		return "shared_via_app"
	case SharedViaLink:
		return "shared_via_link"
	default:
		return "unknown"
	}
}

// RemotePost is the scraping backend's view of a resolved post.
type RemotePost struct {
	Shortcode   string
	IsVideo     bool
	Caption     string
	PublishedAt time.Time
	MediaURL    string
	IsCarousel  bool
	Items       []CarouselItem
}

// CarouselItem is one sub-item of a multi-media post.
type CarouselItem struct {
	IsVideo  bool
	MediaURL string
}

// ReferencedContext links a follow-up text message back to the post it
// refers to.
type ReferencedContext struct {
	SenderID string
	RawText  string
}

// WorkItem is the canonical unit of analysis. It is created by the
// identifier, mutated by the fetcher (LocalPath, resolved kind), read by the
// analysis engine and discarded after the response is composed. The
// reference store keeps a field-copied snapshot, never the same instance.
type WorkItem struct {
	Kind        ContentKind
	Share       ShareKind
	Shortcode   string
	Remote      *RemotePost
	MediaURL    string
	LocalPath   string
	Caption     string
	PublishedAt time.Time

	// Referenced is set when this item continues a prior exchange instead
	// of introducing new content.
	Referenced *ReferencedContext

	// MayRespond is cleared on a stored item when a newer follow-up text
	// claims it, so a still-pending response for the original is dropped.
	MayRespond bool

	OriginalURL string
	RawText     string
	RequestID   string
}

// Snapshot returns a field copy safe to place in the reference store. The
// remote handle is shared intentionally: it is read-only after resolution.
func (w *WorkItem) Snapshot() *WorkItem {
	c := *w
	c.Referenced = nil
	return &c
}

// RankedSource is a cited source reduced to its final URI and bare domain
// (scheme and "www." stripped).
type RankedSource struct {
	URI    string
	Domain string
}

// SenderState is the single reference-store slot kept per sender.
type SenderState struct {
	Item       *WorkItem
	MayRespond bool
}

// InboundMessage mirrors the transport's message record as consumed by the
// identifier.
type InboundMessage struct {
	SenderID      string
	Text          string
	IsUnsupported bool
	Attachments   []Attachment
}

// Attachment is one media attachment of an inbound message.
type Attachment struct {
	Type    string // "ig_reel", "video" or an image-like subtype
	Payload AttachmentPayload
}

// AttachmentPayload carries the nested transport fields of an attachment.
type AttachmentPayload struct {
	URL         string `json:"url"`
	ReelVideoID string `json:"reel_video_id"`
	Title       string `json:"title"`
}
