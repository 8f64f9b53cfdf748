package messaging

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
)

// DefaultScheme is the internal URL scheme intercepted from the rendered
// message surface.
const DefaultScheme = "inapp"

// Hosts on an internal URL that also dismiss the message.
const (
	hostDismiss = "dismiss"
	hostCancel  = "cancel"
)

// URLInterceptor handles navigation requests coming out of a rendered
// message. Recognized internal URLs carry optional interaction, link and js
// query parameters, processed in one pass; a dismiss or cancel host then
// dismisses the message.
type URLInterceptor struct {
	scheme     string
	openLink   func(url string) error
	evaluateJS func(script string) error
	logger     *slog.Logger
}

// NewURLInterceptor creates an interceptor for scheme. openLink and
// evaluateJS are host capabilities; nil disables the respective parameter.
func NewURLInterceptor(scheme string, openLink func(string) error, evaluateJS func(string) error, logger *slog.Logger) *URLInterceptor {
	if scheme == "" {
		scheme = DefaultScheme
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &URLInterceptor{
		scheme:     scheme,
		openLink:   openLink,
		evaluateJS: evaluateJS,
		logger:     logger.With("component", "messaging.URLInterceptor"),
	}
}

// HandleURL processes one navigation request for msg. Returns false when the
// URL is not on the internal scheme, so the host falls through to default
// link handling. Internal URLs always return true, including malformed ones,
// which are logged and otherwise ignored.
func (i *URLInterceptor) HandleURL(ctx context.Context, rawURL string, msg *Message) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		if !strings.HasPrefix(rawURL, i.scheme+"://") {
			return false
		}
		// Broken internal links are reported handled so they never
		// escape to the default OS link handler.
		i.logger.Warn("malformed internal url", "url", rawURL, "error", err)
		return true
	}
	if parsed.Scheme != i.scheme {
		return false
	}

	query := parsed.Query()

	if interaction := query.Get("interaction"); interaction != "" {
		if err := msg.Track(ctx, interaction); err != nil {
			i.logger.Warn("interaction tracking failed",
				"interaction", interaction, "error", err)
		}
	}

	if link := query.Get("link"); link != "" && i.openLink != nil {
		if err := i.openLink(link); err != nil {
			i.logger.Warn("link open failed", "link", link, "error", err)
		}
	}

	if script := query.Get("js"); script != "" && i.evaluateJS != nil {
		if err := i.evaluateJS(script); err != nil {
			i.logger.Warn("script evaluation failed", "error", err)
		}
	}

	if parsed.Host == hostDismiss || parsed.Host == hostCancel {
		if err := msg.Dismiss(ctx); err != nil {
			i.logger.Warn("dismiss failed", "error", err)
		}
	}

	return true
}
