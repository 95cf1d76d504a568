package notify

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"regexp"

	"github.com/odyssey-erp/odyssey-billing/internal/platform/httpx"
)

// Template sources reported on rendered messages.
const (
	SourceVariant = "variant"
	SourceStored  = "stored"
	SourceBuiltin = "builtin"
)

// Message is a rendered email ready for delivery.
type Message struct {
	Key     string `json:"templateKey"`
	Source  string `json:"templateSource"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// Resolver picks the most specific enabled template and renders it.
type Resolver struct {
	store  TemplateStore
	logger *slog.Logger
}

// NewResolver wires a Resolver. A nil store always yields built-ins.
func NewResolver(store TemplateStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Render resolves variant key, then general key, then the built-in template.
// Disabled templates and store failures fall through to the next candidate.
func (r *Resolver) Render(ctx context.Context, event Event, variant string, data TemplateData) (Message, error) {
	builtin, ok := builtinTemplates[event]
	if !ok {
		return Message{}, httpx.Validationf("unknown email event %q", event)
	}

	candidates := []struct{ key, source string }{
		{event.Key(variant), SourceVariant},
		{event.Key(""), SourceStored},
	}
	if candidates[0].key == candidates[1].key {
		candidates = candidates[1:]
	}
	for _, c := range candidates {
		tpl, found := r.lookup(ctx, c.key)
		if !found {
			continue
		}
		return Message{
			Key:     c.key,
			Source:  c.source,
			Subject: substitute(tpl.Subject, data, false),
			HTML:    substitute(tpl.HTMLContent, data, true),
		}, nil
	}
	return Message{
		Key:     event.Key(""),
		Source:  SourceBuiltin,
		Subject: substitute(builtin.Subject, data, false),
		HTML:    substitute(builtin.HTMLContent, data, true),
	}, nil
}

// Builtin returns the shipped template for event.
func Builtin(event Event) (Template, bool) {
	tpl, ok := builtinTemplates[event]
	return tpl, ok
}

func (r *Resolver) lookup(ctx context.Context, key string) (Template, bool) {
	if r.store == nil {
		return Template{}, false
	}
	tpl, err := r.store.GetTemplate(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrTemplateNotFound) {
			r.logger.Warn("email template lookup failed", slog.String("key", key), slog.Any("error", err))
		}
		return Template{}, false
	}
	if !tpl.Enabled {
		return Template{}, false
	}
	return tpl, true
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

func substitute(text string, data TemplateData, escape bool) string {
	values := data.values()
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		v, ok := values[name]
		if !ok {
			return match
		}
		if escape {
			return html.EscapeString(v)
		}
		return v
	})
}
