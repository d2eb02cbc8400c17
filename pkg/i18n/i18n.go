// Package i18n localizes user-facing messages (error responses, resource
// names) from Accept-Language, with message catalogs embedded per locale.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"strings"
	"sync"
)

//go:embed messages/*.json
var messagesFS embed.FS

// Supported locales. Adding one means dropping a catalog into messages/
// and listing the tag here.
const (
	LocaleEnglish = "en"
	LocaleGerman  = "de"
	DefaultLocale = LocaleEnglish
)

var supportedLocales = []string{LocaleEnglish, LocaleGerman}

type localeKey struct{}

var (
	catalogs    map[string]map[string]interface{}
	catalogOnce sync.Once
)

func loadCatalogs() {
	catalogOnce.Do(func() {
		catalogs = make(map[string]map[string]interface{}, len(supportedLocales))
		for _, locale := range supportedLocales {
			data, err := messagesFS.ReadFile("messages/" + locale + ".json")
			if err != nil {
				continue
			}
			var msgs map[string]interface{}
			if err := json.Unmarshal(data, &msgs); err != nil {
				continue
			}
			catalogs[locale] = msgs
		}
	})
}

func supported(locale string) bool {
	for _, l := range supportedLocales {
		if l == locale {
			return true
		}
	}
	return false
}

// Localizer resolves message keys against one locale's catalog.
type Localizer struct {
	locale string
}

// NewLocalizer returns a localizer, falling back to the default locale for
// tags the catalogs don't cover.
func NewLocalizer(locale string) *Localizer {
	loadCatalogs()
	if !supported(locale) {
		locale = DefaultLocale
	}
	return &Localizer{locale: locale}
}

// LocalizerFromContext builds a localizer from the request's locale.
func LocalizerFromContext(ctx context.Context) *Localizer {
	return NewLocalizer(GetLocaleFromContext(ctx))
}

// T resolves a dot-notation key, substituting {param} placeholders. An
// unknown key falls back to the default locale's catalog, then to the key
// itself, so a missing translation is visible rather than blank.
func (l *Localizer) T(key string, params ...map[string]string) string {
	loadCatalogs()

	msg := lookup(key, l.locale)
	if msg == "" {
		msg = lookup(key, DefaultLocale)
	}
	if msg == "" {
		return key
	}

	if len(params) > 0 {
		for k, v := range params[0] {
			msg = strings.ReplaceAll(msg, "{"+k+"}", v)
		}
	}
	return msg
}

// GetLocale returns the localizer's locale tag.
func (l *Localizer) GetLocale() string {
	return l.locale
}

// lookup walks a dot-notation key through the nested catalog maps.
func lookup(key, locale string) string {
	node, ok := catalogs[locale]
	if !ok {
		return ""
	}

	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]interface{})
		if !ok {
			return ""
		}
		node = next
	}

	msg, _ := node[parts[len(parts)-1]].(string)
	return msg
}

// WithLocale binds the request's locale into its context.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// GetLocaleFromContext reads the bound locale, defaulting to English.
func GetLocaleFromContext(ctx context.Context) string {
	if locale, ok := ctx.Value(localeKey{}).(string); ok && locale != "" {
		return locale
	}
	return DefaultLocale
}

// ParseAcceptLanguage picks the best supported locale from an
// Accept-Language header. Matching is by language-tag prefix, so "de-DE"
// and "de-AT" both resolve to German.
func ParseAcceptLanguage(header string) string {
	if header == "" {
		return DefaultLocale
	}

	for _, part := range strings.Split(strings.ToLower(header), ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		for _, locale := range supportedLocales {
			if tag == locale || strings.HasPrefix(tag, locale+"-") {
				return locale
			}
		}
	}
	return DefaultLocale
}

// T translates with the default locale.
func T(key string, params ...map[string]string) string {
	return NewLocalizer(DefaultLocale).T(key, params...)
}

// TWithLocale translates with an explicit locale.
func TWithLocale(locale, key string, params ...map[string]string) string {
	return NewLocalizer(locale).T(key, params...)
}

// TFromContext translates with the request's locale.
func TFromContext(ctx context.Context, key string, params ...map[string]string) string {
	return LocalizerFromContext(ctx).T(key, params...)
}
