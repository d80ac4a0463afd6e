// Package embed classifies media URLs into playable embed references using
// an ordered provider table: each provider pairs a URL pattern with an id
// extractor and an embed builder, evaluated in priority order until the
// first match.
package embed

import (
	"regexp"
)

// Kind describes how a reference should be rendered.
type Kind string

const (
	// KindIframe references are rendered in an embedded player frame.
	KindIframe Kind = "iframe"
	// KindFile references point at a media file played directly.
	KindFile Kind = "file"
)

// Reference is a classified, embeddable media URL.
type Reference struct {
	Provider string `json:"provider"`
	MediaID  string `json:"media_id,omitempty"`
	EmbedURL string `json:"embed_url"`
	Kind     Kind   `json:"kind"`
}

// provider pairs a URL pattern with an embed builder. The first capture
// group of the pattern is the media id.
type provider struct {
	name    string
	kind    Kind
	pattern *regexp.Regexp
	build   func(raw, mediaID string) string
}

// providers are evaluated in priority order; more specific hosts come before
// the generic file-extension fallback.
var providers = []provider{
	{
		name:    "youtube",
		kind:    KindIframe,
		pattern: regexp.MustCompile(`(?:youtube\.com/(?:watch\?(?:.*&)?v=|embed/|shorts/)|youtu\.be/)([A-Za-z0-9_-]{6,})`),
		build: func(raw, mediaID string) string {
			return "https://www.youtube.com/embed/" + mediaID
		},
	},
	{
		name:    "vimeo",
		kind:    KindIframe,
		pattern: regexp.MustCompile(`vimeo\.com/(?:video/)?(\d+)`),
		build: func(raw, mediaID string) string {
			return "https://player.vimeo.com/video/" + mediaID
		},
	},
	{
		name:    "instagram",
		kind:    KindIframe,
		pattern: regexp.MustCompile(`instagram\.com/(?:p|reel|tv)/([A-Za-z0-9_-]+)`),
		build: func(raw, mediaID string) string {
			return "https://www.instagram.com/p/" + mediaID + "/embed"
		},
	},
	{
		name:    "file",
		kind:    KindFile,
		pattern: regexp.MustCompile(`(?i)\.(?:mp4|webm|ogv|ogg|mov|m4v|mp3)(?:\?.*)?$`),
		build: func(raw, mediaID string) string {
			return raw
		},
	},
}

// Classify matches raw against the provider table and returns the embed
// reference for the first matching provider.
func Classify(raw string) (*Reference, bool) {
	for _, p := range providers {
		match := p.pattern.FindStringSubmatch(raw)
		if match == nil {
			continue
		}

		mediaID := ""
		if len(match) > 1 {
			mediaID = match[1]
		}
		return &Reference{
			Provider: p.name,
			MediaID:  mediaID,
			EmbedURL: p.build(raw, mediaID),
			Kind:     p.kind,
		}, true
	}
	return nil, false
}
