package core

import "strings"

// RenderText returns the envelope text with hashtags appended, the form most
// platforms expect in their message body. Hashtags are normalized to carry a
// single leading #.
func (e *ContentEnvelope) RenderText() string {
	if len(e.Hashtags) == 0 {
		return e.Text
	}
	var b strings.Builder
	b.WriteString(e.Text)
	for _, tag := range e.Hashtags {
		tag = strings.TrimLeft(strings.TrimSpace(tag), "#")
		if tag == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("#")
		b.WriteString(tag)
	}
	return b.String()
}

// HasVideo reports whether the envelope carries a video attachment
func (e *ContentEnvelope) HasVideo() bool {
	for _, m := range e.Media {
		if m.Kind == MediaKindVideo {
			return true
		}
	}
	return false
}

// Images returns the image attachments in envelope order
func (e *ContentEnvelope) Images() []Media {
	var out []Media
	for _, m := range e.Media {
		if m.Kind == MediaKindImage {
			out = append(out, m)
		}
	}
	return out
}

// FirstVideo returns the first video attachment, if any
func (e *ContentEnvelope) FirstVideo() (Media, bool) {
	for _, m := range e.Media {
		if m.Kind == MediaKindVideo {
			return m, true
		}
	}
	return Media{}, false
}
