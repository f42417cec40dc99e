package normalize

// Attachment is the canonical attachment shape. Providers send several
// variants (content_type vs type, filename vs name) and sometimes a single
// object instead of a list.
type Attachment struct {
	ID           string
	MimeType     string
	Filename     string
	URL          string
	Size         int64
	ThumbnailURL string
	Raw          map[string]any
}

// attachments extracts and coerces the attachment field. A single
// attachment object becomes a one-element list.
func attachments(raw map[string]any) []Attachment {
	v, ok := raw["attachments"]
	if !ok || v == nil {
		v, ok = raw["attachment"]
		if !ok || v == nil {
			return nil
		}
	}

	var items []any
	switch tv := v.(type) {
	case []any:
		items = tv
	case map[string]any:
		items = []any{tv}
	default:
		return nil
	}

	var out []Attachment
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Attachment{
			ID:           str(m, "id", "attachment_id"),
			MimeType:     str(m, "content_type", "type", "mime_type"),
			Filename:     str(m, "filename", "name", "file_name"),
			URL:          str(m, "url", "download_url"),
			Size:         int64(integer(m, "size", "file_size")),
			ThumbnailURL: str(m, "thumbnail_url", "thumbnail"),
			Raw:          m,
		})
	}
	return out
}
