package proposition

// InboundType classifies decoded proposition content.
type InboundType int

const (
	// InboundUnknown is content whose consequence type is not recognized
	InboundUnknown InboundType = iota
	// InboundFeed is feed-item content
	InboundFeed
	// InboundInApp is in-app message content
	InboundInApp
)

// Consequence type strings mapped onto InboundType.
const (
	consequenceTypeFeed  = "feed"
	consequenceTypeCJM   = "cjmiam"
	consequenceTypeInApp = "inapp"
)

// String returns the string representation of the inbound type.
func (t InboundType) String() string {
	switch t {
	case InboundFeed:
		return "feed"
	case InboundInApp:
		return "inapp"
	default:
		return "unknown"
	}
}

// ParseInboundType maps a consequence type string onto an InboundType.
func ParseInboundType(s string) InboundType {
	switch s {
	case consequenceTypeFeed:
		return InboundFeed
	case consequenceTypeCJM, consequenceTypeInApp:
		return InboundInApp
	default:
		return InboundUnknown
	}
}

// Inbound is the decoded content of a proposition item: the first
// consequence's detail, normalized. Dates are Unix seconds.
type Inbound struct {
	UniqueID      string
	Type          InboundType
	Content       string
	ContentType   string
	Meta          map[string]any
	PublishedDate int64
	ExpiryDate    int64
}

// IsValid reports whether the inbound content carries usable dates. Items
// with non-positive published or expiry dates are invalid.
func (in *Inbound) IsValid() bool {
	return in != nil && in.PublishedDate > 0 && in.ExpiryDate > 0
}

// inboundFromDetail builds an Inbound from a consequence detail map.
func inboundFromDetail(id, consequenceType string, detail map[string]any) *Inbound {
	in := &Inbound{
		UniqueID: id,
		Type:     ParseInboundType(consequenceType),
	}

	// In-app consequences render from html; feed items carry content directly.
	if html, ok := detail["html"].(string); ok && html != "" {
		in.Content = html
	} else if content, ok := detail["content"].(string); ok {
		in.Content = content
	}

	if ct, ok := detail["contentType"].(string); ok {
		in.ContentType = ct
	}
	if meta, ok := detail["meta"].(map[string]any); ok {
		in.Meta = meta
	}
	if v, ok := detail["publishedDate"].(float64); ok {
		in.PublishedDate = int64(v)
	}
	if v, ok := detail["expiryDate"].(float64); ok {
		in.ExpiryDate = int64(v)
	}

	return in
}
