package domain

type ContentPart struct {
	Text  string
	Image *PageImage
}

func TextPart(s string) ContentPart {
	return ContentPart{Text: s}
}

func ImagePart(img PageImage) ContentPart {
	return ContentPart{Image: &img}
}

// ModelRequest is one system + user chat turn. Parts keep their order.
type ModelRequest struct {
	Operation   string
	Model       string
	System      string
	Parts       []ContentPart
	Temperature float64
	MaxTokens   int
}

type ModelResponse struct {
	Text  string
	Model string
	Usage *TokenUsage
}
