package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Role values used in conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart is one atomic unit of a multi-part message payload: either a
// text fragment or a base64-encoded image. On the wire it follows the
// chat-completions content-array convention.
type ContentPart struct {
	Kind  string `json:"-"`
	Text  string `json:"-"`
	Image string `json:"-"` // base64 payload
}

const (
	PartText  = "text"
	PartImage = "image"
)

func TextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: text}
}

func ImagePart(base64Data string) ContentPart {
	return ContentPart{Kind: PartImage, Image: base64Data}
}

type wireTextPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireImagePart struct {
	Type     string       `json:"type"`
	ImageURL wireImageURL `json:"image_url"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

func (p ContentPart) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PartText:
		return json.Marshal(wireTextPart{Type: "text", Text: p.Text})
	case PartImage:
		return json.Marshal(wireImagePart{Type: "image_url", ImageURL: wireImageURL{URL: p.Image}})
	default:
		return nil, fmt.Errorf("llm: unknown content part kind %q", p.Kind)
	}
}

func (p *ContentPart) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch probe.Type {
	case "text":
		*p = TextPart(probe.Text)
		return nil
	case "image_url":
		*p = ImagePart(probe.ImageURL.URL)
		return nil
	default:
		return fmt.Errorf("llm: unknown content part type %q", probe.Type)
	}
}

// Message is one turn of the conversation. Content is either a plain string
// (system prompts, assistant replies) or a content-part array (user turns
// that may carry images).
type Message struct {
	Role    string        `json:"role"`
	Text    string        `json:"-"`
	Parts   []ContentPart `json:"-"`
	IsParts bool          `json:"-"`
}

func TextMessage(role, text string) Message {
	return Message{Role: role, Text: text}
}

func PartsMessage(role string, parts []ContentPart) Message {
	return Message{Role: role, Parts: parts, IsParts: true}
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var content []byte
	var err error
	if m.IsParts {
		content, err = json.Marshal(m.Parts)
	} else {
		content, err = json.Marshal(m.Text)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Role: m.Role, Content: content})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role = w.Role
	if len(w.Content) > 0 && w.Content[0] == '[' {
		m.IsParts = true
		m.Text = ""
		return json.Unmarshal(w.Content, &m.Parts)
	}
	m.IsParts = false
	m.Parts = nil
	return json.Unmarshal(w.Content, &m.Text)
}

// HasImage reports whether any part of the message is an image.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Kind == PartImage {
			return true
		}
	}
	return false
}

// PlainText flattens the message content for logging and history display.
func (m Message) PlainText() string {
	if !m.IsParts {
		return m.Text
	}
	out := ""
	for _, p := range m.Parts {
		if p.Kind == PartText {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// Request is one completion call: the rolling history plus the new user turn.
type Request struct {
	Model    string
	Messages []Message
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Completion is a provider's raw reply, reduced to the first choice.
type Completion struct {
	Text     string
	Usage    Usage
	Duration time.Duration
}

// Client is a single upstream completion provider.
type Client interface {
	Chat(ctx context.Context, req Request) (Completion, error)
}
