package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedContent is returned when messages carry images and the
// configured LLM cannot read them.
var ErrUnsupportedContent = errors.New("image content requires an LLM that accepts images")

// Message is one conversation turn passed to Add. On the wire content is a
// string, a single content part or an array of parts. Text parts are joined
// into Content and image_url parts are collected in Images.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"-"`
}

const (
	partText  = "text"
	partImage = "image_url"
)

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*m = Message{Role: wire.Role}

	raw := bytes.TrimSpace(wire.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var parts []contentPart
	switch raw[0] {
	case '"':
		return json.Unmarshal(raw, &m.Content)
	case '{':
		var p contentPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("message content: %w", err)
		}
		parts = []contentPart{p}
	case '[':
		if err := json.Unmarshal(raw, &parts); err != nil {
			return fmt.Errorf("message content: %w", err)
		}
	default:
		return fmt.Errorf("message content must be a string, a content part or an array of parts")
	}

	var texts []string
	for i, p := range parts {
		switch p.Type {
		case partText:
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		case partImage:
			if p.ImageURL == nil || p.ImageURL.URL == "" {
				return fmt.Errorf("message content part %d: image_url.url is required", i)
			}
			m.Images = append(m.Images, p.ImageURL.URL)
		default:
			return fmt.Errorf("message content part %d: unsupported type %q", i, p.Type)
		}
	}
	m.Content = strings.Join(texts, "\n")
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Images) == 0 {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{m.Role, m.Content})
	}
	parts := make([]contentPart, 0, len(m.Images)+1)
	if m.Content != "" {
		parts = append(parts, contentPart{Type: partText, Text: m.Content})
	}
	for _, u := range m.Images {
		parts = append(parts, contentPart{Type: partImage, ImageURL: &imageURL{URL: u}})
	}
	return json.Marshal(struct {
		Role    string        `json:"role"`
		Content []contentPart `json:"content"`
	}{m.Role, parts})
}
