package artifact

import (
	"bytes"
	"fmt"
	"strings"
)

// NewRenderer returns the renderer for a configured format name.
func NewRenderer(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "markdown", "md", "":
		return Markdown{}, nil
	case "text", "txt":
		return Text{}, nil
	default:
		return nil, fmt.Errorf("unsupported artifact format: %q", format)
	}
}

// Markdown renders a heading, the body paragraphs and an italic footer.
type Markdown struct{}

func (Markdown) ContentType() string { return "text/markdown; charset=utf-8" }
func (Markdown) Extension() string   { return "md" }

func (Markdown) Render(doc Document) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", doc.Heading)
	if doc.Body != "" {
		b.WriteString(doc.Body)
		b.WriteString("\n")
	}
	if doc.Footer != "" {
		fmt.Fprintf(&b, "\n---\n\n*%s*\n", doc.Footer)
	}
	return b.Bytes(), nil
}

// Text renders plain text with an underlined heading.
type Text struct{}

func (Text) ContentType() string { return "text/plain; charset=utf-8" }
func (Text) Extension() string   { return "txt" }

func (Text) Render(doc Document) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(doc.Heading)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", len([]rune(doc.Heading))))
	b.WriteString("\n\n")
	if doc.Body != "" {
		b.WriteString(doc.Body)
		b.WriteString("\n")
	}
	if doc.Footer != "" {
		b.WriteString("\n")
		b.WriteString(doc.Footer)
		b.WriteString("\n")
	}
	return b.Bytes(), nil
}
