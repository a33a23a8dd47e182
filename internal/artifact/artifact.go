// Package artifact builds the transcript document returned to callers.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/tier"
)

// Branding.
const (
	ProductName   = "AutoEcho"
	WatermarkText = "AutoEcho Free/Basic Tier - This document was auto-generated."
	headingPrefix = "Transcription: "
)

// Document is the structured transcript before rendering.
type Document struct {
	Heading     string    `json:"heading"`
	Body        string    `json:"body"`
	Footer      string    `json:"footer,omitempty"`
	Tier        string    `json:"tier"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Watermarked reports whether the document carries the restricted-tier footer.
func (d Document) Watermarked() bool { return d.Footer != "" }

// Artifact is a rendered document ready for delivery.
type Artifact struct {
	SourceFilename string
	Tier           string
	GeneratedAt    time.Time
	Document       Document
	Content        []byte
	ContentType    string
	Filename       string
}

// Renderer serializes a Document.
type Renderer interface {
	Render(doc Document) ([]byte, error)
	ContentType() string
	Extension() string
}

// Composer builds artifacts using the tier table for branding decisions.
type Composer struct {
	policy   *tier.Policy
	renderer Renderer
}

// NewComposer returns a Composer. A nil renderer defaults to Markdown.
func NewComposer(policy *tier.Policy, renderer Renderer) *Composer {
	if renderer == nil {
		renderer = Markdown{}
	}
	return &Composer{policy: policy, renderer: renderer}
}

// Compose builds and renders the transcript document.
func (c *Composer) Compose(text, sourceFilename, tierName string, generatedAt time.Time) (*Artifact, error) {
	entry := c.policy.LimitFor(tierName)
	source := filepath.Base(strings.ReplaceAll(sourceFilename, "\\", "/"))

	doc := Document{
		Heading:     headingPrefix + source,
		Body:        strings.TrimSpace(text),
		Tier:        entry.Name,
		GeneratedAt: generatedAt,
	}
	if entry.Watermark {
		doc.Footer = WatermarkText
	}

	content, err := c.renderer.Render(doc)
	if err != nil {
		return nil, fmt.Errorf("render %s document: %w", c.renderer.Extension(), err)
	}

	return &Artifact{
		SourceFilename: source,
		Tier:           entry.Name,
		GeneratedAt:    generatedAt,
		Document:       doc,
		Content:        content,
		ContentType:    c.renderer.ContentType(),
		Filename:       DownloadName(source, c.renderer.Extension()),
	}, nil
}

// DownloadName returns the delivered file name for a source upload.
func DownloadName(sourceFilename, ext string) string {
	base := filepath.Base(sourceFilename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		base = "audio"
	}
	return fmt.Sprintf("%s_Transcript_%s.%s", ProductName, base, ext)
}
