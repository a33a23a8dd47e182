package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultOpenAIURL is the OpenAI audio transcription endpoint. Any
// compatible server can be used instead.
const DefaultOpenAIURL = "https://api.openai.com/v1/audio/transcriptions"

// OpenAIConfig configures the HTTP transcription engine.
type OpenAIConfig struct {
	URL      string
	APIKey   string
	Model    string
	Language string
}

// OpenAI posts audio to an OpenAI-compatible transcription endpoint.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns an OpenAI engine. A nil client gets a default one.
func NewOpenAI(cfg OpenAIConfig, client *http.Client) *OpenAI {
	if cfg.URL == "" {
		cfg.URL = DefaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Minute}
	}
	return &OpenAI{cfg: cfg, client: client}
}

func (o *OpenAI) Name() string { return "openai:" + o.cfg.Model }

type openAIResp struct {
	Text string `json:"text"`
}

type openAIErrorResp struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe uploads the file as multipart form data and returns the text.
func (o *OpenAI) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", o.cfg.Model); err != nil {
		return "", err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	if o.cfg.Language != "" {
		if err := mw.WriteField("language", o.cfg.Language); err != nil {
			return "", err
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("openai: read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL, &body)
	if err != nil {
		return "", err
	}
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var er openAIErrorResp
		if json.Unmarshal(b, &er) == nil && er.Error.Message != "" {
			return "", fmt.Errorf("openai http %d: %s", resp.StatusCode, er.Error.Message)
		}
		return "", fmt.Errorf("openai http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var or openAIResp
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	return strings.TrimSpace(or.Text), nil
}
