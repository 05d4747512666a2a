package narration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"deck-updater/pkg/httpclient"
)

// AudioStore persists synthesized audio and returns its locator.
type AudioStore interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

var (
	ErrEmptyText  = errors.New("slide text is empty")
	ErrEmptyAudio = errors.New("speech service returned no audio")
)

// HTTPSynthesizer calls a text-to-speech HTTP service and stores the returned
// audio under a fresh name.
type HTTPSynthesizer struct {
	client   *httpclient.HTTPClient
	endpoint string
	voice    string
	store    AudioStore
}

// NewHTTPSynthesizer creates a synthesizer posting to endpoint.
func NewHTTPSynthesizer(endpoint, voice string, store AudioStore) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		client:   httpclient.NewClient(httpclient.BotClient),
		endpoint: endpoint,
		voice:    voice,
		store:    store,
	}
}

type speechRequest struct {
	Text         string `json:"text"`
	Voice        string `json:"voice"`
	OutputFormat string `json:"outputFormat"`
}

// Synthesize requests mp3 narration for text and uploads it.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if s.store == nil {
		return "", errors.New("audio store is not set")
	}

	resp, err := s.client.PostJSON(ctx, s.endpoint, speechRequest{
		Text:         text,
		Voice:        s.voice,
		OutputFormat: "mp3",
	})
	if err != nil {
		return "", fmt.Errorf("request speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read speech response: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	name := uuid.New().String() + ".mp3"
	locator, err := s.store.Upload(ctx, name, data, contentType)
	if err != nil {
		return "", fmt.Errorf("store audio %s: %w", name, err)
	}
	return locator, nil
}
