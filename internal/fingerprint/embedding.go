package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync/atomic"
	"time"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	embedPath           = "/embed/image"
	maxErrorBody        = 512
)

// ErrModelMismatch is returned when the server reports a model other than the
// one the client was configured for. Cached vectors are keyed by model name,
// so mixing them would compare vectors from different spaces.
var ErrModelMismatch = errors.New("embedding model mismatch")

// StatusError is a non-200 reply from the embedding server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embedding server returned status %d: %s", e.Code, e.Body)
}

// Client turns image bytes into feature vectors via the embedding server.
// It is safe for concurrent use. Every vector it returns has the same
// dimension as the first one it saw.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	dim     atomic.Int64
}

// NewClient creates a client for baseURL. A non-empty model makes the client
// reject replies produced by a different model.
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Embedding is a feature vector plus what the server said about it.
type Embedding struct {
	Vector     []float32 `json:"embedding"`
	Model      string    `json:"model"`
	Pretrained string    `json:"pretrained"`
	Dim        int       `json:"dim"`
}

// ComputeEmbedding returns the feature vector for one encoded image.
func (c *Client) ComputeEmbedding(ctx context.Context, imageData []byte) ([]float32, error) {
	emb, err := c.Embed(ctx, imageData)
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

// Embed uploads the image and validates the returned vector.
func (c *Client) Embed(ctx context.Context, imageData []byte) (*Embedding, error) {
	if len(imageData) == 0 {
		return nil, errors.New("empty image data")
	}

	body, contentType, err := multipartImage(imageData)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embedPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var emb Embedding
	if err := json.NewDecoder(resp.Body).Decode(&emb); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if err := c.check(&emb); err != nil {
		return nil, err
	}
	return &emb, nil
}

func (c *Client) check(emb *Embedding) error {
	if len(emb.Vector) == 0 {
		return errors.New("empty embedding returned")
	}
	if c.model != "" && emb.Model != "" && emb.Model != c.model {
		return fmt.Errorf("%w: server uses %q, configured %q", ErrModelMismatch, emb.Model, c.model)
	}
	emb.Dim = len(emb.Vector)

	// First reply pins the dimension for the client's lifetime.
	want := int64(emb.Dim)
	if c.dim.CompareAndSwap(0, want) {
		return nil
	}
	if got := c.dim.Load(); got != want {
		return fmt.Errorf("embedding dimension changed from %d to %d", got, want)
	}
	return nil
}

// Dim reports the pinned vector dimension, or 0 before the first success.
func (c *Client) Dim() int {
	return int(c.dim.Load())
}

func multipartImage(imageData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	h.Set("Content-Type", http.DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, "", fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
