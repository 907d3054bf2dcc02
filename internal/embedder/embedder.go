// Package embedder calls an external embedding model to produce
// fixed-dimension, cosine-comparable vectors for source/target text.
package embedder

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/config"
)

// Mode selects the embedder's task tuning; both modes produce vectors
// in the same comparable space.
type Mode string

const (
	ModeQuery    Mode = "query"
	ModeDocument Mode = "document"
)

// Embedder is the contract the pipeline and the admin embedding
// backfill depend on.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// HTTPEmbedder calls a single external HTTP endpoint that accepts
// {mode, inputs: []string} and returns {embeddings: [][]float32}.
type HTTPEmbedder struct {
	baseURL string
	apiKey  string
	dim     int
	client  *http.Client
}

func New(cfg config.EmbedderConfig) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		dim:     cfg.Dim,
		client:  buildHTTPClient(cfg),
	}
}

func buildHTTPClient(cfg config.EmbedderConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	client := &http.Client{Transport: transport, Timeout: cfg.Timeout}
	if cfg.APIKey != "" {
		client.Transport = &bearerTokenTransport{base: client.Transport, token: cfg.APIKey}
	}
	return client
}

type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

type embedRequest struct {
	Mode   Mode     `json:"mode"`
	Inputs []string `json:"inputs"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *HTTPEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, ModeQuery, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *HTTPEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, ModeDocument, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *HTTPEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, ModeDocument, texts)
}

// embed performs the call; the pipeline treats rate-limit rejects,
// network timeouts and malformed responses all as a single "Embed
// failure" kind, so every failure path here returns
// apperr.KindUpstreamUnavailable.
func (e *HTTPEmbedder) embed(ctx context.Context, mode Mode, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Mode: mode, Inputs: texts})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "embed failure: encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "embed failure: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "embed failure: network", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, fmt.Sprintf("embed failure: status %d", resp.StatusCode), nil)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "embed failure: malformed response", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "embed failure: malformed response shape", nil)
	}
	for _, v := range parsed.Embeddings {
		if len(v) != e.dim {
			return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "embed failure: unexpected dimension", nil)
		}
	}
	return parsed.Embeddings, nil
}
