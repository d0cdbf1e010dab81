// Package embedding generates vector embeddings for document chunks and
// queries, with multi-credential failover and bounded-retry resilience
// against the OpenAI embeddings API.
package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sashabaranov/go-openai"

	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/errtax"
	"docsearch-mcp/internal/logging"
	"docsearch-mcp/internal/retry"
)

// Service generates embeddings for text. Results are L2-normalized so that
// downstream cosine similarity reduces to a dot product.
type Service interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// OpenAIService implements Service against the OpenAI embeddings API, with
// one *openai.Client per configured credential. When a call fails with
// KindInvalidCredential, the next credential is tried before the error is
// surfaced to the caller.
type OpenAIService struct {
	clients []*openai.Client
	keyIdx  int32 // atomic, advanced on credential failure
	cfg     *config.OpenAIConfig
	cache   *lru.Cache[string, []float32]
	retrier *retry.Retrier
}

// NewOpenAIService builds the embedding client from cfg.APIKeys. At least
// one key is required; callers should validate this via config.Validate
// before construction.
func NewOpenAIService(cfg *config.OpenAIConfig) (*OpenAIService, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("embedding: at least one API key is required")
	}

	clients := make([]*openai.Client, len(cfg.APIKeys))
	for i, key := range cfg.APIKeys {
		clients[i] = openai.NewClient(key)
	}

	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding: cache init: %w", err)
	}

	return &OpenAIService{
		clients: clients,
		cfg:     cfg,
		cache:   cache,
		retrier: retry.New(&retry.Config{
			MaxAttempts:     3,
			InitialDelay:    1 * time.Second,
			MaxDelay:        5 * time.Second,
			Multiplier:      2.0,
			RandomizeFactor: 0.2,
			RetryIf:         isRetryable,
		}),
	}, nil
}

func isRetryable(err error) bool {
	e := errtax.From(err)
	return e != nil && e.Kind == errtax.KindTransientUpstream
}

// Dimensions reports the embedding vector size for the configured model.
func (s *OpenAIService) Dimensions() int {
	if s.cfg.Dimensions > 0 {
		return s.cfg.Dimensions
	}
	switch s.cfg.EmbeddingModel {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-ada-002", "text-embedding-3-small":
		return 1536
	default:
		return 1536
	}
}

// GenerateEmbedding returns the L2-normalized embedding for text, consulting
// the cache first.
func (s *OpenAIService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errtax.InvalidArgument("embedding text must not be empty").WithContext(ctx)
	}

	key := s.cacheKey(text)
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	vecs, err := s.generateWithFailover(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	vec := vecs[0]
	s.cache.Add(key, vec)
	return vec, nil
}

// GenerateBatchEmbeddings returns embeddings for each text, preserving
// order, fetching only the texts not already cached.
func (s *OpenAIService) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errtax.InvalidArgument("embedding batch must not be empty").WithContext(ctx)
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if v, ok := s.cache.Get(s.cacheKey(text)); ok {
			results[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := s.generateWithFailover(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		results[idx] = vecs[j]
		s.cache.Add(s.cacheKey(missTexts[j]), vecs[j])
	}
	return results, nil
}

// generateWithFailover calls the API through the retrier, advancing to the
// next credential whenever the current one is rejected outright.
func (s *OpenAIService) generateWithFailover(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < len(s.clients); attempt++ {
		client := s.currentClient()

		var vecs [][]float32
		result := s.retrier.Do(ctx, func(ctx context.Context) error {
			v, err := s.callAPI(ctx, client, texts)
			if err != nil {
				return err
			}
			vecs = v
			return nil
		})

		if result.Err == nil {
			return vecs, nil
		}

		lastErr = result.Err
		classified := errtax.From(result.Err)
		if classified.Kind != errtax.KindInvalidCredential {
			return nil, classified.WithContext(ctx)
		}

		logging.EmbeddingLogger.WithContext(ctx).Warn("embedding credential rejected, failing over",
			"key_index", s.keyIdx)
		s.advanceKey()
	}
	return nil, errtax.From(lastErr).WithContext(ctx)
}

func (s *OpenAIService) currentClient() *openai.Client {
	idx := atomic.LoadInt32(&s.keyIdx) % int32(len(s.clients))
	return s.clients[idx]
}

func (s *OpenAIService) advanceKey() {
	atomic.AddInt32(&s.keyIdx, 1)
}

func (s *OpenAIService) callAPI(ctx context.Context, client *openai.Client, texts []string) ([][]float32, error) {
	timeout := time.Duration(s.cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(s.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errtax.Internal("embedding", fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = normalize(d.Embedding)
	}
	return out, nil
}

// classifyAPIError maps an OpenAI SDK error onto the error taxonomy. The SDK
// surfaces an *openai.APIError for HTTP-level failures with the status code
// attached; anything else (network, context deadline) is transient.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if ok := asAPIError(err, &apiErr); ok {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return errtax.InvalidCredential("embedding", apiErr.Message)
		case 404:
			return errtax.NotFound("embedding model")
		case 400:
			return errtax.InvalidArgument(apiErr.Message)
		default:
			return errtax.TransientUpstream("embedding", err)
		}
	}
	return errtax.TransientUpstream("embedding", err)
}

func asAPIError(err error, target **openai.APIError) bool {
	apiErr, ok := err.(*openai.APIError)
	if ok {
		*target = apiErr
	}
	return ok
}

func (s *OpenAIService) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(s.cfg.EmbeddingModel + "|" + text))
	return fmt.Sprintf("%x", sum)
}

// normalize L2-normalizes a vector so cosine similarity reduces to a dot
// product in the retrieval engine.
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
