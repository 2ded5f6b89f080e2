package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultTopK = 5
	MaxTopK     = 50
)

var (
	ErrInvalidAsset = errors.New("query: asset id and domain id are required")
	ErrEmptyContent = errors.New("query: asset has no text content")
	ErrEmptyQuery   = errors.New("query: query text is required")
)

// Asset is the indexable view of a stored asset. Only text content is embedded.
type Asset struct {
	ID       string `json:"id"`
	DomainID string `json:"domain_id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

// Match is a single search hit, best first.
type Match struct {
	AssetID string  `json:"asset_id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score"`
}

// Result is returned by Service.Query. Answer is empty without a Completer.
type Result struct {
	DomainID string  `json:"domain_id"`
	Matches  []Match `json:"matches"`
	Answer   string  `json:"answer,omitempty"`
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index stores vectors per domain and answers nearest-neighbour queries.
type Index interface {
	Upsert(ctx context.Context, domainID string, entry Entry) error
	Search(ctx context.Context, domainID string, vector []float32, k int) ([]Match, error)
}

// Completer drafts an answer to question from the matched assets.
type Completer interface {
	Complete(ctx context.Context, question string, matches []Match) (string, error)
}

// Service indexes assets and answers free-text queries against a domain.
type Service struct {
	embedder  Embedder
	index     Index
	completer Completer
	logger    *zap.Logger
}

type Option func(*Service)

func WithCompleter(c Completer) Option {
	return func(s *Service) { s.completer = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(embedder Embedder, index Index, opts ...Option) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("query: embedder is required")
	}
	if index == nil {
		return nil, errors.New("query: index is required")
	}
	s := &Service{embedder: embedder, index: index, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IndexAsset embeds the asset's content and upserts it into its domain.
func (s *Service) IndexAsset(ctx context.Context, a Asset) error {
	a.ID = strings.TrimSpace(a.ID)
	a.DomainID = strings.TrimSpace(a.DomainID)
	if a.ID == "" || a.DomainID == "" {
		return ErrInvalidAsset
	}
	if strings.TrimSpace(a.Content) == "" {
		return ErrEmptyContent
	}
	vec, err := s.embedder.Embed(ctx, a.Content)
	if err != nil {
		return fmt.Errorf("query: embed asset %s: %w", a.ID, err)
	}
	if err := s.index.Upsert(ctx, a.DomainID, Entry{
		AssetID: a.ID,
		Title:   a.Title,
		Content: a.Content,
		Vector:  vec,
	}); err != nil {
		return err
	}
	s.logger.Debug("asset indexed",
		zap.String("domain_id", a.DomainID),
		zap.String("asset_id", a.ID),
		zap.Int("dims", len(vec)),
	)
	return nil
}

// Query embeds text and returns the k closest assets in domainID.
func (s *Service) Query(ctx context.Context, domainID, text string, k int) (*Result, error) {
	domainID = strings.TrimSpace(domainID)
	text = strings.TrimSpace(text)
	if domainID == "" {
		return nil, ErrInvalidAsset
	}
	if text == "" {
		return nil, ErrEmptyQuery
	}
	switch {
	case k <= 0:
		k = DefaultTopK
	case k > MaxTopK:
		k = MaxTopK
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("query: embed query: %w", err)
	}
	matches, err := s.index.Search(ctx, domainID, vec, k)
	if err != nil {
		return nil, err
	}
	res := &Result{DomainID: domainID, Matches: matches}
	if s.completer != nil && len(matches) > 0 {
		answer, err := s.completer.Complete(ctx, text, matches)
		if err != nil {
			// Matches are still useful without a drafted answer.
			s.logger.Warn("answer generation failed", zap.String("domain_id", domainID), zap.Error(err))
		} else {
			res.Answer = answer
		}
	}
	return res, nil
}
