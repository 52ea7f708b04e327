package matching

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ProfileStore supplies profile records.
type ProfileStore interface {
	// FetchProfile returns nil, nil when no profile has the given id.
	FetchProfile(ctx context.Context, id string) (*Profile, error)
	// FetchProfilesWithHobbies returns every profile with memberships resolved.
	FetchProfilesWithHobbies(ctx context.Context) ([]Profile, error)
}

// Ranker scores candidates for a viewer. Its order is kept verbatim.
type Ranker interface {
	RankSuggestions(ctx context.Context, viewerID string, category Category, maxDistanceMiles float64) ([]SuggestedMatch, error)
}

// Service composes the collaborators with the grouping engine.
// It performs no retries; collaborator errors go back to the caller.
type Service struct {
	store  ProfileStore
	ranker Ranker
	radius float64
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRadius overrides DefaultRadiusMiles for both ranking and grouping.
func WithRadius(miles float64) Option {
	return func(s *Service) {
		if miles > 0 {
			s.radius = miles
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(store ProfileStore, ranker Ranker, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ranker: ranker,
		radius: DefaultRadiusMiles,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Radius is the proximity threshold in miles.
func (s *Service) Radius() float64 {
	return s.radius
}

// Suggestions passes the ranking collaborator's result through unchanged.
func (s *Service) Suggestions(ctx context.Context, viewerID string, c Category) ([]SuggestedMatch, error) {
	matches, err := s.ranker.RankSuggestions(ctx, viewerID, c, s.radius)
	if err != nil {
		return nil, fmt.Errorf("rank suggestions: %w", err)
	}
	if matches == nil {
		matches = []SuggestedMatch{}
	}
	return matches, nil
}

// DashboardRequest carries the viewer's filter state.
type DashboardRequest struct {
	ViewerID       string
	Category       Category
	SearchTerm     string
	LocationFilter string
}

// Dashboard is everything a dashboard screen renders for one category.
type Dashboard struct {
	Category      Category         `json:"category"`
	Groups        []Group          `json:"groups"`
	Suggestions   []SuggestedMatch `json:"suggestions"`
	Locations     []string         `json:"locations"`
	ViewerLocated bool             `json:"viewer_located"`
}

// Dashboard fetches the viewer, the candidates and the suggestions
// concurrently, then groups the candidates.
func (s *Service) Dashboard(ctx context.Context, req DashboardRequest) (*Dashboard, error) {
	var (
		viewer      *Profile
		candidates  []Profile
		suggestions []SuggestedMatch
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.store.FetchProfile(gctx, req.ViewerID)
		if err != nil {
			return fmt.Errorf("fetch viewer: %w", err)
		}
		viewer = p
		return nil
	})
	g.Go(func() error {
		ps, err := s.store.FetchProfilesWithHobbies(gctx)
		if err != nil {
			return fmt.Errorf("fetch candidates: %w", err)
		}
		candidates = ps
		return nil
	})
	g.Go(func() error {
		ms, err := s.Suggestions(gctx, req.ViewerID, req.Category)
		if err != nil {
			return err
		}
		suggestions = ms
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// other users' contact details never leave through the dashboard
	public := make([]Profile, len(candidates))
	for i, p := range candidates {
		public[i] = p.WithoutContact()
	}
	candidates = public

	var coords *Coordinates
	if viewer != nil {
		coords = viewer.Coordinates
	}
	grouping := GroupProfiles(candidates, Query{
		SearchTerm:     req.SearchTerm,
		LocationFilter: req.LocationFilter,
		Category:       req.Category,
		Viewer:         coords,
		RadiusMiles:    s.radius,
	})
	s.logger.Debug("dashboard grouped",
		"viewer", req.ViewerID,
		"category", req.Category,
		"candidates", len(candidates),
		"groups", grouping.Len(),
	)

	return &Dashboard{
		Category:      req.Category,
		Groups:        grouping.Groups,
		Suggestions:   suggestions,
		Locations:     Locations(candidates, req.Category),
		ViewerLocated: coords != nil,
	}, nil
}
