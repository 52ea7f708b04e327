package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hobbyme/hobbyme/matching"
)

type stubStore struct {
	viewer   *matching.Profile
	profiles []matching.Profile
}

func (s stubStore) FetchProfile(context.Context, string) (*matching.Profile, error) {
	return s.viewer, nil
}

func (s stubStore) FetchProfilesWithHobbies(context.Context) ([]matching.Profile, error) {
	return s.profiles, nil
}

type stubRanker struct {
	matches  []matching.SuggestedMatch
	err      error
	category matching.Category
}

func (r *stubRanker) RankSuggestions(_ context.Context, _ string, c matching.Category, _ float64) ([]matching.SuggestedMatch, error) {
	r.category = c
	return r.matches, r.err
}

func dashboardFixture() stubStore {
	liverpool := &matching.Coordinates{Latitude: 53.4084, Longitude: -2.9916}
	return stubStore{
		viewer: &matching.Profile{ID: "viewer", Coordinates: liverpool},
		profiles: []matching.Profile{
			{
				ID: "a", Username: "ann", FullName: "Ann Aho", Location: "Liverpool",
				Coordinates: &matching.Coordinates{Latitude: 53.41, Longitude: -2.98},
				Hobbies: []matching.HobbyRef{
					{Name: "Chess", Category: "indoor"},
					{Name: "Hiking", Category: "outdoor"},
				},
			},
			{
				ID: "b", Username: "ben", FullName: "Ben Laine", Location: "London",
				Coordinates: &matching.Coordinates{Latitude: 51.5074, Longitude: -0.1278},
				Hobbies: []matching.HobbyRef{{Name: "Hiking", Category: "Outdoor"}},
			},
		},
	}
}

func getDashboard(t *testing.T, svc *matching.Service, query string) *httptest.ResponseRecorder {
	t.Helper()
	tok, err := issueToken(uuid.NewString())
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	dashboardHandler(svc)(rec, authed(http.MethodGet, "/dashboard"+query, nil, tok))
	return rec
}

func TestDashboardHandler(t *testing.T) {
	ranker := &stubRanker{matches: []matching.SuggestedMatch{}}
	svc := matching.NewService(dashboardFixture(), ranker)

	t.Run("defaults to indoor", func(t *testing.T) {
		rec := getDashboard(t, svc, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		d := decodeBody[matching.Dashboard](t, rec)
		assert.Equal(t, matching.Indoor, d.Category)
		require.Len(t, d.Groups, 1)
		assert.Equal(t, "Chess", d.Groups[0].Key)
		assert.True(t, d.ViewerLocated)
		assert.Equal(t, matching.Indoor, ranker.category)
	})

	t.Run("outdoor keeps only nearby profiles", func(t *testing.T) {
		rec := getDashboard(t, svc, "?category=OUTDOOR")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		d := decodeBody[matching.Dashboard](t, rec)
		require.Len(t, d.Groups, 1)
		assert.Equal(t, "Liverpool", d.Groups[0].Key)
		require.Len(t, d.Groups[0].Profiles, 1)
		assert.Equal(t, "a", d.Groups[0].Profiles[0].ID)
	})

	t.Run("search term", func(t *testing.T) {
		rec := getDashboard(t, svc, "?category=indoor&q=laine")
		require.Equal(t, http.StatusOK, rec.Code)
		d := decodeBody[matching.Dashboard](t, rec)
		assert.Empty(t, d.Groups)
	})

	t.Run("hides contact details", func(t *testing.T) {
		fixture := dashboardFixture()
		fixture.profiles[0].Email = "ann@example.com"
		fixture.profiles[0].Phone = "0712345678"
		rec := getDashboard(t, matching.NewService(fixture, &stubRanker{}), "?category=indoor")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var raw struct {
			Groups []struct {
				Profiles []map[string]any `json:"profiles"`
			} `json:"groups"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
		require.Len(t, raw.Groups, 1)
		require.Len(t, raw.Groups[0].Profiles, 1)
		assert.NotContains(t, raw.Groups[0].Profiles[0], "email")
		assert.NotContains(t, raw.Groups[0].Profiles[0], "phone")
		assert.NotContains(t, rec.Body.String(), "ann@example.com")
	})

	t.Run("invalid category", func(t *testing.T) {
		rec := getDashboard(t, svc, "?category=underwater")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"error":"invalid_category"}`, rec.Body.String())
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		dashboardHandler(svc)(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("ranker failure", func(t *testing.T) {
		failing := matching.NewService(dashboardFixture(), &stubRanker{err: errors.New("rpc down")})
		rec := getDashboard(t, failing, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"dashboard_error"}`, rec.Body.String())
	})
}

func TestSuggestionsHandler(t *testing.T) {
	d := 1.5
	ranker := &stubRanker{matches: []matching.SuggestedMatch{
		{Profile: matching.Profile{ID: "a", Username: "ann"}, SimilarityScore: 0.5, Distance: &d},
	}}
	svc := matching.NewService(dashboardFixture(), ranker)

	tok, err := issueToken(uuid.NewString())
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	suggestionsHandler(svc)(rec, authed(http.MethodGet, "/suggestions?category=outdoor", nil, tok))

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[[]matching.SuggestedMatch](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "ann", got[0].Username)
	assert.InDelta(t, 0.5, got[0].SimilarityScore, 1e-9)
	assert.Equal(t, matching.Outdoor, ranker.category)
}
