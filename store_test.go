package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hobbyme/hobbyme/matching"
)

// createTestHobby adds a catalogue entry no other test data uses.
func createTestHobby(t *testing.T, category matching.Category) string {
	t.Helper()
	var id string
	name := "test-hobby-" + uuid.NewString()[:8]
	require.NoError(t, db.QueryRow(
		`INSERT INTO hobbies (name, category) VALUES ($1, $2) RETURNING id`, name, string(category),
	).Scan(&id))
	t.Cleanup(func() { _, _ = db.Exec(`DELETE FROM hobbies WHERE id = $1`, id) })
	return id
}

func join(t *testing.T, userID string, hobbyIDs ...string) {
	t.Helper()
	ms := make([]membership, len(hobbyIDs))
	for i, id := range hobbyIDs {
		ms[i] = membership{HobbyID: id, SkillLevel: matching.Intermediate}
	}
	require.NoError(t, replaceMemberships(context.Background(), db, userID, ms))
}

func suggestionIDs(ms []matching.SuggestedMatch) []string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}

func TestRankSuggestionsIndoor(t *testing.T) {
	requireDB(t)
	h1 := createTestHobby(t, matching.Indoor)
	h2 := createTestHobby(t, matching.Indoor)
	h3 := createTestHobby(t, matching.Indoor)

	viewer := createTestUser(t, "rank_viewer")
	same := createTestUser(t, "rank_same")
	partial := createTestUser(t, "rank_partial")
	disjoint := createTestUser(t, "rank_disjoint")
	join(t, viewer.ID, h1, h2)
	join(t, same.ID, h1, h2)
	join(t, partial.ID, h1, h3)
	join(t, disjoint.ID, h3)

	got, err := newPGStore(db).RankSuggestions(context.Background(), viewer.ID, matching.Indoor, 50)
	require.NoError(t, err)
	require.Equal(t, []string{same.ID, partial.ID}, suggestionIDs(got))

	assert.InDelta(t, 1.0, got[0].SimilarityScore, 1e-9)
	assert.InDelta(t, 1.0/3.0, got[1].SimilarityScore, 1e-9)
	assert.Nil(t, got[0].Distance, "unlocated users have no distance")
	require.Len(t, got[1].SharedHobbies, 1)
	assert.Equal(t, h1, got[1].SharedHobbies[0].ID)
	assert.Equal(t, matching.Intermediate, got[1].SharedHobbies[0].SkillLevel)
}

func TestRankSuggestionsOutdoor(t *testing.T) {
	requireDB(t)
	o1 := createTestHobby(t, matching.Outdoor)

	viewer := createTestUser(t, "out_viewer")
	near := createTestUser(t, "out_near")
	far := createTestUser(t, "out_far")
	unlocated := createTestUser(t, "out_unlocated")
	for _, u := range []testUser{viewer, near, far, unlocated} {
		join(t, u.ID, o1)
	}
	setLocation(t, viewer.ID, "Liverpool", 53.4084, -2.9916)
	setLocation(t, near.ID, "Birkenhead", 53.3934, -3.0148)
	setLocation(t, far.ID, "London", 51.5074, -0.1278)

	got, err := newPGStore(db).RankSuggestions(context.Background(), viewer.ID, matching.Outdoor, 50)
	require.NoError(t, err)
	require.Equal(t, []string{near.ID}, suggestionIDs(got))
	require.NotNil(t, got[0].Distance)
	want := matching.Distance(matching.Coordinates{Latitude: 53.4084, Longitude: -2.9916}, matching.Coordinates{Latitude: 53.3934, Longitude: -3.0148})
	assert.InDelta(t, want, *got[0].Distance, 0.01)
	require.NotNil(t, got[0].Coordinates)
	assert.Equal(t, "Birkenhead", got[0].Location)
}

func TestRankSuggestionsMalformedViewer(t *testing.T) {
	got, err := newPGStore(db).RankSuggestions(context.Background(), "not-a-uuid", matching.Indoor, 50)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchProfiles(t *testing.T) {
	requireDB(t)
	h := createTestHobby(t, matching.Indoor)
	first := createTestUser(t, "fetch_first")
	second := createTestUser(t, "fetch_second")
	join(t, first.ID, h, hobbyIDByName(t, "Chess"))
	setLocation(t, first.ID, "Liverpool", 53.4084, -2.9916)

	store := newPGStore(db)
	ctx := context.Background()

	p, err := store.FetchProfile(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, first.Username, p.Username)
	assert.Len(t, p.Hobbies, 2)
	require.NotNil(t, p.Coordinates)
	assert.InDelta(t, 53.4084, p.Coordinates.Latitude, 1e-9)

	missing, err := store.FetchProfile(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := store.FetchProfilesWithHobbies(ctx)
	require.NoError(t, err)
	pos := map[string]int{}
	for i, p := range all {
		pos[p.ID] = i
	}
	require.Contains(t, pos, first.ID)
	require.Contains(t, pos, second.ID)
	assert.Less(t, pos[first.ID], pos[second.ID], "registration order")
	assert.Empty(t, all[pos[second.ID]].Hobbies)
	assert.NotNil(t, all[pos[second.ID]].Hobbies)
}
