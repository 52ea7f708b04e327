package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hobby(name, category string) HobbyRef {
	return HobbyRef{Name: name, Category: category, SkillLevel: Beginner}
}

func coords(c Coordinates) *Coordinates {
	return &c
}

func ids(ps []Profile) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func testCandidates() []Profile {
	return []Profile{
		{
			ID: "alice", Username: "alice_s", FullName: "Alice Smith", Location: "Liverpool, UK",
			Coordinates: coords(liverpool),
			Hobbies:     []HobbyRef{hobby("Chess", "indoor"), hobby("Reading", "Indoor"), hobby("Hiking", "outdoor")},
		},
		{
			ID: "bob", Username: "bobby", FullName: "Bob Jones", Location: "Liverpool, UK",
			Coordinates: coords(Coordinates{Latitude: 53.41, Longitude: -2.98}),
			Hobbies:     []HobbyRef{hobby("Cycling", "OUTDOOR"), hobby("Running", "outdoor")},
		},
		{
			ID: "carol", Username: "carol", FullName: "Carol King", Location: "Manchester",
			Coordinates: coords(manchester),
			Hobbies:     []HobbyRef{hobby("Chess", "indoor"), hobby("Kayaking", "outdoor")},
		},
		{
			ID: "dave", Username: "dave", FullName: "Dave Lowe", Location: "London",
			Coordinates: coords(london),
			Hobbies:     []HobbyRef{hobby("Hiking", "outdoor")},
		},
		{
			ID: "erin", Username: "erin", FullName: "Erin Nolocation", Location: "Liverpool, UK",
			Hobbies: []HobbyRef{hobby("Hiking", "outdoor"), hobby("Painting", "indoor")},
		},
	}
}

func TestGroupProfilesIndoor(t *testing.T) {
	g := GroupProfiles(testCandidates(), Query{Category: Indoor})

	assert.Equal(t, []string{"Chess", "Reading", "Painting"}, g.Keys())

	chess, ok := g.Get("Chess")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "carol"}, ids(chess))

	t.Run("Multi-hobby candidate appears once per hobby bucket", func(t *testing.T) {
		reading, _ := g.Get("Reading")
		assert.Contains(t, ids(reading), "alice")
		assert.Contains(t, ids(chess), "alice")
	})

	t.Run("Indoor ignores location and proximity", func(t *testing.T) {
		painting, ok := g.Get("Painting")
		require.True(t, ok)
		assert.Equal(t, []string{"erin"}, ids(painting))
	})

	t.Run("Location filter does not apply indoors", func(t *testing.T) {
		filtered := GroupProfiles(testCandidates(), Query{Category: Indoor, LocationFilter: "Nowhere"})
		assert.Equal(t, g.Keys(), filtered.Keys())
	})
}

func TestGroupProfilesOutdoor(t *testing.T) {
	viewer := coords(liverpool)
	g := GroupProfiles(testCandidates(), Query{Category: Outdoor, Viewer: viewer})

	t.Run("Buckets keyed by location, radius enforced", func(t *testing.T) {
		assert.Equal(t, []string{"Liverpool, UK", "Manchester"}, g.Keys())
	})

	t.Run("Same location shares a bucket regardless of hobby", func(t *testing.T) {
		lpool, ok := g.Get("Liverpool, UK")
		require.True(t, ok)
		assert.Equal(t, []string{"alice", "bob"}, ids(lpool))
	})

	t.Run("Candidate appears at most once despite several outdoor hobbies", func(t *testing.T) {
		lpool, _ := g.Get("Liverpool, UK")
		count := 0
		for _, p := range lpool {
			if p.ID == "bob" {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("Unlocated candidate excluded", func(t *testing.T) {
		for _, grp := range g.Groups {
			assert.NotContains(t, ids(grp.Profiles), "erin")
		}
	})

	t.Run("No viewer coordinates yields empty grouping", func(t *testing.T) {
		empty := GroupProfiles(testCandidates(), Query{Category: Outdoor})
		assert.Equal(t, 0, empty.Len())
		assert.NotNil(t, empty.Groups)
	})

	t.Run("Location filter is exact and case-sensitive", func(t *testing.T) {
		cands := testCandidates()
		cands[2].Location = "manchester"
		filtered := GroupProfiles(cands, Query{Category: Outdoor, Viewer: viewer, LocationFilter: "Manchester"})
		assert.Equal(t, 0, filtered.Len())

		filtered = GroupProfiles(testCandidates(), Query{Category: Outdoor, Viewer: viewer, LocationFilter: "Manchester"})
		assert.Equal(t, []string{"Manchester"}, filtered.Keys())
	})

	t.Run("Custom radius", func(t *testing.T) {
		tight := GroupProfiles(testCandidates(), Query{Category: Outdoor, Viewer: viewer, RadiusMiles: 5})
		assert.Equal(t, []string{"Liverpool, UK"}, tight.Keys())
	})
}

func TestGroupProfilesSearch(t *testing.T) {
	t.Run("Case-insensitive hobby match", func(t *testing.T) {
		g := GroupProfiles(testCandidates(), Query{Category: Indoor, SearchTerm: "CHESS"})
		assert.Equal(t, []string{"Chess", "Reading"}, g.Keys())
		reading, _ := g.Get("Reading")
		assert.Equal(t, []string{"alice"}, ids(reading))
	})

	t.Run("Name without matching hobby is excluded", func(t *testing.T) {
		p := Profile{ID: "x", FullName: "Alice Smith", Username: "alice", Hobbies: []HobbyRef{hobby("Reading", "indoor")}}
		assert.False(t, MatchesSearch(p, "chess"))
		p.Hobbies = append(p.Hobbies, hobby("Speed Chess", "outdoor"))
		assert.True(t, MatchesSearch(p, "chess"))
	})

	t.Run("Full name and username", func(t *testing.T) {
		p := Profile{FullName: "Alice Smith", Username: "chessqueen"}
		assert.True(t, MatchesSearch(p, "SMITH"))
		assert.True(t, MatchesSearch(p, "Chess"))
		assert.True(t, MatchesSearch(p, ""))
		assert.False(t, MatchesSearch(p, "bob"))
	})

	t.Run("Search scans hobbies of every category", func(t *testing.T) {
		// carol matches "kayak" through an outdoor hobby but is grouped indoors.
		g := GroupProfiles(testCandidates(), Query{Category: Indoor, SearchTerm: "kayak"})
		assert.Equal(t, []string{"Chess"}, g.Keys())
		chess, _ := g.Get("Chess")
		assert.Equal(t, []string{"carol"}, ids(chess))
	})
}

func TestGroupProfilesInvariants(t *testing.T) {
	queries := []Query{
		{Category: Indoor},
		{Category: Outdoor, Viewer: coords(liverpool)},
		{Category: Outdoor, Viewer: coords(london), SearchTerm: "hik"},
		{Category: Indoor, SearchTerm: "zzz"},
	}
	for _, q := range queries {
		first := GroupProfiles(testCandidates(), q)
		second := GroupProfiles(testCandidates(), q)

		assert.Equal(t, first.Groups, second.Groups, "grouping must be deterministic")
		for _, grp := range first.Groups {
			assert.NotEmpty(t, grp.Profiles, "bucket %q is empty", grp.Key)
			seen := map[string]bool{}
			for _, p := range grp.Profiles {
				assert.False(t, seen[p.ID], "duplicate %s in %q", p.ID, grp.Key)
				seen[p.ID] = true
			}
		}
	}

	t.Run("Empty input", func(t *testing.T) {
		g := GroupProfiles(nil, Query{Category: Indoor})
		assert.Equal(t, 0, g.Len())
		_, ok := g.Get("Chess")
		assert.False(t, ok)
	})

	t.Run("Duplicate hobby rows do not duplicate a profile", func(t *testing.T) {
		p := Profile{ID: "dup", Hobbies: []HobbyRef{hobby("Chess", "indoor"), hobby("Chess", "indoor")}}
		g := GroupProfiles([]Profile{p}, Query{Category: Indoor})
		chess, _ := g.Get("Chess")
		assert.Len(t, chess, 1)
	})
}

func TestLocations(t *testing.T) {
	assert.Equal(t, []string{"Liverpool, UK", "Manchester", "London"}, Locations(testCandidates(), Outdoor))
	assert.Equal(t, []string{"Liverpool, UK", "Manchester"}, Locations(testCandidates(), Indoor))
	assert.Empty(t, Locations(nil, Indoor))
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Outdoor ")
	require.NoError(t, err)
	assert.Equal(t, Outdoor, c)

	c, err = ParseCategory("INDOOR")
	require.NoError(t, err)
	assert.Equal(t, Indoor, c)

	_, err = ParseCategory("sideways")
	assert.Error(t, err)
}

func TestParseSkillLevel(t *testing.T) {
	for in, want := range map[string]SkillLevel{"": Beginner, "Advanced": Advanced, "intermediate": Intermediate} {
		got, err := ParseSkillLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSkillLevel("expert")
	assert.Error(t, err)
}
