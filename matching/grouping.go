package matching

import "strings"

// Query selects and buckets candidates for one dashboard view.
type Query struct {
	SearchTerm     string
	LocationFilter string // outdoor only, exact match
	Category       Category
	Viewer         *Coordinates
	RadiusMiles    float64 // zero means DefaultRadiusMiles
}

// Group is one bucket: a hobby name (indoor) or a location label (outdoor).
type Group struct {
	Key      string    `json:"key"`
	Profiles []Profile `json:"profiles"`
}

// Grouping holds buckets in the order their keys were first seen.
// Every bucket holds at least one profile and no profile twice.
type Grouping struct {
	Category Category `json:"category"`
	Groups   []Group  `json:"groups"`

	index map[string]int
}

func newGrouping(c Category) *Grouping {
	return &Grouping{Category: c, Groups: []Group{}, index: make(map[string]int)}
}

func (g *Grouping) add(key string, p Profile) {
	i, ok := g.index[key]
	if !ok {
		g.index[key] = len(g.Groups)
		g.Groups = append(g.Groups, Group{Key: key, Profiles: []Profile{p}})
		return
	}
	for _, existing := range g.Groups[i].Profiles {
		if existing.ID == p.ID {
			return
		}
	}
	g.Groups[i].Profiles = append(g.Groups[i].Profiles, p)
}

// Keys returns bucket keys in first-seen order.
func (g *Grouping) Keys() []string {
	keys := make([]string, len(g.Groups))
	for i, grp := range g.Groups {
		keys[i] = grp.Key
	}
	return keys
}

// Get returns the profiles bucketed under key.
func (g *Grouping) Get(key string) ([]Profile, bool) {
	i, ok := g.index[key]
	if !ok {
		return nil, false
	}
	return g.Groups[i].Profiles, true
}

// Len is the number of buckets.
func (g *Grouping) Len() int {
	return len(g.Groups)
}

// GroupProfiles runs a single pass over candidates in input order.
//
// The search term is matched against full name, username and hobby names of
// every category, not just q.Category. The location filter and the radius
// check apply to outdoor only. Indoor buckets are keyed by hobby name, so a
// profile can sit in several of them; outdoor buckets are keyed by the
// candidate's location label.
func GroupProfiles(candidates []Profile, q Query) *Grouping {
	radius := q.RadiusMiles
	if radius == 0 {
		radius = DefaultRadiusMiles
	}
	term := strings.ToLower(q.SearchTerm)
	out := newGrouping(q.Category)

	for _, p := range candidates {
		if !matchesSearch(p, term) {
			continue
		}
		if q.Category == Outdoor {
			if q.LocationFilter != "" && p.Location != q.LocationFilter {
				continue
			}
			if !WithinRadius(q.Viewer, p, radius) {
				continue
			}
		}

		for _, h := range p.Hobbies {
			if !q.Category.Matches(h.Category) {
				continue
			}
			if q.Category == Outdoor {
				out.add(p.Location, p)
			} else {
				out.add(h.Name, p)
			}
		}
	}
	return out
}

// MatchesSearch reports whether term is empty or a case-insensitive substring
// of p's full name, username, or any hobby name.
func MatchesSearch(p Profile, term string) bool {
	return matchesSearch(p, strings.ToLower(term))
}

func matchesSearch(p Profile, lowerTerm string) bool {
	if lowerTerm == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.FullName), lowerTerm) ||
		strings.Contains(strings.ToLower(p.Username), lowerTerm) {
		return true
	}
	for _, h := range p.Hobbies {
		if strings.Contains(strings.ToLower(h.Name), lowerTerm) {
			return true
		}
	}
	return false
}

// Locations lists the distinct non-empty location labels of candidates that
// hold at least one hobby in c, in first-seen order.
func Locations(candidates []Profile, c Category) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, p := range candidates {
		if p.Location == "" || !hasCategory(p, c) {
			continue
		}
		if _, dup := seen[p.Location]; dup {
			continue
		}
		seen[p.Location] = struct{}{}
		out = append(out, p.Location)
	}
	return out
}

func hasCategory(p Profile, c Category) bool {
	for _, h := range p.Hobbies {
		if c.Matches(h.Category) {
			return true
		}
	}
	return false
}
