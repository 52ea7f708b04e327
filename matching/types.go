// Package matching groups and ranks HobbyMe profiles by shared hobbies and
// geographic proximity. It owns no I/O: profiles, suggestions and coordinates
// come from collaborators behind the ProfileStore and Ranker interfaces.
package matching

import (
	"fmt"
	"strings"
)

// Category classifies a hobby. Comparison is always case-insensitive.
type Category string

const (
	Indoor  Category = "indoor"
	Outdoor Category = "outdoor"
)

// ParseCategory normalises s into one of the operative categories.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Indoor):
		return Indoor, nil
	case string(Outdoor):
		return Outdoor, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Matches reports whether a raw category label from the store belongs to c.
func (c Category) Matches(label string) bool {
	return strings.EqualFold(string(c), label)
}

// SkillLevel of a hobby membership.
type SkillLevel string

const (
	Beginner     SkillLevel = "beginner"
	Intermediate SkillLevel = "intermediate"
	Advanced     SkillLevel = "advanced"
)

// ParseSkillLevel accepts the three levels case-insensitively; empty means beginner.
func ParseSkillLevel(s string) (SkillLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Beginner):
		return Beginner, nil
	case string(Intermediate):
		return Intermediate, nil
	case string(Advanced):
		return Advanced, nil
	}
	return "", fmt.Errorf("unknown skill level %q", s)
}

// Coordinates in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both values are inside the WGS84 ranges.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// HobbyRef is a resolved membership: the hobby plus the holder's skill level.
type HobbyRef struct {
	ID         string     `json:"id,omitempty"`
	Name       string     `json:"name"`
	Category   string     `json:"category"`
	SkillLevel SkillLevel `json:"skill_level,omitempty"`
}

// Profile is a registered person with memberships resolved.
// Coordinates is nil until the location label has been geocoded, so a profile
// is either fully located or not located at all.
type Profile struct {
	ID          string       `json:"id"`
	Username    string       `json:"username"`
	FullName    string       `json:"full_name"`
	Bio         string       `json:"bio"`
	AvatarURL   string       `json:"avatar_url,omitempty"`
	Email       string       `json:"email,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Location    string       `json:"location"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	IsAdmin     bool         `json:"is_admin"`
	Hobbies     []HobbyRef   `json:"hobbies"`
}

// WithoutContact returns a copy with email and phone cleared, fit to show
// to other users.
func (p Profile) WithoutContact() Profile {
	p.Email, p.Phone = "", ""
	return p
}

// Located reports whether the profile carries coordinates.
func (p Profile) Located() bool {
	return p.Coordinates != nil
}

// SuggestedMatch is a profile pre-scored by the ranking collaborator.
type SuggestedMatch struct {
	Profile
	SimilarityScore float64    `json:"similarity_score"`
	Distance        *float64   `json:"distance,omitempty"`
	SharedHobbies   []HobbyRef `json:"shared_hobbies,omitempty"`
}
