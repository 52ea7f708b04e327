package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hobbyme/hobbyme/matching"
)

// pgStore serves profiles and ranked suggestions from Postgres.
type pgStore struct {
	db *sql.DB
}

func newPGStore(db *sql.DB) *pgStore {
	return &pgStore{db: db}
}

const profileWithHobbiesQuery = `
	SELECT p.id, p.username, p.full_name, p.bio, COALESCE(p.avatar_url, ''),
	       p.email, p.phone, p.location, p.latitude, p.longitude, p.is_admin,
	       h.id, h.name, h.category, uh.skill_level
	FROM profiles p
	LEFT JOIN user_hobbies uh ON uh.user_id = p.id
	LEFT JOIN hobbies h ON h.id = uh.hobby_id`

// FetchProfile returns nil, nil for an unknown or malformed id.
func (s *pgStore) FetchProfile(ctx context.Context, id string) (*matching.Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, profileWithHobbiesQuery+`
	WHERE p.id = $1
	ORDER BY h.name`, id)
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	profiles, err := scanProfilesWithHobbies(rows)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return &profiles[0], nil
}

// FetchProfilesWithHobbies returns all profiles in registration order.
func (s *pgStore) FetchProfilesWithHobbies(ctx context.Context) ([]matching.Profile, error) {
	rows, err := s.db.QueryContext(ctx, profileWithHobbiesQuery+`
	ORDER BY p.created_at, p.id, h.name`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	return scanProfilesWithHobbies(rows)
}

// ListProfilesByUsername returns all profiles for the admin listing.
func (s *pgStore) ListProfilesByUsername(ctx context.Context) ([]matching.Profile, error) {
	rows, err := s.db.QueryContext(ctx, profileWithHobbiesQuery+`
	ORDER BY p.username, p.id, h.name`)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	return scanProfilesWithHobbies(rows)
}

// scanProfilesWithHobbies folds one row per membership into profiles.
// Rows of the same profile must be adjacent.
func scanProfilesWithHobbies(rows *sql.Rows) ([]matching.Profile, error) {
	defer rows.Close()

	profiles := []matching.Profile{}
	for rows.Next() {
		var (
			p                          matching.Profile
			lat, lng                   sql.NullFloat64
			hobbyID, hobbyName, hobCat sql.NullString
			skill                      sql.NullString
		)
		if err := rows.Scan(
			&p.ID, &p.Username, &p.FullName, &p.Bio, &p.AvatarURL,
			&p.Email, &p.Phone, &p.Location, &lat, &lng, &p.IsAdmin,
			&hobbyID, &hobbyName, &hobCat, &skill,
		); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}

		if n := len(profiles); n == 0 || profiles[n-1].ID != p.ID {
			if lat.Valid && lng.Valid {
				p.Coordinates = &matching.Coordinates{Latitude: lat.Float64, Longitude: lng.Float64}
			}
			p.Hobbies = []matching.HobbyRef{}
			profiles = append(profiles, p)
		}
		if hobbyID.Valid {
			last := &profiles[len(profiles)-1]
			last.Hobbies = append(last.Hobbies, matching.HobbyRef{
				ID:         hobbyID.String,
				Name:       hobbyName.String,
				Category:   hobCat.String,
				SkillLevel: matching.SkillLevel(skill.String),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}

// RankSuggestions calls the get_user_suggestions database function.
func (s *pgStore) RankSuggestions(ctx context.Context, viewerID string, c matching.Category, maxDistanceMiles float64) ([]matching.SuggestedMatch, error) {
	if _, err := uuid.Parse(viewerID); err != nil {
		return []matching.SuggestedMatch{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, full_name, COALESCE(avatar_url, ''), location,
		       latitude, longitude, similarity_score, distance, shared_hobbies
		FROM get_user_suggestions($1, $2, $3)`,
		viewerID, string(c), maxDistanceMiles,
	)
	if err != nil {
		return nil, fmt.Errorf("call get_user_suggestions: %w", err)
	}
	defer rows.Close()

	matches := []matching.SuggestedMatch{}
	for rows.Next() {
		var (
			m        matching.SuggestedMatch
			lat, lng sql.NullFloat64
			distance sql.NullFloat64
			shared   []byte
		)
		if err := rows.Scan(
			&m.ID, &m.Username, &m.FullName, &m.AvatarURL, &m.Location,
			&lat, &lng, &m.SimilarityScore, &distance, &shared,
		); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		if lat.Valid && lng.Valid {
			m.Coordinates = &matching.Coordinates{Latitude: lat.Float64, Longitude: lng.Float64}
		}
		if distance.Valid {
			d := distance.Float64
			m.Distance = &d
		}
		if err := json.Unmarshal(shared, &m.SharedHobbies); err != nil {
			return nil, fmt.Errorf("decode shared hobbies: %w", err)
		}
		m.Hobbies = []matching.HobbyRef{}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return matches, nil
}
