package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hobbyme/hobbyme/matching"
)

type stubGeocoder struct {
	results map[string]matching.Coordinates
	calls   []string
}

func (g *stubGeocoder) Geocode(_ context.Context, address string) (matching.Coordinates, bool) {
	g.calls = append(g.calls, address)
	c, ok := g.results[address]
	return c, ok
}

func ptr[T any](v T) *T { return &v }

func TestProfilePatchValidate(t *testing.T) {
	tests := []struct {
		name  string
		patch profilePatch
		code  string
	}{
		{"empty patch", profilePatch{}, ""},
		{"blank username", profilePatch{Username: ptr("   ")}, "invalid_username"},
		{"bad email", profilePatch{Email: ptr("not-an-email")}, "invalid_email"},
		{"cleared email", profilePatch{Email: ptr("")}, ""},
		{"latitude without longitude", profilePatch{Latitude: ptr(53.4)}, "invalid_coordinates"},
		{"latitude out of range", profilePatch{Latitude: ptr(91.0), Longitude: ptr(0.0)}, "invalid_coordinates"},
		{"longitude out of range", profilePatch{Latitude: ptr(0.0), Longitude: ptr(-181.0)}, "invalid_coordinates"},
		{"valid", profilePatch{Username: ptr(" ann "), Latitude: ptr(53.4), Longitude: ptr(-2.99)}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.patch.validate())
		})
	}

	p := profilePatch{Username: ptr("  ann  "), Location: ptr(" Liverpool ")}
	require.Empty(t, p.validate())
	assert.Equal(t, "ann", *p.Username)
	assert.Equal(t, "Liverpool", *p.Location)
}

func TestResolveCoordinates(t *testing.T) {
	liverpool := matching.Coordinates{Latitude: 53.4084, Longitude: -2.9916}
	current := matching.Profile{Location: "Leeds", Coordinates: &matching.Coordinates{Latitude: 53.8, Longitude: -1.55}}
	ctx := context.Background()

	t.Run("explicit coordinates win", func(t *testing.T) {
		geo := &stubGeocoder{}
		p := profilePatch{Location: ptr("Liverpool"), Latitude: ptr(1.0), Longitude: ptr(2.0)}
		c, change := p.resolveCoordinates(ctx, geo, current)
		assert.True(t, change)
		assert.Equal(t, &matching.Coordinates{Latitude: 1, Longitude: 2}, c)
		assert.Empty(t, geo.calls)
	})

	t.Run("no location change keeps coordinates", func(t *testing.T) {
		geo := &stubGeocoder{}
		for _, p := range []profilePatch{{}, {Location: ptr("Leeds")}} {
			c, change := p.resolveCoordinates(ctx, geo, current)
			assert.False(t, change)
			assert.Nil(t, c)
		}
		assert.Empty(t, geo.calls)
	})

	t.Run("new location is geocoded", func(t *testing.T) {
		geo := &stubGeocoder{results: map[string]matching.Coordinates{"Liverpool": liverpool}}
		p := profilePatch{Location: ptr("Liverpool")}
		c, change := p.resolveCoordinates(ctx, geo, current)
		assert.True(t, change)
		assert.Equal(t, &liverpool, c)
		assert.Equal(t, []string{"Liverpool"}, geo.calls)
	})

	t.Run("geocode miss clears coordinates", func(t *testing.T) {
		geo := &stubGeocoder{}
		p := profilePatch{Location: ptr("Atlantis")}
		c, change := p.resolveCoordinates(ctx, geo, current)
		assert.True(t, change)
		assert.Nil(t, c)
	})

	t.Run("cleared location clears coordinates", func(t *testing.T) {
		geo := &stubGeocoder{}
		p := profilePatch{Location: ptr("")}
		c, change := p.resolveCoordinates(ctx, geo, current)
		assert.True(t, change)
		assert.Nil(t, c)
		assert.Empty(t, geo.calls)
	})

	t.Run("no geocoder", func(t *testing.T) {
		p := profilePatch{Location: ptr("Liverpool")}
		c, change := p.resolveCoordinates(ctx, nil, current)
		assert.True(t, change)
		assert.Nil(t, c)
	})
}

func TestMeProfile(t *testing.T) {
	u := createTestUser(t, "profile")
	store := newPGStore(db)
	geo := &stubGeocoder{results: map[string]matching.Coordinates{
		"Liverpool, UK": {Latitude: 53.4084, Longitude: -2.9916},
	}}
	h := meProfileHandler(db, store, geo, nil)

	t.Run("get", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h(rec, authed(http.MethodGet, "/me/profile", nil, u.Token))
		require.Equal(t, http.StatusOK, rec.Code)
		p := decodeBody[matching.Profile](t, rec)
		assert.Equal(t, u.ID, p.ID)
		assert.Equal(t, u.Username, p.Username)
		assert.Nil(t, p.Coordinates)
		assert.Empty(t, p.Hobbies)
	})

	t.Run("patch geocodes location", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"bio": "Weekend hiker", "location": "Liverpool, UK"})
		rec := httptest.NewRecorder()
		h(rec, authed(http.MethodPatch, "/me/profile", body, u.Token))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		p := decodeBody[matching.Profile](t, rec)
		assert.Equal(t, "Weekend hiker", p.Bio)
		assert.Equal(t, "Liverpool, UK", p.Location)
		require.NotNil(t, p.Coordinates)
		assert.InDelta(t, 53.4084, p.Coordinates.Latitude, 1e-9)
	})

	t.Run("patch to unknown place clears coordinates", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"location": "Nowhere Special"})
		rec := httptest.NewRecorder()
		h(rec, authed(http.MethodPatch, "/me/profile", body, u.Token))
		require.Equal(t, http.StatusOK, rec.Code)
		p := decodeBody[matching.Profile](t, rec)
		assert.Equal(t, "Nowhere Special", p.Location)
		assert.Nil(t, p.Coordinates)
	})

	t.Run("username taken", func(t *testing.T) {
		other := createTestUser(t, "profile_other")
		body, _ := json.Marshal(map[string]any{"username": other.Username})
		rec := httptest.NewRecorder()
		h(rec, authed(http.MethodPatch, "/me/profile", body, u.Token))
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.JSONEq(t, `{"error":"username_taken"}`, rec.Body.String())
	})

	t.Run("invalid coordinates", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"latitude": 120, "longitude": 0})
		rec := httptest.NewRecorder()
		h(rec, authed(http.MethodPatch, "/me/profile", body, u.Token))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUsersHandlerHidesContactDetails(t *testing.T) {
	viewer := createTestUser(t, "viewer")
	target := createTestUser(t, "target")
	h := usersHandler(db, newPGStore(db))

	rec := httptest.NewRecorder()
	h(rec, authed(http.MethodGet, "/users/"+target.ID, nil, viewer.Token))
	require.Equal(t, http.StatusOK, rec.Code)
	var other map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &other))
	assert.Equal(t, target.Username, other["username"])
	assert.NotContains(t, other, "email")
	assert.Contains(t, other, "is_online")

	rec = httptest.NewRecorder()
	h(rec, authed(http.MethodGet, "/users/"+target.ID, nil, target.Token))
	require.Equal(t, http.StatusOK, rec.Code)
	var self map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &self))
	assert.Equal(t, target.Email, self["email"])
	assert.Equal(t, true, self["is_online"])

	rec = httptest.NewRecorder()
	h(rec, authed(http.MethodGet, "/users/"+uuid.NewString(), nil, viewer.Token))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, authed(http.MethodGet, "/users/not-a-uuid", nil, viewer.Token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminProfiles(t *testing.T) {
	admin := createTestUser(t, "admin")
	victim := createTestUser(t, "victim")
	_, err := db.Exec(`UPDATE profiles SET is_admin = true WHERE id = $1`, admin.ID)
	require.NoError(t, err)

	uploads := uploadStore{root: t.TempDir()}
	h := adminProfilesHandler(db, newPGStore(db), uploads, nil)

	rec := httptest.NewRecorder()
	h(rec, authed(http.MethodGet, "/admin/profiles", nil, victim.Token))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, authed(http.MethodGet, "/admin/profiles", nil, admin.Token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody[[]matching.Profile](t, rec))

	rec = httptest.NewRecorder()
	h(rec, authed(http.MethodDelete, "/admin/profiles/"+admin.ID, nil, admin.Token))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, authed(http.MethodDelete, "/admin/profiles/"+victim.ID, nil, admin.Token))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h(rec, authed(http.MethodDelete, "/admin/profiles/"+victim.ID, nil, admin.Token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
