package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

type config struct {
	API        string
	Count      int
	Seed       int64
	Password   string
	OpDelay    time.Duration
	UserDelay  time.Duration
	RetryDelay time.Duration
	MaxRetries int
}

// Liverpool city centre; users land within roughly five miles of it.
const (
	seedLocation = "Liverpool, UK"
	centerLat    = 53.4084
	centerLon    = -2.9916
	jitterDeg    = 0.07
)

var skillLevels = []string{"beginner", "intermediate", "advanced"}

type hobby struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type seedUser struct {
	Email    string
	Password string
	Username string
	FullName string
	Phone    string
	Bio      string
}

type result struct {
	Created int
	Failed  int
}

// apiError is a non-2xx reply from the backend.
type apiError struct {
	Status int
	Code   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Code)
}

// isRateLimited reports whether a call failed because of the backend's limiter.
func isRateLimited(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) && ae.Status == http.StatusTooManyRequests {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

type seeder struct {
	cfg    config
	client *http.Client
	rng    *rand.Rand
	sleep  func(context.Context, time.Duration) error
}

func newSeeder(cfg config, client *http.Client) *seeder {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &seeder{
		cfg:    cfg,
		client: client,
		rng:    rand.New(rand.NewSource(seed)),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run creates cfg.Count users one after another. Per-user failures are
// logged and counted; only a failure to load the hobby catalogue aborts.
func (s *seeder) Run(ctx context.Context) (result, error) {
	var res result

	var hobbies []hobby
	if err := s.retryWithBackoff(ctx, func() error {
		return s.call(ctx, http.MethodGet, "/hobbies", "", nil, &hobbies)
	}); err != nil {
		return res, fmt.Errorf("load hobbies: %w", err)
	}
	if len(hobbies) == 0 {
		return res, errors.New("hobby catalogue is empty")
	}

	used := make(map[string]struct{}, s.cfg.Count)
	for i := 0; i < s.cfg.Count; i++ {
		u := s.randomUser(used)
		slog.Info("processing user", "n", i+1, "total", s.cfg.Count, "name", u.FullName)

		if err := s.createUser(ctx, u, hobbies); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			slog.Error("failed to create user", "name", u.FullName, "error", err)
			res.Failed++
		} else {
			slog.Info("created user and assigned hobbies", "name", u.FullName)
			res.Created++
		}

		if i < s.cfg.Count-1 {
			if err := s.sleep(ctx, s.cfg.UserDelay); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func (s *seeder) createUser(ctx context.Context, u seedUser, hobbies []hobby) error {
	var auth struct {
		Token string `json:"token"`
		ID    string `json:"id"`
	}
	err := s.retryWithBackoff(ctx, func() error {
		return s.call(ctx, http.MethodPost, "/register", "", map[string]string{
			"email":     u.Email,
			"password":  u.Password,
			"username":  u.Username,
			"full_name": u.FullName,
		}, &auth)
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if err := s.sleep(ctx, s.cfg.OpDelay); err != nil {
		return err
	}

	lat := centerLat + (s.rng.Float64()-0.5)*jitterDeg
	lon := centerLon + (s.rng.Float64()-0.5)*jitterDeg
	err = s.retryWithBackoff(ctx, func() error {
		return s.call(ctx, http.MethodPatch, "/me/profile", auth.Token, map[string]any{
			"email":     u.Email,
			"phone":     u.Phone,
			"bio":       u.Bio,
			"location":  seedLocation,
			"latitude":  lat,
			"longitude": lon,
		}, nil)
	})
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if err := s.sleep(ctx, s.cfg.OpDelay); err != nil {
		return err
	}

	picks := s.pickHobbies(hobbies)
	err = s.retryWithBackoff(ctx, func() error {
		return s.call(ctx, http.MethodPut, "/me/hobbies", auth.Token, map[string]any{"hobbies": picks}, nil)
	})
	if err != nil {
		return fmt.Errorf("assign hobbies: %w", err)
	}
	return s.sleep(ctx, s.cfg.OpDelay)
}

// retryWithBackoff retries op only while it is rate limited, doubling the
// wait each time, up to cfg.MaxRetries retries.
func (s *seeder) retryWithBackoff(ctx context.Context, op func() error) error {
	delay := s.cfg.RetryDelay
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil || !isRateLimited(err) || attempt >= s.cfg.MaxRetries {
			return err
		}
		slog.Warn("rate limit hit, backing off", "wait", delay, "retry", attempt+1, "max_retries", s.cfg.MaxRetries)
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
}

type hobbyPick struct {
	HobbyID    string `json:"hobby_id"`
	SkillLevel string `json:"skill_level"`
}

// pickHobbies chooses 2-4 distinct hobbies with random skill levels.
func (s *seeder) pickHobbies(hobbies []hobby) []hobbyPick {
	n := 2 + s.rng.Intn(3)
	if n > len(hobbies) {
		n = len(hobbies)
	}
	out := make([]hobbyPick, 0, n)
	for _, i := range s.rng.Perm(len(hobbies))[:n] {
		out = append(out, hobbyPick{
			HobbyID:    hobbies[i].ID,
			SkillLevel: skillLevels[s.rng.Intn(len(skillLevels))],
		})
	}
	return out
}

var (
	firstNames = []string{"Alex", "Sam", "Mia", "Lauri", "Noah", "Olivia", "Leo", "Emil", "Sara", "Luca", "Milla", "Mikko", "Eeva", "Niklas", "Sofia"}
	lastNames  = []string{"Korhonen", "Virtanen", "Nieminen", "Laine", "Heikkinen", "Koski", "Maki", "Aho", "Salmi", "Rantanen"}
	bios       = []string{
		"Curious mind, coffee lover.",
		"Weekend hiker and weekday coder.",
		"Always learning new things.",
		"Talk to me about music and the outdoors.",
		"Into analog photography and ramen.",
	}
)

func (s *seeder) randomUser(used map[string]struct{}) seedUser {
	for {
		first := firstNames[s.rng.Intn(len(firstNames))]
		last := lastNames[s.rng.Intn(len(lastNames))]
		username := strings.ToLower(fmt.Sprintf("%s.%s%d", first, last, s.rng.Intn(100000)))
		if _, dup := used[username]; dup {
			continue
		}
		used[username] = struct{}{}
		return seedUser{
			Email:    username + "@example.com",
			Password: s.cfg.Password,
			Username: username,
			FullName: first + " " + last,
			Phone:    fmt.Sprintf("07%09d", s.rng.Intn(1_000_000_000)),
			Bio:      bios[s.rng.Intn(len(bios))],
		}
	}
}

// call sends body as JSON and decodes a 2xx reply into out when out is non-nil.
func (s *seeder) call(ctx context.Context, method, path, token string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.cfg.API, "/")+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Code: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
