package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/lib/pq"
)

type dataLoaderCtxKey string

const dataLoaderKey dataLoaderCtxKey = "dataloader"

// profileSummary is the small slice of a profile shown next to chat messages.
type profileSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DataLoaders holds the per-request batch loaders.
type DataLoaders struct {
	ProfileLoader *dataloader.Loader[string, *profileSummary]
}

func NewDataLoaders(db *sql.DB) *DataLoaders {
	return &DataLoaders{
		ProfileLoader: dataloader.NewBatchedLoader(
			profileSummaryBatchFn(db),
			dataloader.WithWait[string, *profileSummary](16*time.Millisecond),
		),
	}
}

func GetDataLoadersFromContext(ctx context.Context) *DataLoaders {
	if dl, ok := ctx.Value(dataLoaderKey).(*DataLoaders); ok {
		return dl
	}
	return nil
}

func WithDataLoaders(ctx context.Context, dl *DataLoaders) context.Context {
	return context.WithValue(ctx, dataLoaderKey, dl)
}

// profileSummaryBatchFn loads summaries for all keys with one query.
// Unknown or malformed ids resolve to nil without an error.
func profileSummaryBatchFn(db *sql.DB) dataloader.BatchFunc[string, *profileSummary] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[*profileSummary] {
		results := make([]*dataloader.Result[*profileSummary], len(keys))
		index := make(map[string][]int, len(keys))
		valid := make([]string, 0, len(keys))
		for i, key := range keys {
			results[i] = &dataloader.Result[*profileSummary]{}
			if _, err := uuid.Parse(key); err != nil {
				continue
			}
			if _, dup := index[key]; !dup {
				valid = append(valid, key)
			}
			index[key] = append(index[key], i)
		}
		if len(valid) == 0 {
			return results
		}

		fail := func(err error) []*dataloader.Result[*profileSummary] {
			for _, r := range results {
				r.Error = err
			}
			return results
		}

		rows, err := db.QueryContext(ctx, `
			SELECT id, username, full_name, COALESCE(avatar_url, '')
			FROM profiles
			WHERE id = ANY($1::uuid[])`, pq.Array(valid))
		if err != nil {
			return fail(fmt.Errorf("load profile summaries: %w", err))
		}
		defer rows.Close()

		for rows.Next() {
			var s profileSummary
			if err := rows.Scan(&s.ID, &s.Username, &s.FullName, &s.AvatarURL); err != nil {
				return fail(fmt.Errorf("scan profile summary: %w", err))
			}
			for _, i := range index[s.ID] {
				summary := s
				results[i].Data = &summary
			}
		}
		if err := rows.Err(); err != nil {
			return fail(fmt.Errorf("iterate profile summaries: %w", err))
		}
		return results
	}
}

// loadSummaries resolves ids through the request's loader, creating one if absent.
func loadSummaries(ctx context.Context, db *sql.DB, ids []string) (map[string]*profileSummary, error) {
	dl := GetDataLoadersFromContext(ctx)
	if dl == nil {
		dl = NewDataLoaders(db)
	}

	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	summaries, errs := dl.ProfileLoader.LoadMany(ctx, unique)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	out := make(map[string]*profileSummary, len(unique))
	for i, id := range unique {
		if summaries[i] != nil {
			out[id] = summaries[i]
		}
	}
	return out, nil
}
