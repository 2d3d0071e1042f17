// Package sweep implements the bulk token validation pass: snapshot the
// user store, probe every access token sequentially and rewrite the
// store with only the surviving records.
package sweep

import (
	"context"
	"fmt"

	"github.com/authcord/authcord/internal/logx"
	"github.com/authcord/authcord/internal/store"
)

// progressInterval is how many records pass between progress emissions.
const progressInterval = 50

// Validator probes a single access token. Implementations return false
// only on a definitive unauthorized response.
type Validator interface {
	ValidateToken(ctx context.Context, accessToken string) bool
}

// Source is the store surface the sweep needs.
type Source interface {
	Snapshot() []store.AuthorizedUser
	ReplaceAll(users []store.AuthorizedUser) error
}

// Progress is a point-in-time count during a running sweep.
type Progress struct {
	Processed int
	Total     int
	Valid     int
	Removed   int
}

// Report summarizes a completed sweep.
type Report struct {
	Initial   int
	Removed   int
	Remaining int
}

// Run validates every stored token one at a time, honoring ctx between
// probes, then replaces the store contents with the surviving records.
// progress (may be nil) is called every 50 records and on the final one.
// A cancelled context aborts before persisting, leaving the store at its
// pre-sweep state. A persist failure likewise leaves the store
// untouched and discards the validation work.
func Run(ctx context.Context, src Source, v Validator, progress func(Progress)) (Report, error) {
	users := src.Snapshot()
	initial := len(users)

	validUsers := make([]store.AuthorizedUser, 0, initial)
	removed := 0

	for i, u := range users {
		if err := ctx.Err(); err != nil {
			return Report{}, fmt.Errorf("sweep cancelled after %d/%d: %w", i, initial, err)
		}

		if v.ValidateToken(ctx, u.AccessToken) {
			validUsers = append(validUsers, u)
		} else {
			removed++
			logx.Warnf("sweep: dropping expired user %s (%s)", u.Username, u.UserID)
		}

		if progress != nil && ((i+1)%progressInterval == 0 || i == initial-1) {
			progress(Progress{
				Processed: i + 1,
				Total:     initial,
				Valid:     len(validUsers),
				Removed:   removed,
			})
		}
	}

	if err := src.ReplaceAll(validUsers); err != nil {
		return Report{}, fmt.Errorf("persist sweep result: %w", err)
	}

	return Report{
		Initial:   initial,
		Removed:   removed,
		Remaining: len(validUsers),
	}, nil
}
