package submission

import (
	"context"
	"slices"
	"strings"

	"github.com/stemsi/exstem-client/internal/model"
)

// PendingStore keeps answer sheets that could not be delivered. There is at
// most one entry per exam identifier; Save replaces a stale one.
type PendingStore interface {
	Save(ctx context.Context, sheet model.PendingSheet) error
	// Oldest returns the next sheet to resend, or nil when none is pending.
	Oldest(ctx context.Context) (*model.PendingSheet, error)
	Delete(ctx context.Context, examID string) error
	List(ctx context.Context) ([]model.PendingSheet, error)
}

// sortPending orders sheets oldest first, ties broken by exam identifier.
func sortPending(sheets []model.PendingSheet) {
	slices.SortFunc(sheets, func(a, b model.PendingSheet) int {
		if c := a.SavedAt.Compare(b.SavedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ExamID, b.ExamID)
	})
}

func oldestOf(sheets []model.PendingSheet) *model.PendingSheet {
	if len(sheets) == 0 {
		return nil
	}
	sortPending(sheets)
	return &sheets[0]
}
