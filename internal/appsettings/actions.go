package appsettings

import (
	"context"
	"time"

	"github.com/dshills/prefkit/internal/settings/action"
	"github.com/dshills/prefkit/internal/settings/repository"
)

// RegisterActions installs the handlers for the schema's button fields.
func RegisterActions(reg *action.Registry, repo *repository.Repository[Editor], now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	reg.Register(action.Dangerous(ActionClearRecent, "Clear recent files", "The recent file list will be emptied."),
		func(ctx context.Context) error {
			_, err := repo.Update(ctx, func(e Editor) Editor {
				e.RecentFiles = nil
				e.LastCleared = now().UnixMilli()
				return e
			})
			return err
		})
}
