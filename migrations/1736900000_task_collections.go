package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"

	"github.com/fieldfin/taskfin/schema"
)

func init() {
	m.Register(func(app core.App) error {
		return schema.EnsureCollections(app)
	}, func(app core.App) error {
		return schema.DropCollections(app)
	}, "1736900000_task_collections.go")
}
