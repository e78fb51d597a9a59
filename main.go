// Package main is the entry point for the task financial sync server
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/jsvm"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/pocketbase/pocketbase/tools/hook"
	"github.com/spf13/cobra"

	"github.com/fieldfin/taskfin/logging"
	_ "github.com/fieldfin/taskfin/migrations"
	"github.com/fieldfin/taskfin/schema"
	"github.com/fieldfin/taskfin/sync"
)

func main() {
	// Format: 2026-01-06T14:05:52Z [taskfin] LEVEL message
	logging.Init("taskfin")

	app := pocketbase.New()

	// ---------------------------------------------------------------
	// Optional plugin flags:
	// ---------------------------------------------------------------

	var hooksDir string
	app.RootCmd.PersistentFlags().StringVar(
		&hooksDir,
		"hooksDir",
		"",
		"the directory with the JS app hooks",
	)

	var hooksWatch bool
	app.RootCmd.PersistentFlags().BoolVar(
		&hooksWatch,
		"hooksWatch",
		true,
		"auto restart the app on pb_hooks file change",
	)

	var hooksPool int
	app.RootCmd.PersistentFlags().IntVar(
		&hooksPool,
		"hooksPool",
		15,
		"the total prewarm goja.Runtime instances for the JS app hooks execution",
	)

	var migrationsDir string
	app.RootCmd.PersistentFlags().StringVar(
		&migrationsDir,
		"migrationsDir",
		"",
		"the directory with the user defined migrations",
	)

	var automigrate bool
	app.RootCmd.PersistentFlags().BoolVar(
		&automigrate,
		"automigrate",
		true,
		"enable/disable auto migrations",
	)

	var publicDir string
	app.RootCmd.PersistentFlags().StringVar(
		&publicDir,
		"publicDir",
		defaultPublicDir(),
		"the directory to serve static files",
	)

	var indexFallback bool
	app.RootCmd.PersistentFlags().BoolVar(
		&indexFallback,
		"indexFallback",
		true,
		"fallback the request to index.html on missing static path",
	)

	// ---------------------------------------------------------------
	// Register plugins:
	// ---------------------------------------------------------------

	// load jsvm (hooks and js migrations)
	jsvm.MustRegister(app, jsvm.Config{
		HooksDir:      hooksDir,
		HooksWatch:    hooksWatch,
		HooksPoolSize: hooksPool,
		MigrationsDir: migrationsDir,
	})

	// register the `migrate` command; collections live in Go migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		TemplateLang: migratecmd.TemplateLangGo,
		Automigrate:  automigrate,
		Dir:          migrationsDir,
	})

	app.RootCmd.AddCommand(newSyncCommand(app))

	// ---------------------------------------------------------------
	// Register custom routes and services:
	// ---------------------------------------------------------------

	var scheduler *sync.Scheduler

	app.OnServe().Bind(&hook.Handler[*core.ServeEvent]{
		Func: func(e *core.ServeEvent) error {
			slog.Info("Initializing task sync service")
			services, err := sync.InitializeServices(app)
			if err != nil {
				return err
			}

			sync.RegisterRoutes(e, services.TaskSync, services.Reports)

			scheduler = services.Scheduler
			if err := scheduler.Start(); err != nil {
				slog.Error("Failed to start refresh scheduler", "error", err)
			}

			return e.Next()
		},
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		if scheduler != nil {
			scheduler.Stop()
		}
		return e.Next()
	})

	// Register static file serving (with lowest priority)
	app.OnServe().Bind(&hook.Handler[*core.ServeEvent]{
		Func: func(e *core.ServeEvent) error {
			if !e.Router.HasRoute(http.MethodGet, "/{path...}") {
				e.Router.GET("/{path...}", apis.Static(os.DirFS(publicDir), indexFallback))
			}
			return e.Next()
		},
		Priority: 999,
	})

	if err := app.Start(); err != nil {
		slog.Error("Failed to start application", "error", err)
		os.Exit(1)
	}
}

// newSyncCommand runs one sync from the command line and prints the result as JSON.
func newSyncCommand(app *pocketbase.PocketBase) *cobra.Command {
	var (
		user  string
		start string
		end   string
		full  bool
	)

	cmd := &cobra.Command{
		Use:          "sync",
		Short:        "Sync one user's completed tasks for a period",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := schema.EnsureCollections(app); err != nil {
				return err
			}
			services, err := sync.InitializeServices(app)
			if err != nil {
				return err
			}

			result := services.TaskSync.Run(cmd.Context(), sync.Request{
				UserID: user,
				Start:  start,
				End:    end,
				Full:   full,
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("sync failed (%s): %s", result.Kind, result.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "the user id to sync (required)")
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD (default yesterday)")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&full, "full", false, "wipe the user's tasks and rollups before syncing")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// the default pb_public dir location is relative to the executable
func defaultPublicDir() string {
	if strings.HasPrefix(os.Args[0], os.TempDir()) {
		// most likely ran with go run
		return "./pb_public"
	}

	return filepath.Join(filepath.Dir(os.Args[0]), "pb_public")
}
