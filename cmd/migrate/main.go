// Command migrate applies or inspects the database schema outside of the
// main server process, using the same goose-backed migrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/clarityinspect/ingestcore/internal/config"
	"github.com/clarityinspect/ingestcore/internal/database"
	"github.com/clarityinspect/ingestcore/internal/migrate"
	"github.com/clarityinspect/ingestcore/pkg/logger"
)

func main() {
	action := flag.String("action", "up", "migration action: up, down, status, version")
	flag.Parse()

	app := fx.New(
		fx.NopLogger,
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		fx.Invoke(func(m *migrate.Migrator) {
			ctx := context.Background()
			var err error
			switch *action {
			case "up":
				err = m.Up(ctx)
			case "down":
				err = m.Down(ctx)
			case "status":
				err = m.Status(ctx)
			case "version":
				var v int64
				v, err = m.Version(ctx)
				if err == nil {
					fmt.Println(v)
				}
			default:
				err = fmt.Errorf("unknown action %q", *action)
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}),
	)
	app.Run()
}
