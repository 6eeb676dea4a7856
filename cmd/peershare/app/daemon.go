package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/longlephamtien/peershare/coordinator"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the coordinator in the foreground",
	Long: `Daemon keeps the background loops alive: the filesystem watcher flags
tracked files that go missing or change on disk, and the reconcile worker
verifies server-side mutations against the cached views.`,
	RunE: runDaemon,
}

func runDaemon(_ *cobra.Command, _ []string) error {
	coord, err := buildCoordinator()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := coord.Bus().Subscribe()
	defer coord.Bus().Unsubscribe(events)
	go func() {
		for ev := range events {
			switch ev.Type {
			case coordinator.EventFileFlagged:
				fmt.Printf("tracked file %s: %s\n", ev.Name, ev.Flag)
			case coordinator.EventCacheRefreshed:
				// Quiet; the refresh log already records it.
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		fmt.Println("shutting down")
		cancel()
	}()

	coord.Run(ctx)

	if recent := coordinator.RecentErrors(); len(recent) > 0 {
		fmt.Printf("%d error(s) during this run; most recent:\n", len(recent))
		for _, e := range recent {
			fmt.Printf("  [%s] %s: %s\n", e.Time.Format("15:04:05"), e.Comp, e.Message)
		}
	}
	return coord.Close()
}
