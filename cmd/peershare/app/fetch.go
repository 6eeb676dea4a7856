package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/longlephamtien/peershare/coordinator"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <owner> <name>",
	Short: "Fetch a file published by another peer",
	Long: `Fetch downloads a file from the peer that published it. Progress is
polled and printed until the transfer completes or fails. Ctrl-C stops
watching; the transfer itself continues on the peer side.`,
	Args: cobra.ExactArgs(2),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().String("output", "", "Save path (defaults to the server-chosen location)")
	fetchCmd.Flags().Bool("force", false, "Fetch even when a duplicate is detected")
}

func runFetch(cmd *cobra.Command, args []string) error {
	owner, name := args[0], args[1]
	savePath, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	coord, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer coord.Close()

	target, err := coord.FindNetworkFile(cmd.Context(), owner, name)
	if err != nil {
		return err
	}

	verdict, err := coord.PreflightFetch(cmd.Context(), *target)
	if err != nil {
		return err
	}
	if headline := verdict.Headline(); headline != "" {
		fmt.Printf("Duplicate warning: %s\n", headline)
		if !force {
			return fmt.Errorf("refusing to fetch; rerun with --force to proceed")
		}
	}

	events := coord.Bus().Subscribe()
	defer coord.Bus().Unsubscribe(events)

	fetchID, err := coord.Fetch(cmd.Context(), *target, savePath)
	if err != nil {
		return err
	}
	fmt.Printf("Fetching %s from %s (fetch %s)\n", name, target.OwnerHostname, fetchID)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	for {
		select {
		case <-interrupt:
			coord.Fetcher().Cancel()
			fmt.Println("\nStopped watching; the transfer may still finish on the peer side")
			return nil

		case ev := <-events:
			switch ev.Type {
			case coordinator.EventFetchProgress:
				printProgress(ev.Progress)

			case coordinator.EventFetchTerminal:
				printProgress(ev.Progress)
				fmt.Println()
				if ev.Progress.Status == coordinator.FetchCompleted {
					fmt.Printf("Saved to %s\n", ev.Progress.SavePath)
					// Reconcile immediately so the listings show the new file.
					if _, err := coord.Check(cmd.Context()); err != nil {
						fmt.Printf("Post-fetch refresh failed (%s): %v\n", coordinator.ErrorKind(err), err)
					}
					return nil
				}
				return fmt.Errorf("fetch failed: %s", ev.Progress.ErrorMessage)
			}
		}
	}
}

func printProgress(p *coordinator.FetchProgress) {
	if p == nil {
		return
	}
	fmt.Printf("\r%-12s %s / %s (%.1f%%) %s/s   ",
		p.Status,
		formatSize(p.DownloadedBytes), formatSize(p.TotalBytes),
		p.ProgressPercent, formatSize(uint64(p.SpeedBps)))
}
