package app

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/longlephamtien/peershare/coordinator"
)

var addCmd = &cobra.Command{
	Use:   "add <path>...",
	Short: "Track local files (directories are scanned one level deep)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var publishCmd = &cobra.Command{
	Use:   "publish <name>...",
	Short: "Make tracked files fetchable by other peers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPublish,
}

var unpublishCmd = &cobra.Command{
	Use:   "unpublish <name>...",
	Short: "Withdraw published files from the network",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUnpublish,
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "List your tracked files",
	RunE:  runLocal,
}

var publishedCmd = &cobra.Command{
	Use:   "published",
	Short: "List your published files",
	RunE:  runPublished,
}

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "List files published by other peers",
	RunE:  runNetwork,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Refresh all views and report publish-state inconsistencies",
	RunE:  runCheck,
}

func init() {
	addCmd.Flags().Bool("publish", false, "Publish immediately after tracking")
}

func runAdd(cmd *cobra.Command, args []string) error {
	autoPublish, _ := cmd.Flags().GetBool("publish")

	coord, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer coord.Close()

	for _, path := range args {
		info, statErr := os.Stat(path)
		if statErr == nil && info.IsDir() {
			added, err := coord.AddDirectory(cmd.Context(), path, autoPublish)
			if err != nil {
				return err
			}
			fmt.Printf("Tracked %d file(s) from %s\n", len(added), path)
			continue
		}

		rec, msg, err := coord.AddFile(cmd.Context(), path, autoPublish)
		if err != nil {
			return err
		}
		if msg == "" {
			msg = "tracked"
		}
		fmt.Printf("%s: %s\n", rec.Name, msg)
	}
	return nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	coord, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer coord.Close()

	for _, name := range args {
		msg, err := coord.Publish(cmd.Context(), name)
		if err != nil {
			return err
		}
		if msg == "" {
			msg = "published"
		}
		fmt.Printf("%s: %s\n", name, msg)
	}
	return nil
}

func runUnpublish(cmd *cobra.Command, args []string) error {
	coord, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer coord.Close()

	for _, name := range args {
		msg, err := coord.Unpublish(cmd.Context(), name)
		if err != nil {
			return err
		}
		if msg == "" {
			msg = "unpublished"
		}
		fmt.Printf("%s: %s\n", name, msg)
	}
	return nil
}

func runLocal(cmd *cobra.Command, _ []string) error {
	coord, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer coord.Close()

	snap, err := coord.LocalFiles(cmd.Context())
	if err != nil {
		return err
	}
	printFileSnapshot(snap, true)
	return nil
}

func runPublished(cmd *cobra.Command, _ []string) error {
	coord, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer coord.Close()

	snap, err := coord.PublishedFiles(cmd.Context())
	if err != nil {
		return err
	}
	printFileSnapshot(snap, false)
	return nil
}

func runNetwork(cmd *cobra.Command, _ []string) error {
	coord, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer coord.Close()

	snap, err := coord.NetworkFiles(cmd.Context())
	if err != nil {
		return err
	}
	if snap.Len() == 0 {
		fmt.Println("No files on the network")
		return nil
	}

	records := make([]coordinator.NetworkFileRecord, 0, len(snap.Network))
	for _, rec := range snap.Network {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].OwnerHostname != records[j].OwnerHostname {
			return records[i].OwnerHostname < records[j].OwnerHostname
		}
		return records[i].Name < records[j].Name
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OWNER\tNAME\tSIZE\tMODIFIED")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rec.OwnerHostname, rec.Name, formatSize(rec.Size), formatUnix(rec.ModifiedAt))
	}
	return w.Flush()
}

func runCheck(cmd *cobra.Command, _ []string) error {
	coord, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer coord.Close()

	violations, err := coord.Check(cmd.Context())
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		fmt.Println("All views consistent")
		return nil
	}
	for _, v := range violations {
		fmt.Printf("INCONSISTENT %s: %s\n", v.Name, v.Reason)
	}
	return fmt.Errorf("%d inconsistenc(ies) found", len(violations))
}

func printFileSnapshot(snap *coordinator.Snapshot, showPublished bool) {
	if snap.Len() == 0 {
		fmt.Println("No files")
		return
	}

	names := make([]string, 0, len(snap.Files))
	for name := range snap.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if showPublished {
		fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED\tPUBLISHED")
	} else {
		fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	}
	for _, name := range names {
		rec := snap.Files[name]
		if showPublished {
			published := "no"
			if rec.IsPublished {
				published = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.Name, formatSize(rec.Size), formatUnix(rec.ModifiedAt), published)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Name, formatSize(rec.Size), formatUnix(rec.ModifiedAt))
		}
	}
	w.Flush()
}

func formatUnix(sec float64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(int64(sec), 0).Local().Format("2006-01-02 15:04")
}

func formatSize(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
