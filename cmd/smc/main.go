package main

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/tui/downloads"
	"github.com/elsanchez/smart-cache/pkg/client"
)

const (
	version = "0.1.0"
)

var (
	socketPath string

	addTitle     string
	addGenre     string
	addThumbnail string
	addDuration  int
	addPremium   bool
)

var rootCmd = &cobra.Command{
	Use:          "smc",
	Short:        "Smart cache client: queue and manage offline media",
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Daemon socket (default: $XDG_RUNTIME_DIR/smart-cache.sock)")

	addCmd.Flags().StringVar(&addTitle, "title", "", "Asset title")
	addCmd.Flags().StringVar(&addGenre, "genre", "", "Asset genre")
	addCmd.Flags().StringVar(&addThumbnail, "thumbnail", "", "Thumbnail reference")
	addCmd.Flags().IntVar(&addDuration, "duration", 0, "Duration in seconds")
	addCmd.Flags().BoolVar(&addPremium, "premium", false, "Asset requires a subscription")

	rootCmd.AddCommand(addCmd, pauseCmd, resumeCmd, cancelCmd, removeCmd, statusCmd,
		listCmd, offlineCmd, usageCmd, clearCmd, statsCmd, watchCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() *client.Client {
	if socketPath != "" {
		return client.NewClient(socketPath)
	}
	return client.NewDefaultClient()
}

var addCmd = &cobra.Command{
	Use:   "add <asset-id>",
	Short: "Queue an asset for offline download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Add(domain.Asset{
			ID:              args[0],
			Title:           addTitle,
			Genre:           addGenre,
			ThumbnailRef:    addThumbnail,
			DurationSeconds: addDuration,
			IsPremium:       addPremium,
		})
		if err != nil {
			return err
		}

		fmt.Printf("✓ Asset queued: %s\n", res.ID)
		printResult(res)
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <asset-id>",
	Short: "Pause an active download, keeping its progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Pause(args[0])
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <asset-id>",
	Short: "Resume a paused or failed download",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Resume(args[0])
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <asset-id>",
	Short: "Cancel a download and discard its progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Cancel(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Canceled: %s\n", args[0])
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <asset-id>",
	Short: "Cancel any transfer and delete the offline copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Removed: %s\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <asset-id>",
	Short: "Show the status of an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Status(args[0])
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked downloads in queue order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := newClient().List()
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No downloads in progress")
			return nil
		}

		fmt.Printf("Downloads (%d):\n\n", len(records))
		for _, rec := range records {
			printRecord(rec)
			fmt.Println()
		}
		return nil
	},
}

var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "List assets available offline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		assets, err := newClient().Offline()
		if err != nil {
			return err
		}

		if len(assets) == 0 {
			fmt.Println("No offline assets")
			return nil
		}

		fmt.Printf("Offline assets (%d):\n\n", len(assets))
		for _, a := range assets {
			fmt.Printf("ID: %s\n", a.ID)
			fmt.Printf("  Title: %s\n", a.Asset.DisplayName())
			fmt.Printf("  Size: %d bytes\n", a.Size)
			fmt.Printf("  Downloaded: %s\n\n", a.DownloadDate.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show estimated storage usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		usage, err := newClient().Usage()
		if err != nil {
			return err
		}
		if usage == nil {
			fmt.Println("Storage usage not available")
			return nil
		}

		fmt.Printf("Used:  %d bytes\n", usage.UsedBytes)
		fmt.Printf("Quota: %d bytes\n", usage.QuotaBytes)
		if usage.QuotaBytes > 0 {
			fmt.Printf("       %d%% used\n", domain.ProgressPercent(usage.UsedBytes, usage.QuotaBytes))
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every offline asset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Clear(); err != nil {
			return err
		}
		fmt.Println("✓ Offline storage cleared")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := newClient().Stats()
		if err != nil {
			return err
		}

		fmt.Println("Queue Statistics:")
		fmt.Println()
		fmt.Printf("  Pending:      %d\n", stats.Pending)
		fmt.Printf("  Downloading:  %d\n", stats.Downloading)
		fmt.Printf("  Paused:       %d\n", stats.Paused)
		fmt.Printf("  Failed:       %d\n", stats.Failed)
		fmt.Println()
		fmt.Printf("  Transfers:    %d / %d running\n", stats.Running, stats.MaxConcurrent)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("smc v%s\n", version)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive view of the download queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if err := c.Ping(); err != nil {
			return err
		}

		p := tea.NewProgram(downloads.NewModel(c, downloads.DefaultRefresh), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func printResult(res *client.StatusResult) {
	if res.Record != nil {
		printRecord(*res.Record)
		return
	}
	fmt.Printf("  Status: %s\n", res.Status)
}

func printRecord(rec domain.DownloadRecord) {
	fmt.Printf("ID: %s\n", rec.Asset.ID)
	if rec.Asset.Title != "" {
		fmt.Printf("  Title: %s\n", rec.Asset.Title)
	}
	fmt.Printf("  Status: %s\n", rec.Status)
	fmt.Printf("  Progress: %d%% (%d/%d bytes)\n", rec.ProgressPercent, rec.LoadedBytes, rec.TotalBytes)
	if rec.ErrorMessage != "" {
		fmt.Printf("  Error: %s\n", strings.TrimSpace(rec.ErrorMessage))
	}
}
