package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"apirelay/internal/format"
	"apirelay/internal/model"
	"apirelay/internal/storage"
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "View request history",
		Run:   runHistoryList,
	}

	historyCmd.Flags().IntP("limit", "n", 10, "Number of requests to show")

	showCmd := &cobra.Command{
		Use:   "show <id or index>",
		Short: "Show full details of a request",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryShow,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear all history",
		Run:   runHistoryClear,
	}

	exportCmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write history and saved requests to a JSON archive",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryExport,
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load history and saved requests from a JSON archive",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryImport,
	}

	historyCmd.AddCommand(showCmd, clearCmd, exportCmd, importCmd)
	rootCmd.AddCommand(historyCmd)
}

func loadHistory(cmd *cobra.Command) []model.HistoryItem {
	store := openStore(cmd.Context(), mustConfig())
	defer store.Close()

	items, err := store.ListHistory(cmd.Context(), userID)
	if err != nil {
		exitWith("Failed to load history", err)
	}
	return items
}

func runHistoryList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	format.PrintHistoryList(loadHistory(cmd), limit)
}

func runHistoryShow(cmd *cobra.Command, args []string) {
	items := loadHistory(cmd)
	item, ok := findHistory(items, args[0])
	if !ok {
		exitWith(fmt.Sprintf("Request not found: %s", args[0]), nil)
	}
	format.PrintHistoryDetail(item)
}

// findHistory resolves a 1-based index or an id.
func findHistory(items []model.HistoryItem, identifier string) (model.HistoryItem, bool) {
	if index, err := strconv.Atoi(identifier); err == nil && index > 0 && index <= len(items) {
		return items[index-1], true
	}
	for _, item := range items {
		if item.ID == identifier {
			return item, true
		}
	}
	return model.HistoryItem{}, false
}

func runHistoryClear(cmd *cobra.Command, args []string) {
	store := openStore(cmd.Context(), mustConfig())
	defer store.Close()

	n, err := store.ClearHistory(cmd.Context(), userID)
	if err != nil {
		exitWith("Failed to clear history", err)
	}
	format.PrintSuccess(fmt.Sprintf("History cleared (%d requests)", n))
}

func runHistoryExport(cmd *cobra.Command, args []string) {
	store := openStore(cmd.Context(), mustConfig())
	defer store.Close()

	a, err := storage.Export(cmd.Context(), store, userID)
	if err != nil {
		exitWith("Failed to export", err)
	}
	if err := storage.WriteArchive(args[0], a); err != nil {
		exitWith("Failed to export", err)
	}
	format.PrintSuccess(fmt.Sprintf("Exported %d requests and %d saved requests to %s", len(a.History), len(a.Saved), args[0]))
}

func runHistoryImport(cmd *cobra.Command, args []string) {
	a, err := storage.ReadArchive(args[0])
	if err != nil {
		exitWith("Failed to import", err)
	}

	store := openStore(cmd.Context(), mustConfig())
	defer store.Close()

	history, saved, err := storage.Import(cmd.Context(), store, userID, a)
	if err != nil {
		exitWith("Failed to import", err)
	}
	format.PrintSuccess(fmt.Sprintf("Imported %d requests and %d saved requests", history, saved))
}
