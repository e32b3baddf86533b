package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"apirelay/internal/console"
	"apirelay/internal/format"
	"apirelay/internal/model"
	"apirelay/internal/viewer"
)

func init() {
	savedCmd := &cobra.Command{
		Use:     "saved",
		Aliases: []string{"sv"},
		Short:   "Manage saved requests",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved requests, most recent first",
		Run:   runSavedList,
	}

	showCmd := &cobra.Command{
		Use:   "show <id or index>",
		Short: "Show a saved request",
		Args:  cobra.ExactArgs(1),
		Run:   runSavedShow,
	}

	runCmd := &cobra.Command{
		Use:   "run <id or index>",
		Short: "Send a saved request again",
		Args:  cobra.ExactArgs(1),
		Run:   runSavedRun,
	}
	runCmd.Flags().Bool("no-history", false, "Don't save to history")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved request",
		Args:  cobra.ExactArgs(1),
		Run:   runSavedDelete,
	}

	savedCmd.AddCommand(listCmd, showCmd, runCmd, deleteCmd)
	rootCmd.AddCommand(savedCmd)
}

func loadSaved(cmd *cobra.Command) []model.SavedItem {
	store := openStore(cmd.Context(), mustConfig())
	defer store.Close()

	items, err := store.ListSaved(cmd.Context(), userID)
	if err != nil {
		exitWith("Failed to load saved requests", err)
	}
	return items
}

// findSaved resolves a 1-based index or an id.
func findSaved(items []model.SavedItem, identifier string) (model.SavedItem, bool) {
	if index, err := strconv.Atoi(identifier); err == nil && index > 0 && index <= len(items) {
		return items[index-1], true
	}
	for _, item := range items {
		if item.ID == identifier {
			return item, true
		}
	}
	return model.SavedItem{}, false
}

func runSavedList(cmd *cobra.Command, args []string) {
	format.PrintSavedList(loadSaved(cmd))
}

func runSavedShow(cmd *cobra.Command, args []string) {
	item, ok := findSaved(loadSaved(cmd), args[0])
	if !ok {
		exitWith(fmt.Sprintf("Saved request not found: %s", args[0]), nil)
	}
	format.PrintRequestDetail(item.Request)
}

func runSavedRun(cmd *cobra.Command, args []string) {
	item, ok := findSaved(loadSaved(cmd), args[0])
	if !ok {
		exitWith(fmt.Sprintf("Saved request not found: %s", args[0]), nil)
	}

	cfg := mustConfig()
	rl, err := newRelay(cfg)
	if err != nil {
		exitWith("Failed to build relay", err)
	}
	b := console.NewBuilder(rl.Policy())
	b.Load(item.Request)

	env, err := b.Send(cmd.Context(), rl)
	if err != nil {
		exitWith("Request failed", err)
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	format.PrintView(viewer.Build(env, ""), format.Options{Headers: verbose})

	noHistory, _ := cmd.Flags().GetBool("no-history")
	record(cmd.Context(), b.Snapshot(), env, !noHistory, "")
	exitIfFailed(env)
}

func runSavedDelete(cmd *cobra.Command, args []string) {
	store := openStore(cmd.Context(), mustConfig())
	defer store.Close()

	if err := store.DeleteSaved(cmd.Context(), userID, args[0]); err != nil {
		exitWith("Failed to delete saved request", err)
	}
	format.PrintSuccess(fmt.Sprintf("Deleted saved request %s", args[0]))
}
