package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"jambot/internal/catalog"
	"jambot/internal/logging"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and edit the jam catalog",
	}
	cmd.AddCommand(newCatalogListCommand(ctx))
	cmd.AddCommand(newCatalogDeleteCommand(ctx))
	return cmd
}

func openCatalog(ctx *commandContext) (catalog.Catalog, error) {
	cfg, err := ctx.localConfig()
	if err != nil {
		return nil, err
	}
	// keep the table output clean; only warnings reach stderr
	log, _, err := logging.New(logging.Quiet(cfg.Log))
	if err != nil {
		return nil, err
	}
	return catalog.Open(cfg.CatalogDriver, cfg.CatalogPath, log)
}

func newCatalogListCommand(ctx *commandContext) *cobra.Command {
	var guildID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries of a guild",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCatalog(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			return listCatalog(cmd.Context(), cmd, store, guildID)
		},
	}
	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "Guild id")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func listCatalog(ctx context.Context, cmd *cobra.Command, store catalog.Catalog, guildID string) error {
	entries, err := store.List(ctx, guildID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, color.YellowString("No tracks in the catalog of guild %s", guildID))
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			e.AudioName,
			e.Ext,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Title", "Ext", "Added"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	))
	fmt.Fprintln(out, color.GreenString("%d tracks", len(entries)))
	return nil
}

func newCatalogDeleteCommand(ctx *commandContext) *cobra.Command {
	var guildID string
	cmd := &cobra.Command{
		Use:   "delete <title>",
		Short: "Delete a track from a guild's catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCatalog(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			return deleteFromCatalog(cmd.Context(), cmd, store, guildID, args[0])
		},
	}
	cmd.Flags().StringVarP(&guildID, "guild", "g", "", "Guild id")
	_ = cmd.MarkFlagRequired("guild")
	return cmd
}

func deleteFromCatalog(ctx context.Context, cmd *cobra.Command, store catalog.Catalog, guildID, title string) error {
	if title == "" {
		return errors.New("title is empty")
	}
	if err := store.Delete(ctx, guildID, title); err != nil {
		return fmt.Errorf("delete %q: %w", title, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("Deleted %s from guild %s", title, guildID))
	return nil
}
