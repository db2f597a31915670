package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/palettebox/internal/backend/database"
	"github.com/jo-hoe/palettebox/internal/core"
	"github.com/jo-hoe/palettebox/internal/lifecycle"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		status string
		anime  string
		query  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List characters, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(service *core.CoreService) error {
				engine := service.Engine()
				var (
					characters []*database.Character
					err        error
				)
				if status != "" {
					characters, err = engine.ListByStatus(cmd.Context(), database.Status(strings.ToUpper(status)))
				} else {
					characters, err = engine.ListAll(cmd.Context())
				}
				if err != nil {
					return err
				}

				characters = lifecycle.FilterCharacters(characters, lifecycle.Filter{SourceWorkExact: anime, TextQuery: query})
				if len(characters) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No characters found")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Name", "Source Work", "Status", "Colors", "Images", "Created"},
					buildCharacterRows(characters),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only show PENDING, APPROVED or REJECTED characters")
	cmd.Flags().StringVar(&anime, "anime", "", "Only show characters from this source work (exact match)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Case-insensitive search in name, source work and description")
	return cmd
}

func buildCharacterRows(characters []*database.Character) [][]string {
	rows := make([][]string, 0, len(characters))
	for _, c := range characters {
		rows = append(rows, []string{
			c.ID,
			c.Name,
			c.SourceWork,
			string(c.Status),
			strconv.Itoa(len(c.Colors)),
			strconv.Itoa(len(c.Images)),
			c.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}

func newStatusCommand(ctx *commandContext, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(service *core.CoreService) error {
				engine := service.Engine()
				var (
					character *database.Character
					err       error
				)
				if use == "approve" {
					character, err = engine.Approve(cmd.Context(), args[0])
				} else {
					character, err = engine.Reject(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is now %s\n", character.Name, character.ID, character.Status)
				return nil
			})
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a character with its colors and image records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(service *core.CoreService) error {
				if err := service.Engine().DeleteCharacter(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove stored files of deleted characters now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(service *core.CoreService) error {
				result, err := service.Sweeper().Sweep(cmd.Context())
				if err != nil {
					return err
				}
				if result.Skipped {
					fmt.Fprintln(cmd.OutOrStdout(), "Another sweep is running; nothing done")
					return nil
				}
				table := renderTable(
					[]string{"Deleted", "Failed", "Retained"},
					[][]string{{strconv.Itoa(result.Deleted), strconv.Itoa(result.Failed), strconv.Itoa(result.Retained)}},
					[]columnAlignment{alignRight, alignRight, alignRight},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}
