package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/yamitzky/xlread-go/xlread"
)

func newSheetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sheets <input>",
		Short: "List the sheets of a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger := settingsFrom(cmd.Context())
			book, err := xlread.OpenPath(args[0], xlread.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer book.Close()

			metas, err := book.SheetsMetadata()
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "Name", "Kind", "Visibility", "Rows", "Cols", "Start"})
			for i, meta := range metas {
				sheet, err := book.SheetByIndex(i)
				if err != nil {
					return err
				}
				t.AppendRow(table.Row{i + 1, meta.Name, meta.Kind, meta.Visibility, sheet.Height(), sheet.Width(), positionCell(sheet.Start())})
			}
			t.Render()
			return nil
		},
	}
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables <input>",
		Short: "List the tables of an xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger := settingsFrom(cmd.Context())
			book, err := xlread.OpenPath(args[0], xlread.Options{LoadTables: true, Logger: logger})
			if err != nil {
				return err
			}
			defer book.Close()

			names, err := book.TableNames()
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Name", "Sheet", "Columns", "Start", "End"})
			for _, name := range names {
				tbl, err := book.TableByName(name)
				if err != nil {
					return err
				}
				t.AppendRow(table.Row{tbl.Name(), tbl.Sheet(), strings.Join(tbl.Columns(), ", "), tbl.Start(), tbl.End()})
			}
			t.Render()
			return nil
		},
	}
}

func newDumpCmd() *cobra.Command {
	var count, unnumbered bool
	cmd := &cobra.Command{
		Use:   "dump <input>",
		Short: "Dump the BIFF records of an xls workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count {
				return xlread.CountRecords(args[0], cmd.OutOrStdout())
			}
			return xlread.Dump(args[0], cmd.OutOrStdout(), unnumbered)
		},
	}
	cmd.Flags().BoolVarP(&count, "count", "c", false, "print record counts instead of the dump")
	cmd.Flags().BoolVarP(&unnumbered, "unnumbered", "u", false, "omit offsets, for meaningful diffs")
	return cmd
}

// positionCell renders an empty cell for sheets without data.
func positionCell(p xlread.Position, ok bool) string {
	if !ok {
		return ""
	}
	return p.String()
}
