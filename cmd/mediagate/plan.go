package main

import (
	"fmt"
	"strconv"

	"mediagate/pkg/gateway"
	"mediagate/pkg/storage"
	"mediagate/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func planCmd() *cobra.Command {
	var chunkSize string

	cmd := &cobra.Command{
		Use:   "plan <size> [range]",
		Short: "Show the chunk reads that serve a byte range",
		Long: `Prints the remote reads the gateway issues for a Range header against an
object of the given size, e.g.

  mediagate plan 3MiB "bytes=1000000-2000000"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := utils.ParseDataSize(args[0])
			if err != nil {
				return fmt.Errorf("invalid size: %w", err)
			}
			chunk, err := utils.ParseDataSize(chunkSize)
			if err != nil {
				return fmt.Errorf("invalid chunk size: %w", err)
			}

			header := ""
			if len(args) == 2 {
				header = args[1]
			}

			rng, partial, err := gateway.ParseRange(header, size)
			if err != nil {
				return err
			}

			var plan storage.RangePlan
			switch {
			case size == 0:
				plan = storage.RangePlan{ChunkSize: chunk, End: -1}
				err = storage.ValidateChunkSize(chunk)
			case partial:
				plan, err = storage.Plan(rng.From, rng.Until, size, chunk)
			default:
				plan, err = storage.FullPlan(size, chunk)
			}
			if err != nil {
				return err
			}

			fmt.Println(renderPlan(plan, size, partial))
			return nil
		},
	}

	cmd.Flags().StringVar(&chunkSize, "chunk-size", "1MiB", "remote chunk size")

	return cmd
}

func renderPlan(plan storage.RangePlan, size int64, partial bool) string {
	status := "200 OK"
	if partial {
		status = fmt.Sprintf("206 Partial Content (bytes %d-%d/%d)", plan.Start, plan.End, size)
	}

	summary := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Range plan"),
		field("Status", status),
		field("Object size", utils.FormatDataSize(size)),
		field("Chunk size", utils.FormatDataSize(plan.ChunkSize)),
		field("Length", strconv.FormatInt(plan.Length(), 10)),
		field("Parts", strconv.Itoa(plan.PartCount())),
		field("First trim", strconv.FormatInt(plan.FirstTrim, 10)),
		field("Last keep", strconv.FormatInt(plan.LastKeep, 10)),
	)

	if plan.Empty() {
		return panelStyle.Render(summary)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle.Foreground(fgColor)
		})

	t.Headers("#", "OFFSET", "LIMIT", "KEEP FROM", "KEEP TO")

	last := plan.PartCount() - 1
	for i, read := range plan.Reads {
		keepFrom := int64(0)
		if i == 0 {
			keepFrom = plan.FirstTrim
		}
		keepTo := read.Limit
		if i == last {
			keepTo = plan.LastKeep
		}
		t.Row(
			strconv.Itoa(i),
			strconv.FormatInt(read.Offset, 10),
			strconv.FormatInt(read.Limit, 10),
			strconv.FormatInt(keepFrom, 10),
			strconv.FormatInt(keepTo, 10),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left, panelStyle.Render(summary), t.Render())
}
