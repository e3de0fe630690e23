package main

import (
	"context"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/andy6609/direct-chat-server/internal/history"
)

func printHistory(ctx context.Context, w io.Writer, store history.Store, limit int) error {
	records, err := store.Records(ctx, limit)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Timestamp", "From", "To", "Content"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, r := range records {
		table.Append([]string{r.At.Format(history.TimestampLayout), r.From, r.To, r.Content})
	}
	table.Render()
	return nil
}
