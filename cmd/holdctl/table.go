package main

import (
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/robertarktes/booking-holds/internal/domain"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func summaryTable(sum domain.Summary) string {
	return renderTable(
		[]string{"Holds closed", "Bids reset", "Requests"},
		[][]string{{strconv.Itoa(sum.HoldsClosed), strconv.Itoa(sum.BidsReset), strconv.Itoa(sum.RequestsAffected)}},
		[]columnAlignment{alignRight, alignRight, alignRight},
	)
}

func bidsTable(bids []domain.Bid) string {
	rows := make([][]string, 0, len(bids))
	for _, b := range bids {
		hold := ""
		if b.FrozenByHoldID != nil {
			hold = b.FrozenByHoldID.String()
		}
		rows = append(rows, []string{
			b.ID.String(),
			b.VenueID.String(),
			string(b.Status),
			string(b.HoldState),
			hold,
			strconv.FormatInt(b.Terms.AmountCents, 10),
		})
	}
	return renderTable(
		[]string{"Bid", "Venue", "Status", "Hold state", "Hold", "Amount (cents)"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
