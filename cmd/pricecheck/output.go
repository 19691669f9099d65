package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/reconcile"
	"github.com/rewired-gh/pricecheck/internal/validator"
)

const (
	formatAuto  = "auto"
	formatTable = "table"
	formatJSON  = "json"
)

func checkFormat(format string) error {
	switch format {
	case formatAuto, formatTable, formatJSON:
		return nil
	}
	return fmt.Errorf("invalid output format %q, must be one of: auto, table, json", format)
}

// resolveFormat turns "auto" into table on a terminal and JSON otherwise.
func resolveFormat(format string, w io.Writer) string {
	if format != formatAuto {
		return format
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return formatTable
	}
	return formatJSON
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult renders a single-SKU reconciliation.
func printResult(w io.Writer, r *reconcile.Result, format string) error {
	if resolveFormat(format, w) == formatJSON {
		return writeJSON(w, r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSTEP\tPROBABILITY\tPREDICTED\tACTUAL\tPRICE\tPREVIOUS\tCHANGE\tCORRECT")
	for _, c := range r.Comparisons {
		price := formatMaybe(c.ActualPrice, formatPrice)
		if c.PriceFilled && c.ActualPrice.IsKnown() {
			price += "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Date,
			c.PredictionStep,
			strconv.FormatFloat(c.Probability, 'f', 3, 64),
			c.PredictedLabel,
			c.ActualLabel,
			price,
			formatMaybe(c.PreviousPrice, formatPrice),
			formatMaybe(c.PriceChange, signedPercent),
			formatCorrect(c.IsCorrect),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := r.Stats
	fmt.Fprintf(w, "\nSKU %s, %s to %s, probability > %s, change > %s\n",
		r.SKUID, r.Metadata.StartDate, r.Metadata.EndDate,
		strconv.FormatFloat(r.Params.ProbabilityThreshold, 'f', -1, 64),
		percent(r.Params.ChangeThreshold))
	fmt.Fprintf(w, "Accuracy:  %s (%s of %s days, %s unknown)\n",
		formatMaybe(s.Accuracy, percent),
		humanize.Comma(int64(s.CorrectCount)),
		humanize.Comma(int64(s.TotalCompared)),
		humanize.Comma(int64(s.UnknownCount)))
	fmt.Fprintf(w, "Changed:   %s (%d of %d days)\n",
		formatMaybe(s.Changed.Accuracy, percent), s.Changed.CorrectCount, s.Changed.TotalCompared)
	fmt.Fprintf(w, "Unchanged: %s (%d of %d days)\n",
		formatMaybe(s.Unchanged.Accuracy, percent), s.Unchanged.CorrectCount, s.Unchanged.TotalCompared)
	fmt.Fprintf(w, "Precision: %s, recall: %s\n",
		formatMaybe(s.Precision, percent), formatMaybe(s.Recall, percent))
	if r.Metadata.FilledDays > 0 {
		fmt.Fprintf(w, "* %d forward-filled days\n", r.Metadata.FilledDays)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	return nil
}

// printBatch renders a ranked batch report.
func printBatch(w io.Writer, report *validator.BatchReport, format string) error {
	if resolveFormat(format, w) == formatJSON {
		return writeJSON(w, report)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSKU\tACCURACY\tCORRECT\tCOMPARED\tUNKNOWN\tERROR")
	for i, r := range report.Results {
		stats := r.Stats()
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			i+1, r.SKUID, formatMaybe(r.Accuracy, percent),
			stats.CorrectCount, stats.TotalCompared, stats.UnknownCount, errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nRun %s: date %s, step %d, %d SKUs, %d failed, %v\n",
		report.RunID, report.PredictionDate, report.Step,
		len(report.Results), len(report.Errors), report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Overall accuracy: %s (%s of %s days)\n",
		formatMaybe(report.Overall, percent),
		humanize.Comma(int64(report.CorrectCount)),
		humanize.Comma(int64(report.TotalCompared)))
	return nil
}

func formatMaybe[T any](m models.Maybe[T], format func(T) string) string {
	v, ok := m.Get()
	if !ok {
		return "-"
	}
	return format(v)
}

func formatCorrect(m models.Maybe[bool]) string {
	return formatMaybe(m, func(ok bool) string {
		if ok {
			return "yes"
		}
		return "no"
	})
}

func formatPrice(v float64) string {
	return humanize.CommafWithDigits(v, 2)
}

func percent(v float64) string {
	return humanize.FtoaWithDigits(v*100, 1) + "%"
}

func signedPercent(v float64) string {
	s := percent(v)
	if v > 0 {
		return "+" + s
	}
	return s
}
