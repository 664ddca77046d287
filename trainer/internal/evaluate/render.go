package evaluate

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Bar is one labelled value of a horizontal bar chart.
type Bar struct {
	Label string
	Value float64
}

// WriteConfusion prints the matrix with actual labels as rows.
func WriteConfusion(w io.Writer, c Confusion) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "actual \\ predicted\t%s\t%s\t\n", ClassNames[0], ClassNames[1])
	for k := 0; k < 2; k++ {
		fmt.Fprintf(tw, "%s\t%d\t%d\t\n", ClassNames[k], c.M[k][0], c.M[k][1])
	}
	return tw.Flush()
}

// WriteReport prints the classification report.
func WriteReport(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "\tprecision\trecall\tf1-score\tsupport\t\n")
	for _, m := range r.Classes {
		writeMetrics(tw, m)
	}
	fmt.Fprintf(tw, "\t\t\t\t\t\n")
	fmt.Fprintf(tw, "accuracy\t\t\t%.2f\t%d\t\n", r.Accuracy, r.Total)
	writeMetrics(tw, r.MacroAvg)
	writeMetrics(tw, r.WeightedAvg)
	return tw.Flush()
}

func writeMetrics(w io.Writer, m ClassMetrics) {
	fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%d\t\n", m.Name, m.Precision, m.Recall, m.F1, m.Support)
}

// WriteBars prints a horizontal bar chart scaled so the largest value spans
// width characters.
func WriteBars(w io.Writer, title string, bars []Bar, width int) error {
	if _, err := fmt.Fprintln(w, title); err != nil {
		return err
	}
	var max float64
	labelWidth := 0
	for _, b := range bars {
		if b.Value > max {
			max = b.Value
		}
		if len(b.Label) > labelWidth {
			labelWidth = len(b.Label)
		}
	}
	for _, b := range bars {
		n := 0
		if max > 0 {
			n = int(b.Value / max * float64(width))
		}
		if _, err := fmt.Fprintf(w, "  %-*s %s %.4f\n", labelWidth, b.Label, strings.Repeat("#", n), b.Value); err != nil {
			return err
		}
	}
	return nil
}
