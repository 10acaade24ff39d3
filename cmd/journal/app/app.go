package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/radiolith/jamguard/internal/storage"
)

const (
	amplitudeBinWidth = 25.0
	histogramBarWidth = 40
)

func Run(ctx context.Context, config *Config) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("journal database '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.New(config.DBPath)
	defer store.Close()

	if config.SessionID == 0 {
		return listSessions(ctx, os.Stdout, store)
	}
	return summarizeSession(ctx, os.Stdout, store, config)
}

func listSessions(ctx context.Context, w io.Writer, store *storage.Store) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		_, err = fmt.Fprintln(w, "No sessions recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRUN\tSTARTED\tCARRIER\tNOISE\tCYCLES")
	for _, sess := range sessions {
		count, err := store.CycleCount(ctx, sess.ID)
		if err != nil {
			return err
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%s\n",
			sess.ID,
			sess.RunID,
			humanize.Time(sess.StartedAt),
			humanHz(sess.Frequency),
			sess.NoiseLevel,
			humanize.Comma(count))
	}
	return tw.Flush()
}

func summarizeSession(ctx context.Context, w io.Writer, store *storage.Store, config *Config) error {
	session, err := store.Session(ctx, config.SessionID)
	if err != nil {
		return err
	}

	var opts []storage.CycleOption
	if config.AnomaliesOnly {
		opts = append(opts, storage.WithAnomalousOnly())
	}
	if config.Limit > 0 {
		opts = append(opts, storage.WithLimit(config.Limit))
	}

	reader, err := store.Cycles(ctx, session.ID, opts...)
	if err != nil {
		return err
	}
	defer reader.Close()

	printSessionHeader(w, session)

	stats := newSessionStats(amplitudeBinWidth)
	var cycles []*storage.CycleRecord
	for reader.Next(ctx) {
		rec := reader.Current()
		stats.update(rec)
		cycles = append(cycles, rec)
	}
	if err = reader.Err(); err != nil {
		return err
	}

	if len(cycles) == 0 {
		_, err = fmt.Fprintln(w, "\nNo cycles recorded.")
		return err
	}

	fmt.Fprintln(w)
	if err = printCycleTable(w, cycles); err != nil {
		return err
	}
	printSessionStats(w, stats)

	if config.ShowEvents {
		return printEventTrails(ctx, w, store, cycles)
	}
	return nil
}

type sessionStats struct {
	cycles    int
	anomalous int
	jammed    int
	switched  int
	failures  int
	hist      *AmplitudeHistogram
}

func newSessionStats(binWidth float64) *sessionStats {
	return &sessionStats{hist: NewAmplitudeHistogram(binWidth)}
}

func (st *sessionStats) update(rec *storage.CycleRecord) {
	st.cycles++
	if rec.Anomalous {
		st.anomalous++
	}
	if rec.Jammed {
		st.jammed++
	}
	if rec.Switched {
		st.switched++
	}
	if !rec.Secured {
		st.failures++
	}
	st.hist.Update(rec.PeakAmplitude)
}

func printSessionHeader(w io.Writer, session *storage.Session) {
	fmt.Fprintf(w, "Session %d: run %s\n", session.ID, session.RunID)
	fmt.Fprintf(w, "Started %s (%s)\n",
		session.StartedAt.Local().Format(time.DateTime), humanize.Time(session.StartedAt))
	fmt.Fprintf(w, "Carrier %s, noise level %.2f, detection threshold %.1f, channels [%s], seed %d\n",
		humanHz(session.Frequency), session.NoiseLevel, session.Threshold, session.ChannelPlan, session.Seed)
}

func printCycleTable(w io.Writer, cycles []*storage.CycleRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTARTED\tDURATION\tPEAK\tANOMALY\tJAMMED\tSWITCH\tHOP\tCHANNEL\tSECURED")
	for _, rec := range cycles {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.Sequence,
			rec.StartedAt.Local().Format(time.DateTime),
			rec.Duration.Round(time.Microsecond),
			rec.PeakAmplitude,
			yesNo(rec.Anomalous),
			yesNo(rec.Jammed),
			switchColumn(rec),
			hopColumn(rec),
			rec.Channel,
			yesNo(rec.Secured))
	}
	return tw.Flush()
}

func printSessionStats(w io.Writer, stats *sessionStats) {
	fmt.Fprintf(w, "\nCycles %s, anomalous %s, jammed %s, switched %s, secure failures %s\n",
		humanize.Comma(int64(stats.cycles)),
		percent(stats.anomalous, stats.cycles),
		percent(stats.jammed, stats.cycles),
		percent(stats.switched, stats.cycles),
		percent(stats.failures, stats.cycles))

	bounds := stats.hist.PercentileBounds()
	fmt.Fprintf(w, "Peak amplitude mean %.1f, p5 %.1f, p95 %.1f\n", bounds.Mean, bounds.Min, bounds.Max)
	printHistogram(w, stats.hist)
}

func printHistogram(w io.Writer, hist *AmplitudeHistogram) {
	bins := hist.Bins()

	var max uint32
	for _, b := range bins {
		if b.Count > max {
			max = b.Count
		}
	}
	if max == 0 {
		return
	}

	fmt.Fprintln(w)
	for _, b := range bins {
		bar := int(uint64(b.Count) * histogramBarWidth / uint64(max))
		if b.Count > 0 && bar == 0 {
			bar = 1
		}
		fmt.Fprintf(w, "%8.1f .. %8.1f  %-*s %d\n",
			b.Low, b.High, histogramBarWidth, strings.Repeat("#", bar), b.Count)
	}
}

func printEventTrails(ctx context.Context, w io.Writer, store *storage.Store, cycles []*storage.CycleRecord) error {
	for _, rec := range cycles {
		events, err := store.Events(ctx, rec.ID)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "\nCycle %d (%s)\n", rec.Sequence, rec.CycleID)
		for _, ev := range events {
			fmt.Fprintf(w, "  %s  %-12s %s\n", ev.At.Local().Format(time.TimeOnly), ev.Phase, ev.Message)
		}
	}
	return nil
}

func switchColumn(rec *storage.CycleRecord) string {
	if !rec.Switched || rec.SwitchedFrom == nil || rec.SwitchedTo == nil {
		return "-"
	}
	return fmt.Sprintf("%d->%d", *rec.SwitchedFrom, *rec.SwitchedTo)
}

func hopColumn(rec *storage.CycleRecord) string {
	return fmt.Sprintf("%d->%d", rec.HoppedFrom, rec.HoppedTo)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func percent(n, total int) string {
	if total == 0 {
		return "0 (0.0%)"
	}
	return fmt.Sprintf("%d (%.1f%%)", n, float64(n)*100/float64(total))
}

func humanHz(hz float64) string {
	fract, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.2f %sHz", fract, suffix)
}
