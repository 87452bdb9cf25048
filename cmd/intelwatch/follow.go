package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/intelwatch/internal/session"
	"github.com/kalambet/intelwatch/internal/tui"
)

const reportWidth = 100

// stdout receives results: the report or the JSON state.
var stdout io.Writer = os.Stdout

var copyToClipboard = clipboard.WriteAll

// trackedSession is the part of the tracker the follow loop needs.
type trackedSession interface {
	Snapshot() session.State
	Updates() <-chan session.State
	Done() <-chan struct{}
	Reset()
}

type followOptions struct {
	tui    bool
	copy   bool
	json   bool
	output string
}

// follow shows progress until the session finishes or ctx ends, then
// prints the outcome.
func follow(ctx context.Context, a *app, tr trackedSession, opts followOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serveMetrics(gctx) })
	g.Go(func() error {
		defer cancel()
		if opts.tui {
			return runTUI(gctx, tr)
		}
		followPlain(gctx, tr)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return finish(tr.Snapshot(), opts)
}

func runTUI(ctx context.Context, tr trackedSession) error {
	m := tui.New(ctx, tr.Snapshot(), tr.Updates(), tui.Options{
		ExitOnFinish: true,
		Reset:        tr.Reset,
	})
	_, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// followPlain prints one line per noteworthy change.
func followPlain(ctx context.Context, tr trackedSession) {
	prev := session.New()
	show := func(s session.State) {
		for _, l := range describeProgress(prev, s) {
			l.print()
		}
		prev = s
	}

	show(tr.Snapshot())
	done := tr.Done()
	for {
		select {
		case s := <-tr.Updates():
			show(s)
		case <-done:
			show(tr.Snapshot())
			return
		case <-ctx.Done():
			return
		}
	}
}

type lineKind int

const (
	lineStep lineKind = iota
	lineStatus
	lineSuccess
	lineWarning
)

type progressLine struct {
	kind  lineKind
	label string
	text  string
}

func (l progressLine) print() {
	switch l.kind {
	case lineStep:
		printStep("%s", l.text)
	case lineStatus:
		printStatus(l.label, "%s", l.text)
	case lineSuccess:
		printSuccess("%s", l.text)
	case lineWarning:
		printWarning("%s", l.text)
	}
}

// describeProgress lists what changed between two snapshots of the same
// session.
func describeProgress(prev, next session.State) []progressLine {
	var out []progressLine
	if next.ID != prev.ID {
		prev = session.New()
	}

	if next.Phase != prev.Phase && next.Phase != session.PhaseNone {
		out = append(out, progressLine{kind: lineStatus, label: "Phase", text: string(next.Phase)})
	}
	if m := next.StatusLine.Message; m != "" && m != prev.StatusLine.Message {
		out = append(out, progressLine{kind: lineStep, text: m})
	}
	if next.Notice != "" && next.Notice != prev.Notice {
		out = append(out, progressLine{kind: lineWarning, text: next.Notice})
	}
	if next.Status == session.StatusDegraded && prev.Status != session.StatusDegraded {
		out = append(out, progressLine{kind: lineWarning, text: next.Error})
	}
	if n := next.Connection.ReconnectAttempts; n > prev.Connection.ReconnectAttempts {
		out = append(out, progressLine{kind: lineWarning, text: fmt.Sprintf("Reconnecting (attempt %d)", n)})
	}
	if len(next.Queries) > len(prev.Queries) {
		for _, q := range next.Queries[len(prev.Queries):] {
			out = append(out, progressLine{kind: lineStatus, label: "Query", text: fmt.Sprintf("[%s #%d] %s", q.Category, q.Number, q.Text)})
		}
	}
	for _, c := range session.BriefingCategories {
		if next.BriefingStatus[c] && !prev.BriefingStatus[c] {
			out = append(out, progressLine{kind: lineSuccess, text: c + " briefing done"})
		}
	}
	if next.Email.Text != "" && prev.Email.Text == "" {
		out = append(out, progressLine{kind: lineSuccess, text: "Email ready"})
	}
	if next.Proposal.Text != "" && prev.Proposal.Text == "" {
		out = append(out, progressLine{kind: lineSuccess, text: "Proposal ready"})
	}
	return out
}

// finish reports the final outcome of a followed session.
func finish(s session.State, opts followOptions) error {
	switch s.Status {
	case session.StatusFailed:
		return fmt.Errorf("research failed: %s", s.Error)

	case session.StatusComplete:
		printSuccess("Research complete (job %s)", s.JobID)
		switch {
		case opts.json:
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(s); err != nil {
				return fmt.Errorf("encoding session: %w", err)
			}
		case !opts.tui && interactive:
			fmt.Fprint(stdout, tui.RenderReport(s.Report, reportWidth))
		case !opts.tui:
			fmt.Fprintln(stdout, s.Report)
		}
		if opts.output != "" {
			if err := os.WriteFile(opts.output, []byte(s.Report), 0o644); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}
			printSuccess("Report written to %s", opts.output)
		}
		if opts.copy {
			if err := copyToClipboard(s.Report); err != nil {
				printWarning("Could not copy report: %v", err)
			} else {
				printSuccess("Report copied to clipboard")
			}
		}
		return nil

	default:
		if s.JobID == "" {
			printWarning("Session reset")
			return nil
		}
		printWarning("Stopped following job %s; resume with: intelwatch watch %s", s.JobID, s.JobID)
		return nil
	}
}
