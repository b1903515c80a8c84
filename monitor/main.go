// Package monitor shows a panel's heads and track in the terminal.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"go.uber.org/zap"
	"nyiyui.ca/hato/shingou/panel"
)

// HeadRows returns a table of s's heads, with a header row.
func HeadRows(s panel.Snapshot) [][]string {
	rows := [][]string{{"head", "aspect", "indication", "flags"}}
	for _, h := range s.Heads {
		flags := ""
		if h.Set {
			flags += "S"
		} else if h.CanSet {
			flags += "s"
		}
		if h.Latched {
			flags += "L"
		}
		if h.Boundary {
			flags += "B"
		}
		rows = append(rows, []string{fmt.Sprintf("%s::%s", h.Module, h.ID), h.Aspect, h.Indication, flags})
	}
	return rows
}

// TrackRows returns a table of s's turnouts, detectors and blocks, with a header row.
func TrackRows(s panel.Snapshot) [][]string {
	rows := [][]string{{"name", "kind", "state"}}
	for _, t := range s.Turnouts {
		rows = append(rows, []string{t.Name, "turnout", t.State})
	}
	for _, d := range s.Detectors {
		rows = append(rows, []string{d.Name, "detector", occupied(d.Occupied)})
	}
	for _, b := range s.Blocks {
		state := occupied(b.Occupied)
		if b.InUse {
			state += " in-use"
		}
		rows = append(rows, []string{b.Name, "block", state})
	}
	return rows
}

func occupied(o bool) string {
	if o {
		return "occupied"
	}
	return "clear"
}

// stopStyle returns the row styles highlighting heads at aspect stop.
func stopStyle(rows [][]string, stop string) map[int]termui.Style {
	styles := map[int]termui.Style{0: termui.NewStyle(termui.ColorWhite, termui.ColorClear, termui.ModifierBold)}
	for i, row := range rows[1:] {
		if row[1] == stop {
			styles[i+1] = termui.NewStyle(termui.ColorRed)
		} else {
			styles[i+1] = termui.NewStyle(termui.ColorGreen)
		}
	}
	return styles
}

type Conf struct {
	Snapshot func(ctx context.Context) (panel.Snapshot, error)
	Interval time.Duration
	// Stop is the aspect shown in red.
	Stop string
}

// Run draws snapshots every interval until ctx is done or q is pressed.
func Run(ctx context.Context, conf Conf) error {
	err := termui.Init()
	if err != nil {
		return fmt.Errorf("termui init: %w", err)
	}
	defer termui.Close()

	heads := widgets.NewTable()
	heads.Title = "heads"
	heads.RowSeparator = false
	trk := widgets.NewTable()
	trk.Title = "track"
	trk.RowSeparator = false
	status := widgets.NewParagraph()
	status.Border = false

	layout := func() {
		w, h := termui.TerminalDimensions()
		heads.SetRect(0, 0, w/2, h-1)
		trk.SetRect(w/2, 0, w, h-1)
		status.SetRect(0, h-1, w, h)
	}
	layout()
	draw := func() {
		s, err := conf.Snapshot(ctx)
		if err != nil {
			zap.S().Warnw("monitor: snapshot failed", "err", err)
			status.Text = err.Error()
		} else {
			heads.Rows = HeadRows(s)
			heads.RowStyles = stopStyle(heads.Rows, conf.Stop)
			trk.Rows = TrackRows(s)
			status.Text = fmt.Sprintf("%s  %s  (q to quit)", s.Name, s.Time.Format("15:04:05"))
		}
		termui.Render(heads, trk, status)
	}
	draw()

	t := time.NewTicker(conf.Interval)
	defer t.Stop()
	events := termui.PollEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			draw()
		case e := <-events:
			switch {
			case e.ID == "q" || e.ID == "<C-c>":
				return nil
			case e.Type == termui.ResizeEvent:
				termui.Clear()
				layout()
				draw()
			}
		}
	}
}
