package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"tokenwatch/pkg/model"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetRowLine(false)
	return t
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func renderSession(w io.Writer, s model.CaptureSession) {
	state := "stopped"
	if s.Running {
		state = "running"
	}
	t := newTable(w, []string{"Capture", "Device", "Backend", "Since", "Packets", "Bytes", "HTTP", "Dropped", "Read Errors", "Message"})
	t.Append([]string{
		state,
		s.DeviceName,
		s.Backend,
		formatTime(s.StartTime),
		fmt.Sprintf("%d", s.PacketsCaptured),
		fmt.Sprintf("%d", s.BytesCaptured),
		fmt.Sprintf("%d", s.HTTPMessages),
		fmt.Sprintf("%d", s.DroppedMessages),
		fmt.Sprintf("%d", s.ReadErrors),
		s.Message,
	})
	t.Render()
}

func renderStatuses(w io.Writer, rows []model.TokenStatus) {
	t := newTable(w, []string{"System", "Name", "State", "Acquired", "Expires", "Remaining", "Last URL"})
	for _, r := range rows {
		remaining := "-"
		if r.State == model.StateActive {
			remaining = (time.Duration(r.RemainingSeconds) * time.Second).String()
		}
		t.Append([]string{
			r.SystemID,
			r.SystemName,
			string(r.State),
			formatTime(r.AcquiredAt),
			formatTime(r.ExpiresAt),
			remaining,
			r.LastSeenURL,
		})
	}
	t.Render()
}

func renderEvents(w io.Writer, rows []model.TokenEvent) {
	t := newTable(w, []string{"Time", "Event", "System", "Source URL", "Error"})
	for _, r := range rows {
		t.Append([]string{
			formatTime(&r.OccurredAt),
			string(r.Kind),
			r.SystemName,
			r.SourceURL,
			r.Error,
		})
	}
	t.Render()
}

func renderDevices(w io.Writer, rows []model.NetworkDevice) {
	t := newTable(w, []string{"Name", "Description", "Loopback", "Addresses"})
	for _, r := range rows {
		loopback := ""
		if r.IsLoopback {
			loopback = "yes"
		}
		t.Append([]string{r.Name, r.Description, loopback, strings.Join(r.Addresses, ", ")})
	}
	t.Render()
}

func renderJournal(w io.Writer, rows []model.JournalEntry) {
	t := newTable(w, []string{"Time", "Event", "System", "Fingerprint", "Expires", "Source URL", "Error"})
	for _, r := range rows {
		t.Append([]string{
			formatTime(&r.OccurredAt),
			string(r.Kind),
			r.SystemID,
			r.Fingerprint,
			formatTime(r.ExpiresAt),
			r.SourceURL,
			r.Error,
		})
	}
	t.Render()
}
