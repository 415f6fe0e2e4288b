package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/quantrail/fixcore/internal/replayindex"
	"github.com/quantrail/fixcore/internal/sessionctx"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatSessions renders a slice of session summaries in the requested format.
func formatSessions(sessions []sessionctx.SessionSummary, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatSessionsJSON(sessions)
	case formatTable:
		return formatSessionsTable(sessions)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatRecords renders a slice of replay-index records in the requested format.
func formatRecords(records []replayindex.Record, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatRecordsJSON(records)
	case formatTable:
		return formatRecordsTable(records)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatSessionsTable(sessions []sessionctx.SessionSummary) (string, error) {
	var buf strings.Builder

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION-ID\tSENDER\tTARGET\tSEQ-INDEX\tLOGON-TIME\tAUTHENTICATED")

	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%t\n",
			s.SessionID,
			compositeKeySide(s.Key.SenderCompID, s.Key.SenderSubID, s.Key.SenderLocationID),
			compositeKeySide(s.Key.TargetCompID, s.Key.TargetSubID, s.Key.TargetLocationID),
			s.SequenceIndex,
			logonTimeString(s.LogonTime),
			s.Authenticated,
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatSessionDetail(s sessionctx.SessionSummary) (string, error) {
	var buf strings.Builder

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Session ID:\t%d\n", s.SessionID)
	fmt.Fprintf(w, "Sender:\t%s\n", compositeKeySide(s.Key.SenderCompID, s.Key.SenderSubID, s.Key.SenderLocationID))
	fmt.Fprintf(w, "Target:\t%s\n", compositeKeySide(s.Key.TargetCompID, s.Key.TargetSubID, s.Key.TargetLocationID))
	fmt.Fprintf(w, "Sequence Index:\t%d\n", s.SequenceIndex)
	fmt.Fprintf(w, "Logon Time:\t%s\n", logonTimeString(s.LogonTime))
	fmt.Fprintf(w, "File Position:\t%d\n", s.FilePosition)
	fmt.Fprintf(w, "Authenticated:\t%t\n", s.Authenticated)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatRecordsTable(records []replayindex.Record) (string, error) {
	var buf strings.Builder

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDING-ID\tPOSITION\tSTREAM\tSEQ-NUM\tSEQ-INDEX\tLENGTH")

	for _, r := range records {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\n",
			r.RecordingID, r.Position, r.StreamID, r.SequenceNumber, r.SequenceIndex, r.Length)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func compositeKeySide(compID, subID, locationID string) string {
	parts := []string{compID}
	if subID != "" {
		parts = append(parts, subID)
	}

	if locationID != "" {
		parts = append(parts, locationID)
	}

	return strings.Join(parts, "/")
}

func logonTimeString(epochNanos int64) string {
	if epochNanos == 0 {
		return "N/A"
	}

	return time.Unix(0, epochNanos).UTC().Format(time.RFC3339Nano)
}

// --- JSON formatters ---

func formatSessionsJSON(sessions []sessionctx.SessionSummary) (string, error) {
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionToView(s))
	}

	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sessions to JSON: %w", err)
	}

	return string(data), nil
}

func formatSessionJSON(s sessionctx.SessionSummary) (string, error) {
	data, err := json.MarshalIndent(sessionToView(s), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session to JSON: %w", err)
	}

	return string(data), nil
}

func formatRecordsJSON(records []replayindex.Record) (string, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal records to JSON: %w", err)
	}

	return string(data), nil
}

// --- View types for clean JSON output ---

type sessionView struct {
	SessionID     uint64 `json:"session_id"`
	Sender        string `json:"sender"`
	Target        string `json:"target"`
	SequenceIndex int32  `json:"sequence_index"`
	LogonTime     string `json:"logon_time,omitempty"`
	FilePosition  int64  `json:"file_position"`
	Authenticated bool   `json:"authenticated"`
}

func sessionToView(s sessionctx.SessionSummary) sessionView {
	v := sessionView{
		SessionID:     s.SessionID,
		Sender:        compositeKeySide(s.Key.SenderCompID, s.Key.SenderSubID, s.Key.SenderLocationID),
		Target:        compositeKeySide(s.Key.TargetCompID, s.Key.TargetSubID, s.Key.TargetLocationID),
		SequenceIndex: s.SequenceIndex,
		FilePosition:  s.FilePosition,
		Authenticated: s.Authenticated,
	}

	if s.LogonTime != 0 {
		v.LogonTime = logonTimeString(s.LogonTime)
	}

	return v
}
