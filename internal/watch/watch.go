// Package watch renders the live event relay of one board, or of every board
// in a namespace, for the `easel watch` command.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/easel/internal/mutation"
	"github.com/dyluth/easel/internal/printer"
	"github.com/dyluth/easel/pkg/board"
)

// OutputFormat specifies how events are rendered.
type OutputFormat string

const (
	// OutputFormatDefault renders one human-readable line per event
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON outputs events as line-delimited JSON
	OutputFormatJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// Source is the relay subscriber. board.Client implements it.
type Source interface {
	Subscribe(ctx context.Context, name string) (*board.Subscription, error)
}

// Stream writes relayed events for boardName (every board when empty) to w
// until ctx is cancelled or the subscription ends.
func Stream(ctx context.Context, src Source, boardName string, format OutputFormat, w io.Writer) error {
	sub, err := src.Subscribe(ctx, boardName)
	if err != nil {
		return err
	}
	defer sub.Close()

	enc := json.NewEncoder(w)
	// JSON output stays machine-readable; warnings go to the status stream.
	warn := w
	if format == OutputFormatJSON {
		warn = printer.Status
	}
	events, errs := sub.Events(), sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			printer.Warning(warn, "%v\n", err)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if format == OutputFormatJSON {
				if err := enc.Encode(ev); err != nil {
					return fmt.Errorf("failed to write event: %w", err)
				}
				continue
			}
			printer.Dim(w, "%s ", time.UnixMilli(ev.CreatedAtMs).UTC().Format("15:04:05.000"))
			fmt.Fprintln(w, FormatEvent(ev))
		}
	}
}

var kindIcons = map[string]string{
	"delete":         "🗑️",
	"update":         "✏️",
	"clearBoard":     "🧹",
	"background":     "🖼️",
	"child":          "➕",
	"doc":            "📄",
	"array":          "📦",
	"copy":           "📋",
	"duplicate":      "📋",
	"dublicate":      "📋",
	"getImagesCount": "🔢",
}

// FormatEvent renders ev as a single line without timestamp.
func FormatEvent(ev *board.Event) string {
	header, err := mutation.Inspect(ev.Data)
	if err != nil {
		return fmt.Sprintf("⚠️  [%s] undecodable mutation from %s", ev.Board, ev.Origin)
	}
	kind := header.Type
	if kind == "" {
		kind = "create"
	}
	icon, ok := kindIcons[kind]
	if !ok {
		icon = "🖊️"
	}

	line := fmt.Sprintf("%s [%s] %s", icon, ev.Board, kind)
	switch {
	case header.ID != "":
		line += " id=" + header.ID
	case header.Parent != "":
		line += " parent=" + header.Parent
	case len(header.Events) > 0:
		line += fmt.Sprintf(" events=%d", len(header.Events))
	}
	if header.Tool != "" {
		line += " tool=" + header.Tool
	}
	if user := userLabel(ev.User); user != "" {
		line += " by=" + user
	}
	return line
}

// userLabel renders the client-declared user: a string as is, an object by
// its name field, anything else compactly encoded.
func userLabel(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var named struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &named) == nil && named.Name != "" {
		return named.Name
	}
	return string(raw)
}
