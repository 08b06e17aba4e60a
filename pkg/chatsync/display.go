package chatsync

import (
	"context"
	"log/slog"
	"time"

	"pocketchat/pkg/domain"
)

// ImageResolver turns a stored image reference into something a browser can load.
type ImageResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// View is an entry shaped for rendering.
type View struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	IsUser       bool   `json:"isUser"`
	Text         string `json:"text,omitempty"`
	Image        string `json:"image,omitempty"`
	Timestamp    string `json:"timestamp"`
	Pending      bool   `json:"pending"`
	PersistedVia Route  `json:"persistedVia,omitempty"`
}

// Present maps entries to views. Times are shown as HH:MM in loc (UTC when
// nil). An image that cannot be resolved is rendered with its raw reference.
func Present(ctx context.Context, entries []Entry, resolver ImageResolver, loc *time.Location) []View {
	if loc == nil {
		loc = time.UTC
	}
	views := make([]View, 0, len(entries))
	for _, entry := range entries {
		view := View{
			ID:           entry.ID,
			Key:          entry.Key,
			IsUser:       entry.Role == domain.RoleUser,
			Text:         entry.Text,
			Image:        entry.ImageRef,
			Timestamp:    entry.CreatedAt.In(loc).Format("15:04"),
			Pending:      entry.Pending(),
			PersistedVia: entry.PersistedVia,
		}
		if entry.ImageRef != "" && resolver != nil {
			url, err := resolver.Resolve(ctx, entry.ImageRef)
			if err != nil {
				slog.Warn("resolve image reference failed", "id", entry.ID, "err", err)
			} else {
				view.Image = url
			}
		}
		views = append(views, view)
	}
	return views
}
