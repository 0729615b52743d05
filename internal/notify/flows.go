package notify

import (
	"context"

	"shopnotify/internal/domain"
	"shopnotify/internal/store"
)

// FlowStore is the slice of persistence the override resolver needs.
type FlowStore interface {
	FindFlow(ctx context.Context, shopID int64, flowType, language string) (store.Flow, bool, error)
	FindFlowAnyLanguage(ctx context.Context, shopID int64, flowType string) (store.Flow, bool, error)
}

// ResolveOverride finds the merchant-authored flow for a notification type,
// cascading exact language → English → any active language. The cascade
// exists because merchants often author a flow in a single language; a
// customization must not be silently skipped just because the requested
// language wasn't authored. Returns found=false only when no active flow of
// the category exists at all.
func ResolveOverride(ctx context.Context, fs FlowStore, shopID int64, t domain.NotificationType, language string) (store.Flow, bool, error) {
	category, ok := domain.CategoryFor(t)
	if !ok {
		return store.Flow{}, false, nil
	}

	f, found, err := fs.FindFlow(ctx, shopID, string(category), language)
	if err != nil || found {
		return f, found, err
	}

	if language != "en" {
		f, found, err = fs.FindFlow(ctx, shopID, string(category), "en")
		if err != nil || found {
			return f, found, err
		}
	}

	return fs.FindFlowAnyLanguage(ctx, shopID, string(category))
}
