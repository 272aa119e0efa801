package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/tickstore/internal/activityloader"
	"github.com/rpattn/tickstore/internal/repository"
)

type ctxKey string

const activityLoaderKey ctxKey = "activityLoader"

// DataLoaderMiddleware attaches a fresh activity loader to the request context
func DataLoaderMiddleware(repo repository.ActivityRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := activityloader.NewActivityLoader(repo)
			ctx := context.WithValue(r.Context(), activityLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActivityLoaderFromContext retrieves the activity loader from context
func ActivityLoaderFromContext(ctx context.Context) *activityloader.ActivityLoader {
	if l, ok := ctx.Value(activityLoaderKey).(*activityloader.ActivityLoader); ok {
		return l
	}
	return nil
}
