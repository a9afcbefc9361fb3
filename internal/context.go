package internal

import "context"

type callerKey struct{}

// UserIDFromContext returns the authenticated caller, or "" for anonymous
// requests such as processor webhooks.
func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userID, _ := ctx.Value(callerKey{}).(string)
	return userID
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey{}, userID)
}
