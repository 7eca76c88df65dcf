package farm

import "context"

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID attaches the acting user's ID to ctx
// コンテキストに操作ユーザーIDを設定
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext extracts the acting user's ID, "system" when absent
// コンテキストからユーザーIDを取得
func UserIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok && userID != "" {
		return userID
	}
	return "system"
}
