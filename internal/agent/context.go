package agent

import "context"

type contextKey int

const turnKey contextKey = iota

type turnInfo struct {
	sessionID string
	turnID    string
}

func withTurn(ctx context.Context, sessionID, turnID string) context.Context {
	return context.WithValue(ctx, turnKey, turnInfo{sessionID: sessionID, turnID: turnID})
}

func turnFrom(ctx context.Context) turnInfo {
	info, _ := ctx.Value(turnKey).(turnInfo)
	return info
}

// eventData starts an event payload tagged with the turn in ctx.
func eventData(ctx context.Context, kv ...any) map[string]any {
	info := turnFrom(ctx)
	data := map[string]any{
		"session_id": info.sessionID,
		"turn_id":    info.turnID,
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			data[k] = kv[i+1]
		}
	}
	return data
}
