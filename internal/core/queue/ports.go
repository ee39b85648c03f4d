package queue

import (
	"context"

	"github.com/fieldops/ftc-queueing/internal/core/schedule"
)

// MatchSource is the slice of the schedule store the notifier needs.
type MatchSource interface {
	MatchesFrom(ctx context.Context, from, limit int) ([]schedule.Match, error)
	TeamRole(ctx context.Context, teamNumber int) (int64, error)
	MarkAnnounced(ctx context.Context, number int) (bool, error)
}

// Announcer delivers one composed message to the notification channel and
// formats role mentions for it.
type Announcer interface {
	Send(ctx context.Context, content string) error
	RolePing(roleID int64) string
}
