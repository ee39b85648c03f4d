package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fieldops/ftc-queueing/internal/config"
	"github.com/fieldops/ftc-queueing/internal/core/schedule"
	"github.com/fieldops/ftc-queueing/internal/telemetry"
)

// DefaultLookahead is how many matches past the one that just started are
// eligible for a queue-ahead ping.
const DefaultLookahead = 3

// Notifier announces upcoming matches when a match starts. Each match is
// announced at most once: the announced flag is a one-way transition guarded
// by the store's compare-and-set, so duplicate or replayed match-start
// events are absorbed.
type Notifier struct {
	store     MatchSource
	sink      Announcer
	templates []string
	lookahead int
}

func NewNotifier(store MatchSource, sink Announcer, templates config.Templates, lookahead int) *Notifier {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Notifier{
		store:     store,
		sink:      sink,
		templates: templates.Slots,
		lookahead: lookahead,
	}
}

// HandleMatchStart runs the queue-ahead decision for a started match.
//
// The send happens before the announced mark, so a crash in between causes
// a duplicate announcement on replay rather than a missed one. A delivery
// failure does not hold the match open for retry; the attempt is logged and
// the match is marked regardless.
func (n *Notifier) HandleMatchStart(ctx context.Context, number int) error {
	start := time.Now()
	telemetry.Metrics.MatchStarts.Inc()

	window, err := n.store.MatchesFrom(ctx, number, 1+n.lookahead)
	if err != nil {
		return fmt.Errorf("fetch window at %d: %w", number, err)
	}

	if len(window) == 0 || window[0].Number != number {
		// The started match isn't in the schedule. Nothing to mark and no
		// trustworthy window to announce from.
		telemetry.Errorf("queue: match %d started but is not in the schedule", number)
		return nil
	}

	if len(window) < 2 || window[0].Announced {
		// No upcoming match, or a duplicate start for an already-announced
		// match. Mark (idempotently) so later duplicates short-circuit here.
		if _, err := n.store.MarkAnnounced(ctx, number); err != nil {
			return fmt.Errorf("mark %d: %w", number, err)
		}
		telemetry.Debugf("queue: match %d started, nothing to announce", number)
		return nil
	}

	upcoming := window[1:]
	lines := n.compose(ctx, upcoming)

	if err := n.sink.Send(ctx, strings.Join(lines, "\n")); err != nil {
		telemetry.Metrics.AnnouncementErrors.Inc()
		telemetry.Errorf("queue: announce after match %d: %v", number, err)
	} else {
		telemetry.Metrics.AnnouncementsSent.Inc()
		telemetry.Metrics.AnnounceLatency.Record(time.Since(start))
		telemetry.Infof("queue: match %d started, announced %d upcoming", number, len(lines))
	}

	if _, err := n.store.MarkAnnounced(ctx, number); err != nil {
		return fmt.Errorf("mark %d: %w", number, err)
	}
	return nil
}

// compose builds one line per upcoming match by zipping the position-indexed
// templates with the matches. With fewer templates than matches the extra
// matches are silently dropped; with fewer matches the extra templates go
// unused.
func (n *Notifier) compose(ctx context.Context, upcoming []schedule.Match) []string {
	count := min(len(upcoming), len(n.templates))

	lines := make([]string, 0, count)
	for i := 0; i < count; i++ {
		m := upcoming[i]
		replacer := strings.NewReplacer(
			"{teams}", n.mentions(ctx, m),
			"{match}", displayName(m),
			"{field}", strconv.Itoa(m.Field),
		)
		lines = append(lines, replacer.Replace(n.templates[i]))
	}
	return lines
}

// mentions resolves the four competing teams to role pings. A team missing
// from the store is a data-integrity fault; the announcement proceeds with
// a plain-text fallback for that team so the other alliances still get
// pinged.
func (n *Notifier) mentions(ctx context.Context, m schedule.Match) string {
	teams := m.Teams()
	parts := make([]string, 0, len(teams))
	for _, t := range teams {
		roleID, err := n.store.TeamRole(ctx, t)
		if err != nil {
			if errors.Is(err, schedule.ErrNotFound) {
				telemetry.Errorf("queue: match %d references unregistered team %d", m.Number, t)
			} else {
				telemetry.Errorf("queue: resolve team %d for match %d: %v", t, m.Number, err)
			}
			parts = append(parts, fmt.Sprintf("Team %d", t))
			continue
		}
		parts = append(parts, n.sink.RolePing(roleID))
	}
	return strings.Join(parts, " ")
}

func displayName(m schedule.Match) string {
	if m.ShortName != "" {
		return m.ShortName
	}
	return fmt.Sprintf("Match %d", m.Number)
}
