package queue_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/fieldops/ftc-queueing/internal/config"
	"github.com/fieldops/ftc-queueing/internal/core/queue"
	"github.com/fieldops/ftc-queueing/internal/core/schedule"
)

// fakeStore is an in-memory MatchSource.
type fakeStore struct {
	matches map[int]*schedule.Match
	roles   map[int]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		matches: make(map[int]*schedule.Match),
		roles:   make(map[int]int64),
	}
}

func (f *fakeStore) addMatch(number int, teams [4]int) {
	f.matches[number] = &schedule.Match{
		Number:    number,
		ShortName: fmt.Sprintf("Q-%d", number),
		Field:     1 + number%2,
		Red1:      teams[0], Red2: teams[1], Blue1: teams[2], Blue2: teams[3],
	}
	for _, t := range teams {
		if _, ok := f.roles[t]; !ok {
			f.roles[t] = int64(1000 + t)
		}
	}
}

func (f *fakeStore) MatchesFrom(_ context.Context, from, limit int) ([]schedule.Match, error) {
	var out []schedule.Match
	for n := from; len(out) < limit && n < from+1000; n++ {
		if m, ok := f.matches[n]; ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) TeamRole(_ context.Context, teamNumber int) (int64, error) {
	id, ok := f.roles[teamNumber]
	if !ok {
		return 0, fmt.Errorf("team %d: %w", teamNumber, schedule.ErrNotFound)
	}
	return id, nil
}

func (f *fakeStore) MarkAnnounced(_ context.Context, number int) (bool, error) {
	m, ok := f.matches[number]
	if !ok || m.Announced {
		return false, nil
	}
	m.Announced = true
	return true, nil
}

// fakeSink records every delivered message.
type fakeSink struct {
	sent    []string
	sendErr error
}

func (f *fakeSink) Send(_ context.Context, content string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeSink) RolePing(roleID int64) string { return fmt.Sprintf("<@&%d>", roleID) }

func threeSlots() config.Templates {
	return config.Templates{Slots: []string{
		"next: {match} field {field} {teams}",
		"queueing: {match} field {field} {teams}",
		"soon: {match} field {field} {teams}",
	}}
}

func TestNotifier(t *testing.T) {
	ctx := context.Background()

	Convey("Given a schedule with matches 5 through 8", t, func() {
		store := newFakeStore()
		for n := 5; n <= 8; n++ {
			store.addMatch(n, [4]int{n * 10, n*10 + 1, n*10 + 2, n*10 + 3})
		}
		sink := &fakeSink{}
		notifier := queue.NewNotifier(store, sink, threeSlots(), 3)

		Convey("When match 5 starts", func() {
			err := notifier.HandleMatchStart(ctx, 5)
			So(err, ShouldBeNil)

			Convey("Then one batch of exactly 3 lines is sent, for 6, 7, 8 in order", func() {
				So(sink.sent, ShouldHaveLength, 1)
				lines := strings.Split(sink.sent[0], "\n")
				So(lines, ShouldHaveLength, 3)
				So(lines[0], ShouldStartWith, "next: Q-6")
				So(lines[1], ShouldStartWith, "queueing: Q-7")
				So(lines[2], ShouldStartWith, "soon: Q-8")
			})

			Convey("Then every competing team's role is mentioned", func() {
				lines := strings.Split(sink.sent[0], "\n")
				for _, team := range []int{60, 61, 62, 63} {
					So(lines[0], ShouldContainSubstring, fmt.Sprintf("<@&%d>", 1000+team))
				}
			})

			Convey("Then match 5 is marked announced", func() {
				So(store.matches[5].Announced, ShouldBeTrue)
			})

			Convey("And a duplicate start for match 5 sends nothing more", func() {
				err := notifier.HandleMatchStart(ctx, 5)
				So(err, ShouldBeNil)
				So(sink.sent, ShouldHaveLength, 1)
				So(store.matches[5].Announced, ShouldBeTrue)
			})
		})

		Convey("When the final match starts with nothing after it", func() {
			err := notifier.HandleMatchStart(ctx, 8)
			So(err, ShouldBeNil)

			Convey("Then no message is sent but the match is still marked", func() {
				So(sink.sent, ShouldBeEmpty)
				So(store.matches[8].Announced, ShouldBeTrue)
			})
		})

		Convey("When an unknown match number starts", func() {
			err := notifier.HandleMatchStart(ctx, 99)
			So(err, ShouldBeNil)

			Convey("Then nothing is sent and no state changes", func() {
				So(sink.sent, ShouldBeEmpty)
				for n := 5; n <= 8; n++ {
					So(store.matches[n].Announced, ShouldBeFalse)
				}
			})
		})
	})

	Convey("Given matches 10, 11, 12 and no match 13", t, func() {
		store := newFakeStore()
		for n := 10; n <= 12; n++ {
			store.addMatch(n, [4]int{n * 10, n*10 + 1, n*10 + 2, n*10 + 3})
		}
		sink := &fakeSink{}
		notifier := queue.NewNotifier(store, sink, threeSlots(), 3)

		Convey("When match 10 starts", func() {
			So(notifier.HandleMatchStart(ctx, 10), ShouldBeNil)

			Convey("Then the sink receives one 2-message batch for 11 and 12", func() {
				So(sink.sent, ShouldHaveLength, 1)
				lines := strings.Split(sink.sent[0], "\n")
				So(lines, ShouldHaveLength, 2)
				So(lines[0], ShouldContainSubstring, "Q-11")
				So(lines[1], ShouldContainSubstring, "Q-12")
				So(store.matches[10].Announced, ShouldBeTrue)
			})

			Convey("And re-delivery of the same start produces no further sink call", func() {
				So(notifier.HandleMatchStart(ctx, 10), ShouldBeNil)
				So(sink.sent, ShouldHaveLength, 1)
				So(store.matches[10].Announced, ShouldBeTrue)
			})
		})
	})

	Convey("Given fewer templates than lookahead slots", t, func() {
		store := newFakeStore()
		for n := 1; n <= 5; n++ {
			store.addMatch(n, [4]int{n, n + 100, n + 200, n + 300})
		}
		sink := &fakeSink{}
		two := config.Templates{Slots: []string{"a: {match}", "b: {match}"}}
		notifier := queue.NewNotifier(store, sink, two, 3)

		Convey("When a match starts, the batch truncates to the templated positions", func() {
			So(notifier.HandleMatchStart(ctx, 1), ShouldBeNil)
			So(sink.sent, ShouldHaveLength, 1)
			lines := strings.Split(sink.sent[0], "\n")
			So(lines, ShouldHaveLength, 2)
			So(lines[0], ShouldEqual, "a: Q-2")
			So(lines[1], ShouldEqual, "b: Q-3")
		})
	})

	Convey("Given an upcoming match referencing an unregistered team", t, func() {
		store := newFakeStore()
		store.addMatch(1, [4]int{11, 12, 13, 14})
		store.addMatch(2, [4]int{21, 22, 23, 24})
		delete(store.roles, 22)
		sink := &fakeSink{}
		notifier := queue.NewNotifier(store, sink, threeSlots(), 3)

		Convey("When the match before it starts", func() {
			So(notifier.HandleMatchStart(ctx, 1), ShouldBeNil)

			Convey("Then the batch still goes out with a plain-text fallback", func() {
				So(sink.sent, ShouldHaveLength, 1)
				So(sink.sent[0], ShouldContainSubstring, "Team 22")
				So(sink.sent[0], ShouldContainSubstring, "<@&1021>")
				So(sink.sent[0], ShouldContainSubstring, "<@&1023>")
			})
		})
	})

	Convey("Given a sink that fails delivery", t, func() {
		store := newFakeStore()
		store.addMatch(1, [4]int{11, 12, 13, 14})
		store.addMatch(2, [4]int{21, 22, 23, 24})
		sink := &fakeSink{sendErr: fmt.Errorf("discord down")}
		notifier := queue.NewNotifier(store, sink, threeSlots(), 3)

		Convey("When a match starts, the attempt is abandoned and the match still marked", func() {
			So(notifier.HandleMatchStart(ctx, 1), ShouldBeNil)
			So(store.matches[1].Announced, ShouldBeTrue)
		})
	})
}
