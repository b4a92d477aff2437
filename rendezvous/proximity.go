package rendezvous

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"nicmeup/geo"
	"nicmeup/models"
)

// tracker watches the distance between the two participants. Location
// updates are debounced; once the pair is within ProximityMeters for
// ProximityHold it emits one completion prompt. Moving apart starts a new
// episode. The first close reading also logs the meetup.
type tracker struct {
	svc  *Service
	sess *models.Session
	send func(Event)
	log  zerolog.Logger

	points   map[string]geo.Point
	prompted bool
	logged   bool
}

func (t *tracker) distance() (float64, bool) {
	a, okA := t.points[t.sess.RequesterID]
	b, okB := t.points[t.sess.RecipientID]
	if !okA || !okB || !a.Valid() || !b.Valid() {
		return 0, false
	}
	d := geo.Distance(a, b)
	return d, d <= t.svc.proto.ProximityMeters
}

func (t *tracker) run(ctx context.Context, updates <-chan locationUpdate) error {
	t.points = make(map[string]geo.Point, 2)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	hold := time.NewTimer(time.Hour)
	hold.Stop()
	defer debounce.Stop()
	defer hold.Stop()
	holding := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case u := <-updates:
			t.points[u.userID] = u.point
			debounce.Reset(t.svc.proto.ProximityDebounce)

		case <-debounce.C:
			_, near := t.distance()
			if !near {
				if holding {
					hold.Stop()
					holding = false
				}
				t.prompted = false
				continue
			}
			t.logMeetup(ctx)
			if !t.prompted && !holding {
				hold.Reset(t.svc.proto.ProximityHold)
				holding = true
			}

		case <-hold.C:
			holding = false
			d, near := t.distance()
			if near && !t.prompted {
				t.prompted = true
				t.send(Event{Kind: EventProximity, Distance: d})
			}
		}
	}
}

func (t *tracker) logMeetup(ctx context.Context) {
	if t.logged {
		return
	}
	if _, err := t.svc.activity.Record(ctx, t.sess); err != nil {
		t.log.Warn().Err(err).Msg("log meetup")
		return
	}
	t.logged = true
}
