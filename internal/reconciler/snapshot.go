package reconciler

import (
	"fmt"
	"time"

	"github.com/roadbuddy/fleetwatch/internal/roster"
	"github.com/roadbuddy/fleetwatch/internal/telemetry"
)

// Vehicle is one entry of the fleet snapshot.
type Vehicle struct {
	VehicleID string
	Name      string
	State     telemetry.DriverState
	Location  telemetry.Location
	// LastUpdate is the timestamp of the last applied event, zero until the
	// first one arrives.
	LastUpdate time.Time
	// Positioned is false while Location is the configured default.
	Positioned bool
}

// Notification records a transition into a non-baseline state.
type Notification struct {
	ID           string
	VehicleID    string
	DriverName   string
	State        telemetry.DriverState
	Location     telemetry.Location
	Timestamp    time.Time
	Acknowledged bool
}

// snapshot is the reconciler's fleet state. Callers hold the reconciler lock.
type snapshot struct {
	vehicles      map[string]*Vehicle
	notifications []Notification // newest first
	capacity      int
	defaultLoc    telemetry.Location
}

func newSnapshot(capacity int, defaultLoc telemetry.Location) *snapshot {
	return &snapshot{
		vehicles:   make(map[string]*Vehicle),
		capacity:   capacity,
		defaultLoc: defaultLoc,
	}
}

// load merges a roster into the snapshot. New vehicles start at the default
// location; vehicles already positioned by telemetry keep their live state;
// vehicles absent from the roster are dropped. Loading never notifies.
func (s *snapshot) load(drivers []roster.Driver) (added, removed int) {
	next := make(map[string]*Vehicle, len(drivers))
	for _, d := range drivers {
		if _, dup := next[d.VehicleID]; dup {
			continue
		}
		if v, ok := s.vehicles[d.VehicleID]; ok {
			v.Name = d.Name
			if !v.Positioned {
				v.State = d.State
			}
			next[d.VehicleID] = v
			continue
		}

		next[d.VehicleID] = &Vehicle{
			VehicleID: d.VehicleID,
			Name:      d.Name,
			State:     d.State,
			Location:  s.defaultLoc,
		}
		added++
	}

	for id := range s.vehicles {
		if _, ok := next[id]; !ok {
			removed++
		}
	}
	s.vehicles = next
	return added, removed
}

// apply overwrites the vehicle with e. Events for unknown vehicles are not
// applied.
func (s *snapshot) apply(e telemetry.Event) (n Notification, applied, notified bool) {
	v, ok := s.vehicles[e.VehicleID]
	if !ok {
		return Notification{}, false, false
	}

	previous := v.State
	v.State = e.State
	v.Location = e.Location
	v.LastUpdate = e.Timestamp
	v.Positioned = true

	if e.State == previous || e.State.IsBaseline() {
		return Notification{}, true, false
	}

	n = Notification{
		ID:         s.notificationID(e),
		VehicleID:  e.VehicleID,
		DriverName: v.Name,
		State:      e.State,
		Location:   e.Location,
		Timestamp:  e.Timestamp,
	}
	s.push(n)
	return n, true, true
}

// push front-inserts n and evicts the oldest entries beyond capacity.
func (s *snapshot) push(n Notification) {
	s.notifications = append(s.notifications, Notification{})
	copy(s.notifications[1:], s.notifications)
	s.notifications[0] = n
	if len(s.notifications) > s.capacity {
		clear(s.notifications[s.capacity:])
		s.notifications = s.notifications[:s.capacity]
	}
}

// notificationID is "<vehicle>-<unix ms>", suffixed when two transitions of
// one vehicle share a millisecond.
func (s *snapshot) notificationID(e telemetry.Event) string {
	base := fmt.Sprintf("%s-%d", e.VehicleID, e.Timestamp.UnixMilli())
	id := base
	for i := 2; s.indexOf(id) >= 0; i++ {
		id = fmt.Sprintf("%s-%d", base, i)
	}
	return id
}

func (s *snapshot) indexOf(id string) int {
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *snapshot) acknowledge(id string) error {
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
	}
	s.notifications[i].Acknowledged = true
	return nil
}

func (s *snapshot) unacknowledged() int {
	count := 0
	for i := range s.notifications {
		if !s.notifications[i].Acknowledged {
			count++
		}
	}
	return count
}
