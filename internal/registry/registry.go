// Package registry keeps the in-memory state records for every known
// device and fans attribute changes out to subscriber callbacks.
package registry

import (
	"context"
	"maps"
	"strconv"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/openrent/smartrent-go/api"
)

// Callback is invoked after a device record changes. Callbacks run in
// registration order; blocking work should honor the context.
type Callback func(ctx context.Context)

// Record is the current state of one device. Attribute values are kept
// as raw wire strings; typed access goes through Int/Bool.
type Record struct {
	ID                  int
	Name                string
	Type                string
	Online              bool
	BatteryPowered      bool
	BatteryLevel        int
	WarningBatteryLevel bool
	Attributes          map[string]string
}

// Int parses a float-encoded attribute into an integer. Missing, empty
// and "None" values report ok=false so callers keep their prior value.
func (r Record) Int(name string) (int, bool) {
	raw, present := r.Attributes[name]
	if !present || raw == "" || raw == "None" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

// Bool reports whether the named attribute is the string "true".
func (r Record) Bool(name string) bool {
	return r.Attributes[name] == "true"
}

// Attr returns the raw attribute value.
func (r Record) Attr(name string) (string, bool) {
	v, ok := r.Attributes[name]
	return v, ok
}

func (r Record) equal(other Record) bool {
	return r.ID == other.ID &&
		r.Name == other.Name &&
		r.Type == other.Type &&
		r.Online == other.Online &&
		r.BatteryPowered == other.BatteryPowered &&
		r.BatteryLevel == other.BatteryLevel &&
		r.WarningBatteryLevel == other.WarningBatteryLevel &&
		maps.Equal(r.Attributes, other.Attributes)
}

// subscriber pairs a callback with a removal handle.
type subscriber struct {
	id int
	cb Callback
}

// entry pairs a record with its subscriber callbacks. The concurrent map
// only guards bucket access, so the entry carries its own lock.
type entry struct {
	mu        sync.RWMutex
	rec       Record
	nextSubID int
	callbacks []subscriber
}

// Registry maps device ids to state records. Safe for concurrent use.
type Registry struct {
	entries cmap.ConcurrentMap[string, *entry]
	logger  zerolog.Logger
}

// New creates an empty Registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		entries: cmap.New[*entry](),
		logger:  logger,
	}
}

func key(id int) string { return strconv.Itoa(id) }

func (g *Registry) ensure(id int) *entry {
	return g.entries.Upsert(key(id), nil, func(exists bool, cur, _ *entry) *entry {
		if exists && cur != nil {
			return cur
		}
		return &entry{rec: Record{ID: id, Attributes: map[string]string{}}}
	})
}

// structureAttrs flattens the wire attribute list into a name->state map.
func structureAttrs(attrs []api.Attribute) map[string]string {
	structured := make(map[string]string, len(attrs))
	for _, a := range attrs {
		structured[a.Name] = a.State
	}
	return structured
}

// ApplySnapshot overwrites a device record from a full HTTP snapshot.
// Subscribers are notified only when the record actually changed.
// Reports whether it did.
func (g *Registry) ApplySnapshot(ctx context.Context, snap api.Device) bool {
	rec := Record{
		ID:                  snap.ID,
		Name:                snap.Name,
		Type:                snap.Type,
		Online:              snap.Online,
		BatteryPowered:      snap.BatteryPowered,
		BatteryLevel:        snap.BatteryLevel,
		WarningBatteryLevel: snap.WarningBatteryLevel,
		Attributes:          structureAttrs(snap.Attributes),
	}

	e := g.ensure(snap.ID)

	e.mu.Lock()
	changed := !e.rec.equal(rec)
	e.rec = rec
	callbacks := e.snapshotCallbacks()
	e.mu.Unlock()

	if changed {
		g.logger.Debug().Int("device_id", snap.ID).Msg("Snapshot changed device record")
		g.notify(ctx, snap.ID, callbacks)
	}
	return changed
}

// ApplyEvent patches a single attribute from a websocket push event and
// always notifies subscribers; pushes are taken as intentional even when
// the value is unchanged.
//
// Non-positive humidity readings are discarded; the prior value is kept
// but subscribers are still notified.
func (g *Registry) ApplyEvent(ctx context.Context, id int, name, value string) {
	e, ok := g.entries.Get(key(id))
	if !ok {
		g.logger.Debug().Int("device_id", id).Str("name", name).Msg("Event for unknown device dropped")
		return
	}

	discard := false
	if name == "current_humidity" {
		if f, err := strconv.ParseFloat(value, 64); err != nil || f <= 0 {
			g.logger.Debug().Int("device_id", id).Str("value", value).Msg("Discarding non-positive humidity reading")
			discard = true
		}
	}

	e.mu.Lock()
	if !discard {
		e.rec.Attributes[name] = value
	}
	callbacks := e.snapshotCallbacks()
	e.mu.Unlock()

	g.notify(ctx, id, callbacks)
}

// Get returns a copy of the device record.
func (g *Registry) Get(id int) (Record, bool) {
	e, ok := g.entries.Get(key(id))
	if !ok {
		return Record{}, false
	}
	e.mu.RLock()
	rec := e.rec
	rec.Attributes = maps.Clone(e.rec.Attributes)
	e.mu.RUnlock()
	return rec, true
}

// All returns copies of every record.
func (g *Registry) All() []Record {
	var out []Record
	for _, e := range g.entries.Items() {
		e.mu.RLock()
		rec := e.rec
		rec.Attributes = maps.Clone(e.rec.Attributes)
		e.mu.RUnlock()
		out = append(out, rec)
	}
	return out
}

// ByType returns copies of every record of the given device type.
func (g *Registry) ByType(deviceType string) []Record {
	var out []Record
	for _, rec := range g.All() {
		if rec.Type == deviceType {
			out = append(out, rec)
		}
	}
	return out
}

// Remove drops the record and its callbacks. Only called on explicit
// unsubscribe; records otherwise live for the process lifetime.
func (g *Registry) Remove(id int) {
	g.entries.Remove(key(id))
}

// OnUpdate registers a callback for the device, creating the record if
// it does not exist yet. The returned func removes the callback.
func (g *Registry) OnUpdate(id int, cb Callback) func() {
	e := g.ensure(id)
	e.mu.Lock()
	subID := e.nextSubID
	e.nextSubID++
	e.callbacks = append(e.callbacks, subscriber{id: subID, cb: cb})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		for i, sub := range e.callbacks {
			if sub.id == subID {
				e.callbacks = append(e.callbacks[:i], e.callbacks[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
	}
}

// snapshotCallbacks copies the callback list for dispatch outside the
// entry lock. Caller must hold e.mu.
func (e *entry) snapshotCallbacks() []Callback {
	out := make([]Callback, len(e.callbacks))
	for i, sub := range e.callbacks {
		out[i] = sub.cb
	}
	return out
}

func (g *Registry) notify(ctx context.Context, id int, callbacks []Callback) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error().Int("device_id", id).Interface("panic", r).Msg("Update callback panicked")
				}
			}()
			cb(ctx)
		}()
	}
}
