// Package event implements the multi-source reading event: the consolidated
// result of one collection run, with per-source properties kept in the
// order the sources were added.
package event

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Guliveer/databot/internal/address"
	"github.com/Guliveer/databot/internal/models"
)

// TimedEvent is an event carrying a collection timestamp.
type TimedEvent interface {
	ID() string
	Time() time.Time
}

// MultiSourceReading aggregates the readings of one collection run.
// The collection task is the only writer; once the event is handed to the
// queue it is read-only.
type MultiSourceReading struct {
	id    string
	start time.Time
	now   func() time.Time

	mu        sync.RWMutex
	end       time.Time
	addresses []address.Address
	readings  map[address.Address][]models.Property
}

// New creates an empty event and captures the collection start timestamp.
func New() *MultiSourceReading {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *MultiSourceReading {
	t := now()
	return &MultiSourceReading{
		id:       uuid.NewString(),
		start:    t,
		end:      t,
		now:      now,
		readings: make(map[address.Address][]models.Property),
	}
}

// AddSourceReading records the properties read from a source. A nil slice is
// stored as an empty one. Each call stamps the collection end.
func (e *MultiSourceReading) AddSourceReading(a address.Address, props []models.Property) {
	stored := make([]models.Property, len(props))
	copy(stored, props)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, seen := e.readings[a]; !seen {
		e.addresses = append(e.addresses, a)
		e.readings[a] = stored
	} else {
		e.readings[a] = append(e.readings[a], stored...)
	}
	e.end = e.now()
}

// ID returns the unique event identifier.
func (e *MultiSourceReading) ID() string { return e.id }

// Time returns the collection start; it is the event's timestamp.
func (e *MultiSourceReading) Time() time.Time { return e.start }

// CollectionStart returns the instant captured before dispatch began.
func (e *MultiSourceReading) CollectionStart() time.Time { return e.start }

// CollectionEnd returns the instant the last reading was recorded.
func (e *MultiSourceReading) CollectionEnd() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.end
}

// Duration is the time between collection start and end.
func (e *MultiSourceReading) Duration() time.Duration {
	return e.CollectionEnd().Sub(e.start)
}

// SourceAddresses returns the source addresses in insertion order.
func (e *MultiSourceReading) SourceAddresses() []address.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]address.Address, len(e.addresses))
	copy(out, e.addresses)
	return out
}

// PropertiesFor returns the properties read from a, or an empty slice if the
// source failed, produced nothing or was never added.
func (e *MultiSourceReading) PropertiesFor(a address.Address) []models.Property {
	e.mu.RLock()
	defer e.mu.RUnlock()
	props := e.readings[a]
	out := make([]models.Property, len(props))
	copy(out, props)
	return out
}

// AllPropertiesCount returns the number of properties across all sources.
func (e *MultiSourceReading) AllPropertiesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, props := range e.readings {
		n += len(props)
	}
	return n
}

// Describe renders one line per property, "index: literal/name(type): value".
func (e *MultiSourceReading) Describe() string {
	var b strings.Builder
	index := 0
	for _, a := range e.SourceAddresses() {
		literal := a.Literal()
		for _, p := range e.PropertiesFor(a) {
			if index > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("  ")
			b.WriteString(strconv.Itoa(index))
			b.WriteString(": ")
			b.WriteString(literal)
			b.WriteByte('/')
			b.WriteString(p.String())
			index++
		}
	}
	return b.String()
}

// SortedLiterals returns the source address literals sorted alphabetically,
// used for log lines.
func (e *MultiSourceReading) SortedLiterals() []string {
	addrs := e.SourceAddresses()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Literal())
	}
	sort.Strings(out)
	return out
}

type propertyJSON struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type sourceJSON struct {
	Address    string         `json:"address"`
	Properties []propertyJSON `json:"properties"`
}

type eventJSON struct {
	ID              string       `json:"id"`
	CollectionStart time.Time    `json:"collection_start"`
	CollectionEnd   time.Time    `json:"collection_end"`
	Sources         []sourceJSON `json:"sources"`
}

// MarshalJSON implements json.Marshaler. Sources keep insertion order.
func (e *MultiSourceReading) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		ID:              e.id,
		CollectionStart: e.start.UTC(),
		CollectionEnd:   e.CollectionEnd().UTC(),
		Sources:         []sourceJSON{},
	}
	for _, a := range e.SourceAddresses() {
		s := sourceJSON{Address: a.Literal(), Properties: []propertyJSON{}}
		for _, p := range e.PropertiesFor(a) {
			s.Properties = append(s.Properties, propertyJSON{Name: p.Name, Type: p.Type.String(), Value: p.Value})
		}
		out.Sources = append(out.Sources, s)
	}
	return json.Marshal(out)
}
