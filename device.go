package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Role is a badge's team assignment during an activity.
type Role int

const (
	RoleNeutral Role = iota
	RoleHuman
	RoleZombie
)

func (r Role) String() string {
	switch r {
	case RoleHuman:
		return "human"
	case RoleZombie:
		return "zombie"
	default:
		return "neutral"
	}
}

func (r Role) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}

	role, ok := parseRole(label)
	if !ok {
		return fmt.Errorf("unknown role %q", label)
	}

	*r = role
	return nil
}

// parseRole maps a wire label to a Role. Unknown labels are reported
// rather than coerced, since swap policy treats them differently from
// valid roles.
func parseRole(label string) (Role, bool) {
	switch label {
	case "neutral":
		return RoleNeutral, true
	case "human":
		return RoleHuman, true
	case "zombie":
		return RoleZombie, true
	default:
		return RoleNeutral, false
	}
}

// Phase is the activity's current stage. Its label doubles as the status
// value stamped onto every badge record.
type Phase int

const (
	PhaseSleeping Phase = iota
	PhasePreparing
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhasePreparing:
		return "prepare"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	default:
		return "sleep"
	}
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}

	switch label {
	case "sleep":
		*p = PhaseSleeping
	case "prepare":
		*p = PhasePreparing
	case "active":
		*p = PhaseActive
	case "ended":
		*p = PhaseEnded
	default:
		return fmt.Errorf("unknown phase %q", label)
	}

	return nil
}

// DeviceRecord holds the data we store server-side for one badge.
type DeviceRecord struct {
	ID       string    `json:"id"`
	IP       string    `json:"ip"`
	RSSI     int       `json:"rssi"`
	Role     Role      `json:"role"`
	Status   string    `json:"status"`
	Health   int       `json:"health"`
	Battery  int       `json:"battery"`
	Comment  string    `json:"comment"`
	LastSeen time.Time `json:"last_seen"`
}

// deviceRegistry maps badge id to its record. Records are created on
// first contact, mutated in place afterwards, and never removed.
type deviceRegistry map[string]*DeviceRecord

// upsert refreshes the telemetry fields for id, creating the record if
// this is the badge's first poll. Status and last-seen always come from
// the current phase and clock, not from the client. Role policy is the
// caller's job; upsert reports whether the badge was already known so
// the caller can apply it.
func (dr deviceRegistry) upsert(id, ip string, rssi, health, battery int, comment string, phase Phase, now time.Time) (rec *DeviceRecord, known bool) {
	rec, known = dr[id]
	if !known {
		rec = &DeviceRecord{ID: id}
		dr[id] = rec
	}

	rec.IP = ip
	rec.RSSI = rssi
	rec.Health = health
	rec.Battery = battery
	rec.Comment = comment
	rec.Status = phase.String()
	rec.LastSeen = now

	return rec, known
}

// snapshot returns a copy of every record, stable-sorted by id.
func (dr deviceRegistry) snapshot() []DeviceRecord {
	out := make([]DeviceRecord, 0, len(dr))
	for _, rec := range dr {
		out = append(out, *rec)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})

	return out
}
