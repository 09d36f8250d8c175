/*Package profile converts a requested treatment profile into the setpoint
that should be in force at a given elapsed time.

A profile is either constant for the whole run or a sequence of waypoints
with step-hold semantics: the setpoint of the greatest waypoint whose
offset does not exceed the elapsed time, no interpolation.  Lookup is a
pure function of elapsed time, safe to call any number of times per tick.
*/
package profile

import (
	"errors"
	"fmt"
	"time"

	"github.com/mesbahlab/goappj/instrument"
)

var (
	// ErrEmpty is generated when a step profile has no waypoints
	ErrEmpty = errors.New("profile: no waypoints")

	// ErrFirstOffset is generated when a step profile does not begin at
	// offset zero
	ErrFirstOffset = errors.New("profile: first waypoint offset must be 0")
)

// Waypoint is one step of a treatment profile
type Waypoint struct {
	// Offset is the elapsed time at which this waypoint takes effect
	Offset time.Duration `yaml:"offset"`

	// Setpoint is the actuation target held from Offset until the next
	// waypoint
	Setpoint instrument.Setpoint `yaml:",inline"`
}

// Profile is an immutable treatment profile.  The zero value holds the
// zero setpoint forever; build real ones with Constant or Steps.
type Profile struct {
	waypoints []Waypoint
}

// Constant returns a profile that holds sp for the entire run
func Constant(sp instrument.Setpoint) Profile {
	return Profile{waypoints: []Waypoint{{Offset: 0, Setpoint: sp}}}
}

// Steps returns a waypoint profile.  Offsets must be strictly increasing
// and the first must be zero.
func Steps(waypoints []Waypoint) (Profile, error) {
	if len(waypoints) == 0 {
		return Profile{}, ErrEmpty
	}
	if waypoints[0].Offset != 0 {
		return Profile{}, ErrFirstOffset
	}
	for i := 1; i < len(waypoints); i++ {
		if waypoints[i].Offset <= waypoints[i-1].Offset {
			return Profile{}, fmt.Errorf("profile: waypoint %d offset %v does not increase past %v",
				i, waypoints[i].Offset, waypoints[i-1].Offset)
		}
	}
	cpy := make([]Waypoint, len(waypoints))
	copy(cpy, waypoints)
	return Profile{waypoints: cpy}, nil
}

// SetpointAt returns the setpoint in force at the given elapsed time.
// Times before the first waypoint return the first waypoint's setpoint.
func (p Profile) SetpointAt(elapsed time.Duration) instrument.Setpoint {
	if len(p.waypoints) == 0 {
		return instrument.Zero
	}
	sp := p.waypoints[0].Setpoint
	for _, w := range p.waypoints {
		if w.Offset > elapsed {
			break
		}
		sp = w.Setpoint
	}
	return sp
}

// Waypoints returns a copy of the waypoint sequence, for persistence in
// session metadata
func (p Profile) Waypoints() []Waypoint {
	cpy := make([]Waypoint, len(p.waypoints))
	copy(cpy, p.waypoints)
	return cpy
}
