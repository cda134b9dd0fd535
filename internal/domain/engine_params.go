package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Focus selects the optimisation objective mode.
type Focus string

const (
	FocusMinimalTime Focus = "minimal-time"
	FocusTimeBalance Focus = "time-balance"
	FocusAll         Focus = "all"
	FocusOld         Focus = "old"
)

func ParseFocus(s string) (Focus, error) {
	switch Focus(s) {
	case FocusMinimalTime, FocusTimeBalance, FocusAll, FocusOld:
		return Focus(s), nil
	}
	return "", fmt.Errorf("unknown focus %q", s)
}

// EngineParameters is the serializable sub-problem unit handed to the
// routing solver; the clustering pipeline produces one per big cluster.
type EngineParameters struct {
	Day                      string           `json:"day"`      // ISO date, e.g. 2026-09-01
	Timezone                 string           `json:"timezone"` // IANA zone name
	Focus                    Focus            `json:"focus"`
	DefaultServiceTime       int              `json:"default_service_time"`        // minutes
	DefaultPickupServiceTime int              `json:"default_pickup_service_time"` // minutes
	UseVehicleCapacity       bool             `json:"use_vehicle_capacity"`
	Jobs                     []*Job           `json:"jobs"`
	Drivers                  []*Driver        `json:"drivers"`
	RequiredStartSequence    []*StartSequence `json:"required_start_sequence,omitempty"`
}

// ToJSON serializes the parameters. FromEngineParametersJSON is its inverse.
func (p *EngineParameters) ToJSON() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("engine parameters: marshal: %w", err)
	}
	return b, nil
}

func FromEngineParametersJSON(data []byte) (*EngineParameters, error) {
	var p EngineParameters
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("engine parameters: unmarshal: %w", err)
	}
	if p.Focus != "" {
		if _, err := ParseFocus(string(p.Focus)); err != nil {
			return nil, fmt.Errorf("engine parameters: %w", err)
		}
	}
	return &p, nil
}

// Validate collects all structural problems across jobs and drivers.
func (p *EngineParameters) Validate() error {
	var errs []error
	if len(p.Jobs) == 0 {
		errs = append(errs, errors.New("engine parameters: at least one job is required"))
	}
	if len(p.Drivers) == 0 {
		errs = append(errs, errors.New("engine parameters: at least one driver is required"))
	}
	for _, j := range p.Jobs {
		if err := j.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, d := range p.Drivers {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServiceTimeFor resolves a job's effective service time in seconds.
func (p *EngineParameters) ServiceTimeFor(job *Job) int {
	if job.ServiceTime > 0 {
		return job.ServiceTime * 60
	}
	return p.DefaultServiceTime * 60
}

// PickupServiceTimeFor resolves a pickup's effective service time in seconds.
func (p *EngineParameters) PickupServiceTimeFor(pickup *Pickup) int {
	if pickup.ServiceTime > 0 {
		return pickup.ServiceTime * 60
	}
	return p.DefaultPickupServiceTime * 60
}
