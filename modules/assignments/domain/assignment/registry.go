package assignment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
)

type Kind string

const (
	DriverToVehicle Kind = "driver_to_vehicle"
	MinderToVehicle Kind = "minder_to_vehicle"
	ChildToVehicle  Kind = "child_to_vehicle"
	VehicleToRoute  Kind = "vehicle_to_route"
	DriverToRoute   Kind = "driver_to_route"
	MinderToRoute   Kind = "minder_to_route"
	ChildToRoute    Kind = "child_to_route"
)

// Spec describes what an assignment kind pairs and which rules apply to it.
type Spec struct {
	Assignee entity.Kind
	Target   entity.Kind
	// SingleOccupancy kinds keep at most one active record per assignee.
	SingleOccupancy bool
	// Occupant kinds consume a seat of the target vehicle.
	Occupant bool
}

type Registry struct {
	mu    sync.RWMutex
	specs map[Kind]Spec
}

func NewRegistry() *Registry {
	return &Registry{specs: map[Kind]Spec{}}
}

// DefaultRegistry returns a fresh registry holding the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for kind, spec := range map[Kind]Spec{
		DriverToVehicle: {Assignee: entity.KindDriver, Target: entity.KindVehicle, SingleOccupancy: true},
		MinderToVehicle: {Assignee: entity.KindMinder, Target: entity.KindVehicle, SingleOccupancy: true},
		ChildToVehicle:  {Assignee: entity.KindChild, Target: entity.KindVehicle, Occupant: true},
		VehicleToRoute:  {Assignee: entity.KindVehicle, Target: entity.KindRoute},
		DriverToRoute:   {Assignee: entity.KindDriver, Target: entity.KindRoute},
		MinderToRoute:   {Assignee: entity.KindMinder, Target: entity.KindRoute},
		ChildToRoute:    {Assignee: entity.KindChild, Target: entity.KindRoute},
	} {
		if err := r.Register(kind, spec); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Register(kind Kind, spec Spec) error {
	if kind == "" {
		return fmt.Errorf("assignment kind is required")
	}
	if !spec.Assignee.Valid() || !spec.Target.Valid() {
		return fmt.Errorf("assignment kind %q: invalid entity pair %q -> %q", kind, spec.Assignee, spec.Target)
	}
	if spec.Occupant && spec.Target != entity.KindVehicle {
		return fmt.Errorf("assignment kind %q: occupant kinds must target a vehicle", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[kind]; exists {
		return fmt.Errorf("assignment kind %q already registered", kind)
	}
	r.specs[kind] = spec
	return nil
}

func (r *Registry) Lookup(kind Kind) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[kind]
	return spec, ok
}

func (r *Registry) AllowedPair(kind Kind) (assignee, target entity.Kind, ok bool) {
	spec, ok := r.Lookup(kind)
	return spec.Assignee, spec.Target, ok
}

// Validate checks assignee and target against the registered pair.
func (r *Registry) Validate(kind Kind, assignee, target entity.Ref) error {
	spec, ok := r.Lookup(kind)
	if !ok {
		return &MismatchError{Kind: kind, Unknown: true}
	}
	if assignee == nil || target == nil ||
		assignee.Kind() != spec.Assignee || target.Kind() != spec.Target {
		err := &MismatchError{Kind: kind, WantAssignee: spec.Assignee, WantTarget: spec.Target}
		if assignee != nil {
			err.GotAssignee = assignee.Kind()
		}
		if target != nil {
			err.GotTarget = target.Kind()
		}
		return err
	}
	return nil
}

func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.specs))
	for k := range r.specs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type MismatchError struct {
	Kind         Kind
	Unknown      bool
	WantAssignee entity.Kind
	WantTarget   entity.Kind
	GotAssignee  entity.Kind
	GotTarget    entity.Kind
}

func (e *MismatchError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("unknown assignment kind %q", e.Kind)
	}
	return fmt.Sprintf("%s expects %s -> %s, got %s -> %s",
		e.Kind, e.WantAssignee, e.WantTarget, e.GotAssignee, e.GotTarget)
}
