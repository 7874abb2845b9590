// Package entity models the collaborator records an assignment points at.
// Ref is a closed sum type: only the variants declared here satisfy it.
package entity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindDriver  Kind = "driver"
	KindMinder  Kind = "minder"
	KindChild   Kind = "child"
	KindVehicle Kind = "vehicle"
	KindRoute   Kind = "route"
)

var Kinds = []Kind{KindDriver, KindMinder, KindChild, KindVehicle, KindRoute}

func (k Kind) Valid() bool {
	switch k {
	case KindDriver, KindMinder, KindChild, KindVehicle, KindRoute:
		return true
	}
	return false
}

type Ref interface {
	Kind() Kind
	ID() uuid.UUID
	String() string
	isRef()
}

type (
	DriverRef  uuid.UUID
	MinderRef  uuid.UUID
	ChildRef   uuid.UUID
	VehicleRef uuid.UUID
	RouteRef   uuid.UUID
)

func (DriverRef) Kind() Kind  { return KindDriver }
func (MinderRef) Kind() Kind  { return KindMinder }
func (ChildRef) Kind() Kind   { return KindChild }
func (VehicleRef) Kind() Kind { return KindVehicle }
func (RouteRef) Kind() Kind   { return KindRoute }

func (r DriverRef) ID() uuid.UUID  { return uuid.UUID(r) }
func (r MinderRef) ID() uuid.UUID  { return uuid.UUID(r) }
func (r ChildRef) ID() uuid.UUID   { return uuid.UUID(r) }
func (r VehicleRef) ID() uuid.UUID { return uuid.UUID(r) }
func (r RouteRef) ID() uuid.UUID   { return uuid.UUID(r) }

func (r DriverRef) String() string  { return format(r) }
func (r MinderRef) String() string  { return format(r) }
func (r ChildRef) String() string   { return format(r) }
func (r VehicleRef) String() string { return format(r) }
func (r RouteRef) String() string   { return format(r) }

func (DriverRef) isRef()  {}
func (MinderRef) isRef()  {}
func (ChildRef) isRef()   {}
func (VehicleRef) isRef() {}
func (RouteRef) isRef()   {}

func format(r Ref) string {
	return string(r.Kind()) + ":" + r.ID().String()
}

// NewRef builds the variant for kind. Storage decoding goes through here, so
// an unknown kind tag never becomes a Ref.
func NewRef(kind Kind, id uuid.UUID) (Ref, error) {
	switch kind {
	case KindDriver:
		return DriverRef(id), nil
	case KindMinder:
		return MinderRef(id), nil
	case KindChild:
		return ChildRef(id), nil
	case KindVehicle:
		return VehicleRef(id), nil
	case KindRoute:
		return RouteRef(id), nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}

// ParseRef parses the "kind:uuid" form produced by String.
func ParseRef(s string) (Ref, error) {
	kind, rawID, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return nil, fmt.Errorf("invalid entity reference %q (expected kind:uuid)", s)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid entity reference %q: %w", s, err)
	}
	return NewRef(Kind(kind), id)
}

func Equal(a, b Ref) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && a.ID() == b.ID()
}

// Vehicle is the slice of the collaborator vehicle record the capacity
// rules depend on.
type Vehicle struct {
	ID       uuid.UUID
	Capacity int
	IsActive bool
}
