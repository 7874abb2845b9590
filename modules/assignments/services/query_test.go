package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
	"github.com/iota-uz/iota-fleet/modules/assignments/services"
)

func TestActiveForAndTargeting(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	driver := db.addEntity(entity.KindDriver)
	bus := db.addVehicle(20, true)
	route := db.addEntity(entity.KindRoute)
	laterRoute := db.addEntity(entity.KindRoute)

	onBus := mustCreate(t, svc, services.CreateInput{Kind: assignment.DriverToVehicle, Assignee: driver, Target: bus})
	onRoute := mustCreate(t, svc, services.CreateInput{
		Kind:       assignment.DriverToRoute,
		Assignee:   driver,
		Target:     route,
		ExpiryDate: date("2025-01-31"),
	})
	mustCreate(t, svc, services.CreateInput{
		Kind:          assignment.DriverToRoute,
		Assignee:      driver,
		Target:        laterRoute,
		EffectiveDate: date("2025-02-01"),
	})

	all, err := svc.ActiveFor(ctx, driver, nil, testNow)
	require.NoError(t, err)
	require.Len(t, all, 2)

	kind := assignment.DriverToRoute
	routes, err := svc.ActiveFor(ctx, driver, &kind, testNow)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.Equal(t, onRoute.ID, routes[0].ID)

	feb, err := svc.ActiveFor(ctx, driver, &kind, *date("2025-02-10"))
	require.NoError(t, err)
	require.Len(t, feb, 1)
	require.True(t, entity.Equal(laterRoute, feb[0].Target))

	defaulted, err := svc.ActiveFor(ctx, driver, nil, time.Time{})
	require.NoError(t, err)
	require.Len(t, defaulted, 2)

	targeting, err := svc.ActiveTargeting(ctx, bus, nil, testNow)
	require.NoError(t, err)
	require.Len(t, targeting, 1)
	require.Equal(t, onBus.ID, targeting[0].ID)

	_, err = svc.Cancel(ctx, onBus.ID, nil, "")
	require.NoError(t, err)
	targeting, err = svc.ActiveTargeting(ctx, bus, nil, testNow)
	require.NoError(t, err)
	require.Empty(t, targeting)

	_, err = svc.ActiveFor(ctx, nil, nil, testNow)
	require.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestVehicleOccupancy(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	bus := db.addVehicle(4, true)

	mustCreate(t, svc, services.CreateInput{Kind: assignment.ChildToVehicle, Assignee: db.addEntity(entity.KindChild), Target: bus})
	mustCreate(t, svc, services.CreateInput{
		Kind:          assignment.ChildToVehicle,
		Assignee:      db.addEntity(entity.KindChild),
		Target:        bus,
		EffectiveDate: date("2025-03-01"),
	})
	mustCreate(t, svc, services.CreateInput{Kind: assignment.DriverToVehicle, Assignee: db.addEntity(entity.KindDriver), Target: bus})

	occ, err := svc.VehicleOccupancy(ctx, bus.ID(), testNow)
	require.NoError(t, err)
	require.Equal(t, 4, occ.Capacity)
	require.True(t, occ.IsActive)
	require.Equal(t, 2, occ.Reserved)
	require.Equal(t, 1, occ.Seated)
	require.Equal(t, 2, occ.Available())
	require.Equal(t, *date("2025-01-15"), occ.AsOf)

	_, err = svc.VehicleOccupancy(ctx, uuid.New(), testNow)
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestFindConflicts(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	driver := db.addEntity(entity.KindDriver)
	busA := db.addVehicle(10, true)
	busB := db.addVehicle(10, true)

	onA := mustCreate(t, svc, services.CreateInput{
		Kind:          assignment.DriverToVehicle,
		Assignee:      driver,
		Target:        busA,
		EffectiveDate: date("2025-01-01"),
		ExpiryDate:    date("2025-01-31"),
	})

	conflicts, err := svc.FindConflicts(ctx, assignment.DriverToVehicle, driver, busB, *date("2025-01-31"), nil)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, onA.ID, conflicts[0].ID)

	conflicts, err = svc.FindConflicts(ctx, assignment.DriverToVehicle, driver, busB, *date("2025-02-01"), nil)
	require.NoError(t, err)
	require.Empty(t, conflicts)

	conflicts, err = svc.FindConflicts(ctx, assignment.DriverToVehicle, driver, busA, *date("2025-01-10"), nil)
	require.NoError(t, err)
	require.Empty(t, conflicts)

	_, err = svc.FindConflicts(ctx, assignment.DriverToVehicle, driver, busB, *date("2025-02-01"), date("2025-01-01"))
	require.ErrorIs(t, err, services.ErrInvalidDateRange)

	require.Len(t, db.allHistory(), 1)
}

func TestCheckCapacity(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	bus := db.addVehicle(2, true)
	mustCreate(t, svc, services.CreateInput{Kind: assignment.ChildToVehicle, Assignee: db.addEntity(entity.KindChild), Target: bus})

	require.NoError(t, svc.CheckCapacity(ctx, bus.ID(), 1))
	err := svc.CheckCapacity(ctx, bus.ID(), 2)
	var capErr *services.CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, 1, capErr.Current)
	require.Equal(t, 2, capErr.Attempted)

	require.ErrorIs(t, svc.CheckCapacity(ctx, uuid.New(), 1), services.ErrUnknownEntity)
	require.ErrorIs(t, svc.CheckCapacity(ctx, db.addVehicle(2, false).ID(), 1), services.ErrUnknownEntity)
}
