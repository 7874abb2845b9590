package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
)

type occupancyOutput struct {
	Command   string                `json:"command"`
	VehicleID uuid.UUID             `json:"vehicle_id"`
	AsOf      string                `json:"as_of"`
	Capacity  int                   `json:"capacity"`
	IsActive  bool                  `json:"is_active"`
	Reserved  int                   `json:"reserved"`
	Seated    int                   `json:"seated"`
	Available int                   `json:"available"`
	Occupants []assignment.Snapshot `json:"occupants"`
}

type listOutput struct {
	Command     string           `json:"command"`
	Ref         string           `json:"ref"`
	AsOf        string           `json:"as_of"`
	Assignments []assignmentView `json:"assignments"`
}

type assignmentView struct {
	ID uuid.UUID `json:"id"`
	assignment.Snapshot
}

func viewsOf(list []*assignment.Assignment) []assignmentView {
	out := make([]assignmentView, 0, len(list))
	for _, a := range list {
		out = append(out, assignmentView{ID: a.ID, Snapshot: a.Snapshot()})
	}
	return out
}

func newOccupancyCmd() *cobra.Command {
	var (
		vehicleID string
		asOf      string
	)
	cmd := &cobra.Command{
		Use:   "occupancy",
		Short: "Show the seat picture of one vehicle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vid, err := uuid.Parse(vehicleID)
			if err != nil {
				return fmt.Errorf("invalid --vehicle: %w", err)
			}
			day, err := parseDateUTC(asOf)
			if err != nil {
				return err
			}
			pool, err := connectDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx := serviceContext(cmd.Context(), pool, "occupancy")
			occ, err := newService().VehicleOccupancy(ctx, vid, day)
			if err != nil {
				return err
			}
			out := occupancyOutput{
				Command:   "occupancy",
				VehicleID: occ.VehicleID,
				AsOf:      occ.AsOf.Format(time.DateOnly),
				Capacity:  occ.Capacity,
				IsActive:  occ.IsActive,
				Reserved:  occ.Reserved,
				Seated:    occ.Seated,
				Available: occ.Available(),
				Occupants: make([]assignment.Snapshot, 0, len(occ.Occupants)),
			}
			for _, a := range occ.Occupants {
				out.Occupants = append(out.Occupants, a.Snapshot())
			}
			return writeJSON(out)
		},
	}
	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "Vehicle UUID (required)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "As-of date (UTC, YYYY-MM-DD; default today)")
	_ = cmd.MarkFlagRequired("vehicle")
	return cmd
}

// newActiveCmd lists active assignments held by or targeting an entity
// given as kind:uuid.
func newActiveCmd() *cobra.Command {
	var (
		kind      string
		asOf      string
		targeting bool
	)
	cmd := &cobra.Command{
		Use:   "active <kind:uuid>",
		Short: "List active assignments for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := entity.ParseRef(args[0])
			if err != nil {
				return err
			}
			day, err := parseDateUTC(asOf)
			if err != nil {
				return err
			}
			var kindFilter *assignment.Kind
			if kind != "" {
				k := assignment.Kind(kind)
				kindFilter = &k
			}

			pool, err := connectDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx := serviceContext(cmd.Context(), pool, "active")
			svc := newService()
			var list []*assignment.Assignment
			if targeting {
				list, err = svc.ActiveTargeting(ctx, ref, kindFilter, day)
			} else {
				list, err = svc.ActiveFor(ctx, ref, kindFilter, day)
			}
			if err != nil {
				return err
			}
			return writeJSON(listOutput{
				Command:     "active",
				Ref:         ref.String(),
				AsOf:        day.Format(time.DateOnly),
				Assignments: viewsOf(list),
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Restrict to one assignment kind")
	cmd.Flags().StringVar(&asOf, "as-of", "", "As-of date (UTC, YYYY-MM-DD; default today)")
	cmd.Flags().BoolVar(&targeting, "targeting", false, "Match the entity as target instead of assignee")
	return cmd
}

type historyRow struct {
	Action      assignment.Action `json:"action"`
	PerformedBy *uuid.UUID        `json:"performed_by,omitempty"`
	PerformedAt string            `json:"performed_at"`
	Notes       string            `json:"notes,omitempty"`
	Changes     any               `json:"changes"`
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <assignment-uuid>",
		Short: "Show the audit trail of one assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid assignment id: %w", err)
			}
			pool, err := connectDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx := serviceContext(cmd.Context(), pool, "history")
			hs, err := newService().History(ctx, id)
			if err != nil {
				return err
			}
			rows := make([]historyRow, 0, len(hs))
			for _, h := range hs {
				rows = append(rows, historyRow{
					Action:      h.Action,
					PerformedBy: h.PerformedBy,
					PerformedAt: h.PerformedAt.UTC().Format(time.RFC3339),
					Notes:       h.Notes,
					Changes:     h.Changes,
				})
			}
			return writeJSON(rows)
		},
	}
}
