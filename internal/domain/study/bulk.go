package study

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/events"
)

// AssignResult reports a bulk center assignment. Rows listed in Errors were
// left untouched; every other row was updated.
type AssignResult struct {
	Center        Center
	CenterCreated bool
	Updated       []uuid.UUID
	// Overwritten lists updated rows that previously had a different center.
	Overwritten []uuid.UUID
	Errors      []apperr.RowError
	Changes     events.ChangeSet
}

// Err returns the row failures as a BulkError, or nil.
func (r *AssignResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &apperr.BulkError{Op: "assign center", Rows: r.Errors}
}

// ResolveCenter returns the center with the trimmed name, creating it when
// missing. The second value reports whether it was created.
func (s *Service) ResolveCenter(ctx context.Context, name string) (*Center, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, apperr.InvalidField("center", "name must not be empty")
	}
	c, err := s.centers.GetByName(ctx, name)
	if err == nil {
		return c, false, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, false, err
	}

	c = &Center{ID: uuid.New(), Name: name}
	if err := s.centers.Create(ctx, c); err != nil {
		if apperr.IsConflict(err) {
			// Created by someone else since the lookup.
			existing, gerr := s.centers.GetByName(ctx, name)
			if gerr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	s.logger.Info().Str("center", name).Msg("histology center created")
	return c, true, nil
}

// AssignCenter resolves or creates the center by name and sets it on every
// study, one transaction per row. Failing rows do not stop the others; the
// returned error is the result's Err.
func (s *Service) AssignCenter(ctx context.Context, ids []uuid.UUID, centerName string) (*AssignResult, error) {
	if len(ids) == 0 {
		s.recorder.RecordRejection("assign_center")
		return nil, apperr.Validation("select at least one study")
	}
	center, created, err := s.ResolveCenter(ctx, centerName)
	if err != nil {
		s.recorder.RecordRejection("assign_center")
		return nil, err
	}

	res := &AssignResult{Center: *center, CenterCreated: created, Changes: events.NewChangeSet()}
	if created {
		res.Changes = res.Changes.Add(events.TopicCenters)
	}

	centerID := center.ID
	for _, id := range ids {
		var previous *uuid.UUID
		var current State
		err := s.tx.WithTx(ctx, func(ctx context.Context) error {
			st, err := s.studies.Get(ctx, id)
			if err != nil {
				return err
			}
			previous, current = st.CenterID, st.State
			now := s.clock()
			if err := s.studies.SetCenter(ctx, id, &centerID, now); err != nil {
				return err
			}
			detail := "center " + center.Name
			if previous != nil && *previous != centerID {
				detail += " (replaced " + previous.String() + ")"
			}
			return s.studies.AddEvent(ctx, &Event{
				StudyID:   id,
				Path:      PathCenter,
				FromState: st.State,
				ToState:   st.State,
				Detail:    detail,
				CreatedAt: now,
			})
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("study_id", id.String()).Str("center", center.Name).Msg("center assignment failed")
			res.Errors = append(res.Errors, apperr.RowError{ID: id.String(), Err: err})
			continue
		}
		res.Updated = append(res.Updated, id)
		if previous != nil && *previous != centerID {
			res.Overwritten = append(res.Overwritten, id)
		}
		s.recorder.RecordMutation(string(PathCenter), string(current))
	}
	if len(res.Updated) > 0 {
		res.Changes = res.Changes.Add(events.TopicStudies)
	}
	return res, res.Err()
}

// ToggleResult reports a bulk toggle.
type ToggleResult struct {
	Outcomes map[uuid.UUID]*Outcome
	Errors   []apperr.RowError
	Changes  events.ChangeSet
}

// Err returns the row failures as a BulkError, or nil.
func (r *ToggleResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &apperr.BulkError{Op: "toggle state", Rows: r.Errors}
}

// ToggleMany toggles state on every study, one transaction per row.
func (s *Service) ToggleMany(ctx context.Context, ids []uuid.UUID, state State) (*ToggleResult, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("select at least one study")
	}
	res := &ToggleResult{Outcomes: make(map[uuid.UUID]*Outcome, len(ids))}
	for _, id := range ids {
		out, err := s.Toggle(ctx, id, state)
		if err != nil {
			s.logger.Warn().Err(err).Str("study_id", id.String()).Str("state", string(state)).Msg("toggle failed")
			res.Errors = append(res.Errors, apperr.RowError{ID: id.String(), Err: err})
			continue
		}
		res.Outcomes[id] = out
		res.Changes = res.Changes.Merge(out.Changes)
	}
	return res, res.Err()
}
