package study

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/db"
	"github.com/gynlab/gynlab/internal/platform/events"
	"github.com/gynlab/gynlab/pkg/pagination"
)

// Config is the part of the clinic configuration the lifecycle manager reads.
type Config struct {
	OverdueDays      int
	DefaultLimit     int
	MaxLimit         int
	SuggestedCenters []string
}

// Recorder receives a count of every applied or rejected operation.
type Recorder interface {
	RecordMutation(path, state string)
	RecordRejection(operation string)
}

type nopRecorder struct{}

func (nopRecorder) RecordMutation(string, string) {}
func (nopRecorder) RecordRejection(string)        {}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service is the study lifecycle manager. Every mutation of a single study
// runs in one transaction and is recorded in the study's audit trail.
type Service struct {
	studies  Repository
	centers  CenterRepository
	tx       db.Transactor
	now      func() time.Time
	recorder Recorder
	logger   zerolog.Logger

	cfg Config
}

func NewService(studies Repository, centers CenterRepository, tx db.Transactor, cfg Config, opts ...Option) *Service {
	s := &Service{
		studies:  studies,
		centers:  centers,
		tx:       tx,
		now:      time.Now,
		recorder: nopRecorder{},
		logger:   zerolog.Nop(),
		cfg:      cfg,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reload replaces the configuration used by later calls.
func (s *Service) Reload(cfg Config) {
	s.cfg = cfg
}

func (s *Service) config() Config {
	return s.cfg
}

// clock truncates to seconds, the precision stored by SQLite.
func (s *Service) clock() time.Time {
	return s.now().Truncate(time.Second)
}

// change is what a mutation step reports for the audit trail.
type change struct {
	path   EventPath
	from   State
	detail string
}

// mutate loads the study, applies fn and persists the result together with
// an audit event, all in one transaction.
func (s *Service) mutate(ctx context.Context, op string, id uuid.UUID, fn func(st *Study, now time.Time) (change, error)) (*Study, change, error) {
	var st *Study
	var ch change
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if st, err = s.studies.Get(ctx, id); err != nil {
			return err
		}
		now := s.clock()
		if ch, err = fn(st, now); err != nil {
			return err
		}
		if err := s.studies.UpdateLifecycle(ctx, st); err != nil {
			return err
		}
		return s.studies.AddEvent(ctx, &Event{
			StudyID:   st.ID,
			Path:      ch.path,
			FromState: ch.from,
			ToState:   st.State,
			Detail:    ch.detail,
			CreatedAt: now,
		})
	})
	if err != nil {
		if apperr.IsValidation(err) {
			s.recorder.RecordRejection(op)
			s.logger.Debug().Str("op", op).Str("study_id", id.String()).Err(err).Msg("study operation rejected")
		}
		return nil, change{}, err
	}

	s.recorder.RecordMutation(string(ch.path), string(st.State))
	ev := s.logger.Debug()
	if ch.path == PathOverride {
		ev = s.logger.Warn()
	}
	ev.Str("op", op).
		Str("path", string(ch.path)).
		Str("study_id", st.ID.String()).
		Str("from", string(ch.from)).
		Str("to", string(st.State)).
		Bool("overridden", st.Overridden).
		Msg("study updated")
	return st, ch, nil
}

func studiesChanged() events.ChangeSet {
	return events.NewChangeSet(events.TopicStudies)
}

// Advance marks target on the study. The target must be unmarked, its
// predecessor marked, nothing after it marked, and a center assigned from
// sent on.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, target State) (*Outcome, error) {
	st, _, err := s.mutate(ctx, "advance", id, func(st *Study, now time.Time) (change, error) {
		if err := checkAdvance(st, target); err != nil {
			return change{}, err
		}
		from := st.State
		advance(st, target, now)
		return change{path: PathTransition, from: from}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Study: st, State: target, Affected: []State{target}, Changes: studiesChanged()}, nil
}

// Toggle flips state: a marked state is retracted together with every later
// state, an unmarked one is advanced to.
func (s *Service) Toggle(ctx context.Context, id uuid.UUID, state State) (*Outcome, error) {
	if state == StateOrdered {
		s.recorder.RecordRejection("toggle")
		return nil, apperr.Validation("the ordered state is set when the study is created and cannot be changed")
	}
	if !state.Valid() {
		s.recorder.RecordRejection("toggle")
		return nil, apperr.InvalidField("state", "unknown state %q", state)
	}

	var newState State
	var affected []State
	st, _, err := s.mutate(ctx, "toggle", id, func(st *Study, now time.Time) (change, error) {
		from := st.State
		if st.Marked(state) {
			resultBefore := st.HasResult()
			newState, affected = retract(st, state, now)
			detail := "cleared " + joinStates(affected)
			if resultBefore && !st.HasResult() {
				detail += "; result cleared"
			}
			return change{path: PathRetraction, from: from, detail: detail}, nil
		}
		if err := checkAdvance(st, state); err != nil {
			return change{}, err
		}
		advance(st, state, now)
		newState, affected = state, []State{state}
		return change{path: PathTransition, from: from}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Study: st, State: newState, Affected: affected, Changes: studiesChanged()}, nil
}

// Override forces the current state without the sequential checks. Only the
// center requirement applies. The target timestamp is filled when empty and
// the row is flagged as overridden.
func (s *Service) Override(ctx context.Context, id uuid.UUID, target State) (*Outcome, error) {
	if !target.Valid() {
		s.recorder.RecordRejection("override")
		return nil, apperr.InvalidField("state", "unknown state %q", target)
	}
	st, _, err := s.mutate(ctx, "override", id, func(st *Study, now time.Time) (change, error) {
		if target.RequiresCenter() && st.CenterID == nil {
			return change{}, apperr.InvalidField("center", "assign a histology center before setting %s", target)
		}
		from := st.State
		filled := !st.Marked(target)
		override(st, target, now)
		detail := "kept existing timestamp"
		if filled {
			detail = "timestamp set to now"
		}
		if v := Violations(st); len(v) > 0 {
			detail += "; " + strings.Join(v, "; ")
		}
		return change{path: PathOverride, from: from, detail: detail}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Study: st, State: target, Affected: []State{target}, Changes: studiesChanged()}, nil
}

// SetResult stores the trimmed result text. An empty text clears it.
func (s *Service) SetResult(ctx context.Context, id uuid.UUID, text string) (*Outcome, error) {
	result, err := normalizeResult(text)
	if err != nil {
		s.recorder.RecordRejection("result")
		return nil, err
	}
	st, _, err := s.mutate(ctx, "result", id, func(st *Study, now time.Time) (change, error) {
		if !st.State.AcceptsResult() {
			return change{}, apperr.Validation("a result can only be recorded once the study is received or delivered (currently %s)", st.State)
		}
		t := now
		st.Result = result
		st.ResultEditedAt = &t
		st.UpdatedAt = now
		st.Overridden = !Consistent(st)
		detail := "result cleared"
		if result != nil {
			detail = fmt.Sprintf("result set (%d characters)", len([]rune(*result)))
		}
		return change{path: PathResult, from: st.State, detail: detail}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Study: st, State: st.State, Changes: studiesChanged()}, nil
}

// Get returns a study with its display names.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Row, error) {
	return s.studies.GetRow(ctx, id)
}

// Page returns the limit and offset List applies to f. The limit defaults to
// the configured default and is capped at the configured maximum.
func (s *Service) Page(f Filter) pagination.Params {
	cfg := s.config()
	return pagination.NewWithCaps(f.Limit, f.Offset, cfg.DefaultLimit, cfg.MaxLimit)
}

// List returns one page of the studies matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]Row, error) {
	if f.State != "" && !f.State.Valid() {
		return nil, apperr.InvalidField("state", "unknown state %q", f.State)
	}
	if f.Kind != "" && f.Kind != KindCytology && f.Kind != KindBiopsy {
		return nil, apperr.InvalidField("kind", "unknown study kind %q", f.Kind)
	}
	page := s.Page(f)
	f.Limit, f.Offset = page.Limit, page.Offset
	return s.studies.List(ctx, f)
}

// OverdueCutoff is the send time before which an unreceived study is overdue.
func (s *Service) OverdueCutoff() time.Time {
	days := s.config().OverdueDays
	return s.clock().Add(-time.Duration(days) * 24 * time.Hour)
}

// Overdue lists studies sent more than the configured number of days ago
// that are still waiting for the laboratory, oldest first.
func (s *Service) Overdue(ctx context.Context) ([]Row, error) {
	cfg := s.config()
	limit := pagination.Clamp(cfg.MaxLimit, cfg.DefaultLimit, cfg.MaxLimit)
	return s.studies.Overdue(ctx, s.OverdueCutoff(), limit)
}

// PendingCounts counts studies per state, delivered excluded. Every other
// state is present, zero when empty.
func (s *Service) PendingCounts(ctx context.Context) (map[State]int, error) {
	raw, err := s.studies.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[State]int, len(States)-1)
	for _, st := range States {
		if st == StateDelivered {
			continue
		}
		out[st] = raw[st]
	}
	return out, nil
}

// History returns the audit trail of a study, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]Event, error) {
	if _, err := s.studies.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.studies.Events(ctx, id)
}

// CheckConsistency lists every study that breaks a lifecycle invariant.
func (s *Service) CheckConsistency(ctx context.Context) ([]Violation, error) {
	all, err := s.studies.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []Violation
	for i := range all {
		if reasons := Violations(&all[i]); len(reasons) > 0 {
			out = append(out, Violation{StudyID: all[i].ID, Reasons: reasons})
		}
	}
	return out, nil
}

// Request asks for one study when a visit is created.
type Request struct {
	Kind    Kind
	Subtype string
}

// CreateForVisit inserts one ordered study per request. It joins the
// caller's transaction when there is one.
func (s *Service) CreateForVisit(ctx context.Context, visitID, patientID uuid.UUID, reqs []Request) ([]Study, error) {
	for _, r := range reqs {
		if r.Kind != KindCytology && r.Kind != KindBiopsy {
			return nil, apperr.InvalidField("kind", "unknown study kind %q", r.Kind)
		}
		if strings.TrimSpace(r.Subtype) == "" {
			return nil, apperr.InvalidField("subtype", "must not be empty")
		}
	}

	var created []Study
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		for _, r := range reqs {
			st := Study{
				ID:        uuid.New(),
				VisitID:   visitID,
				PatientID: patientID,
				Kind:      r.Kind,
				Subtype:   strings.TrimSpace(r.Subtype),
				State:     StateOrdered,
				OrderedAt: now,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.studies.Create(ctx, &st); err != nil {
				return err
			}
			if err := s.studies.AddEvent(ctx, &Event{
				StudyID:   st.ID,
				Path:      PathTransition,
				ToState:   StateOrdered,
				Detail:    "created with visit",
				CreatedAt: now,
			}); err != nil {
				return err
			}
			created = append(created, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, st := range created {
		s.recorder.RecordMutation(string(PathTransition), string(st.State))
	}
	return created, nil
}

// ListByVisit returns the studies ordered during a visit.
func (s *Service) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]Study, error) {
	return s.studies.ListByVisit(ctx, visitID)
}

// ListCenters returns the stored histology centers by name.
func (s *Service) ListCenters(ctx context.Context) ([]Center, error) {
	return s.centers.List(ctx)
}

// CenterNames merges the configured suggestions with the stored centers,
// sorted and without duplicates.
func (s *Service) CenterNames(ctx context.Context) ([]string, error) {
	stored, err := s.centers.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		n = strings.TrimSpace(n)
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, n := range s.config().SuggestedCenters {
		add(n)
	}
	for _, c := range stored {
		add(c.Name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteCenter removes a center. Studies that pointed to it keep no center.
func (s *Service) DeleteCenter(ctx context.Context, id uuid.UUID) (events.ChangeSet, error) {
	if err := s.centers.Delete(ctx, id); err != nil {
		return events.ChangeSet{}, err
	}
	s.logger.Info().Str("center_id", id.String()).Msg("histology center deleted")
	return events.NewChangeSet(events.TopicCenters, events.TopicStudies), nil
}

func joinStates(states []State) string {
	parts := make([]string, len(states))
	for i, st := range states {
		parts[i] = string(st)
	}
	return strings.Join(parts, ", ")
}
