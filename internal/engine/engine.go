package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"portcall/internal/config"
	"portcall/internal/domain"
	"portcall/internal/events"
	"portcall/internal/logger"
	"portcall/internal/metrics"
	"portcall/internal/repo"
)

// Engine runs the port-call commands: it loads aggregates, lets them decide, and persists the
// accepted state together with its audit entries and events in one transaction.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger, m *metrics.Metrics) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{},
		Config:  cfg,
		Logger:  logger.OrNop(log),
		Metrics: m,
		Now:     time.Now,
	}
}

// now is truncated to the second, the precision timestamps are stored with.
func (e Engine) now() time.Time {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return stamp(now())
}

// stamp brings a time to the stored precision. Every caller-supplied time passes through it
// before a rule compares it with the clock or with a stored value.
func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Second)
}

func stampPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	s := stamp(*t)
	return &s
}

func (e Engine) log() *zap.Logger {
	return logger.OrNop(e.Logger)
}

func (e Engine) config() *config.Config {
	if e.Config == nil {
		return config.Default("")
	}
	return e.Config
}

// emit appends an event stamped with the engine clock.
func (e Engine) emit(ctx context.Context, tx *sql.Tx, evtType, kind, id, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, evtType, kind, id, actorID, payload)
}

func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// observe counts the command and logs failures that are neither rule violations nor expected
// outcomes. Those are the only ones callers see as internal errors.
func (e Engine) observe(command string, errp *error) {
	err := *errp
	e.Metrics.Command(command, err)
	if err != nil && !IsExpected(err) {
		e.log().Error("command failed", zap.String("command", command), zap.Error(err))
	}
}

// IsExpected reports whether err is a business rule violation or an expected failure outcome.
func IsExpected(err error) bool {
	var rule *domain.RuleError
	var failure *domain.Failure
	return errors.As(err, &rule) || errors.As(err, &failure)
}

// storeErr maps repository sentinels onto failure outcomes.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return domain.NotFound("%s not found", what)
	case errors.Is(err, repo.ErrVersionConflict):
		return &domain.Failure{Kind: domain.FailureVersionConflict, Message: what + " was modified concurrently; reload and retry"}
	case errors.Is(err, repo.ErrDuplicate):
		return domain.Duplicate("%s already exists", what)
	}
	return err
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return domain.Invalid("%s required", strings.Join(missing, ", "))
}
