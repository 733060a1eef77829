package maintenance

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/go-wot/wotd/internal/graphstore"
	"github.com/go-wot/wotd/internal/wotlog"
)

var validate = validator.New()

// Config tunes the scheduler's two periodic jobs of §4.7.
type Config struct {
	VerificationInterval    time.Duration `json:"verification_interval" validate:"min=0"`
	DefragmentationInterval time.Duration `json:"defragmentation_interval" validate:"min=0"`
}

// DefaultVerificationInterval is §4.3's "once every 28 days" default.
const DefaultVerificationInterval = 28 * 24 * time.Hour

// DefaultDefragmentationInterval is §4.7's default.
const DefaultDefragmentationInterval = 7 * 24 * time.Hour

func DefaultConfig() *Config {
	return &Config{
		VerificationInterval:    DefaultVerificationInterval,
		DefragmentationInterval: DefaultDefragmentationInterval,
	}
}

func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Verifier is the Score Engine surface the verification job drives.
type Verifier interface {
	VerifyAndCorrectStoredScores(ctx context.Context) (int, error)
}

// Scheduler owns two periodic DelayedBackgroundJobs of §4.7: full score
// verification and store defragmentation. It creates no
// introduction-puzzle housekeeping job.
type Scheduler struct {
	factory *JobFactory
	state   *StateFile
	log     *wotlog.Logger

	verifyJob *DelayedBackgroundJob
	defragJob *DelayedBackgroundJob
}

// PuzzleHousekeeping is the shape of an introduction-puzzle housekeeping
// hook, with noopPuzzleHousekeeping as its no-op form. The Scheduler
// neither runs nor accepts one.
type PuzzleHousekeeping func(ctx context.Context)

func noopPuzzleHousekeeping(ctx context.Context) {}

// New wires the scheduler's two jobs against verifier (C3) and store
// (C1, type-asserted for graphstore.Defragmenter).
func New(cfg *Config, verifier Verifier, store graphstore.Store, state *StateFile, log *wotlog.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = wotlog.New("maintenance", wotlog.LevelNormal)
	}

	s := &Scheduler{factory: NewJobFactory(), state: state, log: log}

	s.verifyJob = s.factory.New("verify-scores", cfg.VerificationInterval, func(ctx context.Context) {
		corrections, err := verifier.VerifyAndCorrectStoredScores(ctx)
		if err != nil {
			s.log.Error("full score verification failed", map[string]interface{}{"err": err.Error()})
			return
		}
		s.log.Normal("full score verification complete", map[string]interface{}{"corrections": corrections})
		if err := s.state.RecordVerification(time.Now().UTC()); err != nil {
			s.log.Warning("failed to persist verification timestamp", map[string]interface{}{"err": err.Error()})
		}
	})

	s.defragJob = s.factory.New("defragment-store", cfg.DefragmentationInterval, func(ctx context.Context) {
		if defragmenter, ok := store.(graphstore.Defragmenter); ok {
			if err := defragmenter.Defragment(ctx); err != nil {
				s.log.Error("store defragmentation failed", map[string]interface{}{"err": err.Error()})
				return
			}
		}
		s.log.Normal("store defragmentation complete", nil)
		if err := s.state.RecordDefragmentation(time.Now().UTC()); err != nil {
			s.log.Warning("failed to persist defragmentation timestamp", map[string]interface{}{"err": err.Error()})
		}
	})

	return s
}

// Start schedules the first run of each job relative to how long it has
// been since the state file last recorded one: overdue jobs run
// immediately, others wait out the remainder of their interval.
func (s *Scheduler) Start(cfg *Config) {
	s.verifyJob.TriggerExecution(remainingOrZero(cfg.VerificationInterval, s.state.LastVerification))
	s.defragJob.TriggerExecution(remainingOrZero(cfg.DefragmentationInterval, s.state.LastDefragmentation))
}

func remainingOrZero(interval time.Duration, last time.Time) time.Duration {
	if last.IsZero() {
		return 0
	}
	remaining := interval - time.Since(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TriggerVerification forces an out-of-band run, used after deleting an
// OwnIdentity (§4.7: "always after the deletion of an OwnIdentity ...
// security: to evict leaked data").
func (s *Scheduler) TriggerVerification() {
	s.verifyJob.TriggerExecution(0)
}

// TriggerDefragmentation forces an out-of-band run, also always run
// after OwnIdentity deletion per §4.7.
func (s *Scheduler) TriggerDefragmentation() {
	s.defragJob.TriggerExecution(0)
}

// OnOwnIdentityDeleted runs both maintenance jobs immediately, per
// §4.7's security rationale. wotapi.Service calls it after a successful
// DELETE /own-identities/{id}; cmd/wotd hands the scheduler to
// wotapi.New for that purpose.
func (s *Scheduler) OnOwnIdentityDeleted(ctx context.Context) {
	s.TriggerVerification()
	s.TriggerDefragmentation()
}

// Stop terminates both jobs and waits up to timeout for them to reach
// Terminated.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	return s.factory.TerminateAll(timeout)
}
