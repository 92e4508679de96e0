package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbruckner/privd/internal/privd/audit"
	"github.com/tbruckner/privd/internal/privd/policy"
	"github.com/tbruckner/privd/internal/privd/store"
	"github.com/tbruckner/privd/internal/privd/sysgroup"
	"github.com/tbruckner/privd/internal/privd/types"
)

var (
	ErrInvalidUser = errors.New("user is required")

	// ErrEnforced is returned when a revoke request targets an account
	// whose admin privilege is pinned by policy.
	ErrEnforced = errors.New("privilege state is enforced by policy")
)

// Revocation triggers. The trigger string doubles as the audit record's
// reason so the timeline shows why privilege went away.
const (
	revokeManual     = "manual"
	revokeSuperseded = "superseded"
	revokeExpired    = "expired"
	revokePolicy     = "policy"
	revokeLogin      = "login"
	revokeRestart    = "restart"
)

// AuditEmitter receives grant lifecycle records. Satisfied by
// audit.Dispatcher; tests substitute a capturing implementation.
type AuditEmitter interface {
	Emit(rec audit.Record)
}

// Status is the caller-visible view of one user's grant.
type Status struct {
	State     types.GrantState `json:"state"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	TimeLeft  time.Duration    `json:"-"`
}

// GrantConfig tunes the state machine's timing behavior. Zero values get
// production defaults.
type GrantConfig struct {
	PrimitiveTimeout time.Duration // per privilege-change invocation
	RetryBase        time.Duration // initial revocation retry backoff
	RetryCap         time.Duration // revocation retry backoff ceiling
	TickInterval     time.Duration // time-left notification period
	WarnThreshold    time.Duration // remaining time that triggers the expiring warning
}

func (c *GrantConfig) applyDefaults() {
	if c.PrimitiveTimeout <= 0 {
		c.PrimitiveTimeout = 10 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 30 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.WarnThreshold <= 0 {
		c.WarnThreshold = 5 * time.Minute
	}
}

// Dependencies holds everything a GrantService needs.
type Dependencies struct {
	Logger     *log.Logger
	Snapshot   *policy.Snapshot
	Grants     store.GrantStore
	Markers    store.MarkerStore
	Membership sysgroup.Membership
	Audit      AuditEmitter
	Notifier   Notifier
	Now        func() time.Time // nil = time.Now
	Config     GrantConfig

	// ReconfigureSinks, when set, is called after a policy replacement so
	// the audit dispatcher can swap to the new remote-log settings.
	ReconfigureSinks func(cfg types.PolicyConfig)
}

// GrantService is the grant state machine. It owns the single active
// grant per user, serializes all transitions for a user behind a per-user
// mutex, and is the only component that invokes the privilege-change
// primitive. Different users proceed fully concurrently.
type GrantService struct {
	logger     *log.Logger
	snapshot   *policy.Snapshot
	grants     store.GrantStore
	markers    store.MarkerStore
	membership sysgroup.Membership
	audit      AuditEmitter
	notifier   Notifier
	sched      *Scheduler
	now        func() time.Time
	cfg        GrantConfig
	resinks    func(cfg types.PolicyConfig)

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	retryMu  sync.Mutex
	retrying map[string]struct{}

	// rootCtx bounds background revocation retries; they outlive the
	// request that started them but not the daemon.
	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func NewGrantService(d Dependencies) *GrantService {
	d.Config.applyDefaults()
	if d.Now == nil {
		d.Now = time.Now
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &GrantService{
		logger:     d.Logger,
		snapshot:   d.Snapshot,
		grants:     d.Grants,
		markers:    d.Markers,
		membership: d.Membership,
		audit:      d.Audit,
		notifier:   d.Notifier,
		now:        d.Now,
		cfg:        d.Config,
		resinks:    d.ReconfigureSinks,
		locks:      make(map[string]*sync.Mutex),
		retrying:   make(map[string]struct{}),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
	s.sched = NewScheduler(s.onExpire)
	return s
}

// ── Inbound operations ───────────────────────────────────────────────────────

// RequestGrant evaluates a grant request against the current policy
// snapshot and, when allowed, elevates the user. The returned Decision is
// always meaningful to the caller: Deny carries a code, NeedsReason is
// re-promptable, Allow reports the effective duration.
func (s *GrantService) RequestGrant(ctx context.Context, req types.GrantRequest) (types.Decision, error) {
	user := strings.TrimSpace(req.User)
	if user == "" {
		return types.Decision{}, ErrInvalidUser
	}
	req.User = user

	cfg := s.snapshot.Load()
	dec := policy.Evaluate(req, cfg)
	switch dec.Outcome {
	case types.OutcomeNeedsReason:
		// Re-promptable; no grant state changed, nothing to audit.
		return dec, nil
	case types.OutcomeDeny:
		s.audit.Emit(audit.NewRecord(types.EventDenied, user, s.now(), string(dec.DenyCode), "grant request denied by policy"))
		return dec, nil
	}

	mu := s.userLock(user)
	mu.Lock()
	defer mu.Unlock()

	// A second grant for an already-elevated user forces the existing
	// one through Revoking -> Standard first. Never two grants at once.
	if existing, err := s.grants.Get(ctx, user); err == nil {
		if err := s.revokeLocked(ctx, existing, revokeSuperseded); err != nil {
			s.audit.Emit(audit.NewRecord(types.EventDenied, user, s.now(),
				string(types.DenyPrimitiveFailure), "superseding revoke did not complete"))
			return types.Decision{Outcome: types.OutcomeDeny, DenyCode: types.DenyPrimitiveFailure}, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Decision{}, fmt.Errorf("load grant: %w", err)
	}

	now := s.now().UTC()
	g := types.Grant{
		ID:            uuid.NewString(),
		User:          user,
		AdminGroupID:  types.AdminGroupID,
		State:         types.StateElevating,
		GrantedAt:     now,
		Reason:        strings.TrimSpace(req.Reason),
		RevokeAtLogin: dec.RevokeAtLogin,
	}
	if dec.Duration > 0 {
		t := now.Add(dec.Duration)
		g.ExpiresAt = &t
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PrimitiveTimeout)
	err := s.membership.SetAdminMembership(pctx, user, g.AdminGroupID, true)
	cancel()
	if err != nil {
		// Elevating -> Failed -> Standard. No retry: failing closed can
		// never leave an account elevated without a grant record.
		s.logger.Printf("grant: elevation primitive failed user=%s: %v", user, err)
		s.audit.Emit(audit.NewRecord(types.EventDenied, user, s.now(), string(types.DenyPrimitiveFailure), err.Error()))
		return types.Decision{Outcome: types.OutcomeDeny, DenyCode: types.DenyPrimitiveFailure}, nil
	}

	g.State = types.StateActive
	if err := s.grants.Put(ctx, g); err != nil {
		// The account is elevated but the grant cannot be recorded. Undo
		// the elevation rather than retain privilege without a record.
		s.logger.Printf("grant: persist failed user=%s: %v, reverting elevation", user, err)
		pctx, cancel := context.WithTimeout(ctx, s.cfg.PrimitiveTimeout)
		if derr := s.membership.SetAdminMembership(pctx, user, g.AdminGroupID, false); derr != nil {
			s.logger.Printf("grant: revert after persist failure also failed user=%s: %v", user, derr)
		}
		cancel()
		s.audit.Emit(audit.NewRecord(types.EventDenied, user, s.now(), string(types.DenyPrimitiveFailure),
			fmt.Sprintf("grant persistence failed: %v", err)))
		return types.Decision{Outcome: types.OutcomeDeny, DenyCode: types.DenyPrimitiveFailure}, nil
	}

	if g.ExpiresAt != nil {
		s.sched.Arm(user, *g.ExpiresAt)
	} else if g.RevokeAtLogin {
		if err := s.markers.SetLoginRevoke(ctx, user, now); err != nil {
			s.logger.Printf("grant: login-revoke marker write failed user=%s: %v", user, err)
		}
	}

	s.audit.Emit(audit.NewRecord(types.EventGranted, user, now, g.Reason, grantDetail(g)))
	s.notifier.PrivilegeChanged(user, true)
	return dec, nil
}

// RequestRevoke tears down the user's grant. Revoking a user with no
// grant is an acknowledged no-op; a failing privilege primitive is retried
// in the background and surfaces only as a delayed status change.
func (s *GrantService) RequestRevoke(ctx context.Context, user string) error {
	user = strings.TrimSpace(user)
	if user == "" {
		return ErrInvalidUser
	}

	if cfg := s.snapshot.Load(); cfg.EnforcedType == types.EnforcedAdmin {
		return ErrEnforced
	}

	mu := s.userLock(user)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.grants.Get(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load grant: %w", err)
	}

	// Error intentionally dropped: retries continue in the background and
	// the caller sees the grant in Revoking via GetStatus.
	_ = s.revokeLocked(ctx, g, revokeManual)
	return nil
}

// GetStatus reports the user's current state. Users without a grant are
// Standard.
func (s *GrantService) GetStatus(ctx context.Context, user string) (Status, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return Status{}, ErrInvalidUser
	}

	g, err := s.grants.Get(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return Status{State: types.StateStandard}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("load grant: %w", err)
	}
	return Status{State: g.State, ExpiresAt: g.ExpiresAt, TimeLeft: g.TimeLeft(s.now())}, nil
}

// SessionStarted consumes the user's revoke-at-login marker. Only
// unbounded grants write markers; timed grants rely on their timer, so a
// live timed grant is left alone even if a stale marker existed.
func (s *GrantService) SessionStarted(ctx context.Context, user string) error {
	user = strings.TrimSpace(user)
	if user == "" {
		return ErrInvalidUser
	}

	mu := s.userLock(user)
	mu.Lock()
	defer mu.Unlock()

	had, err := s.markers.ConsumeLoginRevoke(ctx, user)
	if err != nil {
		return fmt.Errorf("consume login marker: %w", err)
	}
	if !had {
		return nil
	}

	g, err := s.grants.Get(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load grant: %w", err)
	}
	if g.ExpiresAt != nil {
		return nil
	}

	_ = s.revokeLocked(ctx, g, revokeLogin)
	return nil
}

// ConfigChanged normalizes and publishes a replacement policy, audits the
// change, and re-checks every active grant against the new rules.
func (s *GrantService) ConfigChanged(ctx context.Context, cfg types.PolicyConfig) error {
	if err := cfg.Normalize(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	version := s.snapshot.Store(cfg)
	s.audit.Emit(audit.NewRecord(types.EventConfigChanged, "", s.now(), "",
		fmt.Sprintf("policy version %d published", version)))
	s.notifier.ConfigChanged()

	if s.resinks != nil {
		s.resinks(cfg)
	}

	s.applyPolicyToActive(ctx, cfg)
	return nil
}

// ── Policy enforcement on live grants ────────────────────────────────────────

func (s *GrantService) applyPolicyToActive(ctx context.Context, cfg types.PolicyConfig) {
	grants, _, err := s.grants.ListActive(ctx)
	if err != nil {
		s.logger.Printf("config: list active grants failed: %v", err)
		return
	}

	for _, g := range grants {
		mu := s.userLock(g.User)
		mu.Lock()

		cur, err := s.grants.Get(ctx, g.User)
		if err != nil {
			mu.Unlock()
			continue
		}

		switch {
		case cfg.EnforcedType == types.EnforcedUser:
			// The account must rest at standard; the grant no longer
			// conforms and is revoked outright.
			_ = s.revokeLocked(ctx, cur, revokePolicy)

		case cfg.EnforcedType == types.EnforcedAdmin:
			// Admin is now the pinned resting state. The temporary grant
			// dissolves (it would otherwise expire back to standard), but
			// the membership stays: policy mandates it.
			s.dissolveLocked(ctx, cur)

		case cfg.ExpirationIntervalMax != nil:
			s.clampLocked(ctx, cur, *cfg.ExpirationIntervalMax)
		}

		mu.Unlock()
	}
}

// clampLocked shortens a grant to granted_at + maxMinutes. Existing grants
// are never extended, only clamped; a grant already past the new maximum
// expires immediately.
func (s *GrantService) clampLocked(ctx context.Context, g types.Grant, maxMinutes int) {
	maxAt := g.GrantedAt.Add(time.Duration(maxMinutes) * time.Minute)
	if g.ExpiresAt != nil && !g.ExpiresAt.After(maxAt) {
		return
	}

	if !maxAt.After(s.now()) {
		_ = s.revokeLocked(ctx, g, revokeExpired)
		return
	}

	g.ExpiresAt = &maxAt
	if g.RevokeAtLogin {
		g.RevokeAtLogin = false
		_ = s.markers.ClearLoginRevoke(ctx, g.User)
	}
	if err := s.grants.Put(ctx, g); err != nil {
		s.logger.Printf("config: clamp persist failed user=%s: %v", g.User, err)
		return
	}
	s.sched.Arm(g.User, maxAt)
	s.logger.Printf("config: grant clamped user=%s expires_at=%s", g.User, maxAt.Format(time.RFC3339))
}

func (s *GrantService) dissolveLocked(ctx context.Context, g types.Grant) {
	if err := s.grants.Delete(ctx, g.User); err != nil {
		s.logger.Printf("config: dissolve failed user=%s: %v", g.User, err)
		return
	}
	s.sched.Cancel(g.User)
	_ = s.markers.ClearLoginRevoke(ctx, g.User)
	s.audit.Emit(audit.NewRecord(types.EventRevoked, g.User, s.now(), revokePolicy,
		"grant dissolved; admin membership retained per enforced policy"))
}

// ── Revocation ───────────────────────────────────────────────────────────────

// revokeLocked drives a grant through Revoking -> Standard. The caller
// must hold the user's lock. On primitive failure a background retry loop
// takes over; an un-revoked grant is a standing security deviation and is
// never abandoned silently.
func (s *GrantService) revokeLocked(ctx context.Context, g types.Grant, trigger string) error {
	if g.State != types.StateRevoking {
		g.State = types.StateRevoking
		if err := s.grants.Put(ctx, g); err != nil {
			return fmt.Errorf("persist revoking state: %w", err)
		}
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PrimitiveTimeout)
	err := s.membership.SetAdminMembership(pctx, g.User, g.AdminGroupID, false)
	cancel()
	if err != nil {
		s.logger.Printf("revoke: primitive failed user=%s trigger=%s: %v (retrying in background)",
			g.User, trigger, err)
		s.retryRevoke(g.User, trigger)
		return err
	}

	return s.finishRevokeLocked(ctx, g, trigger)
}

func (s *GrantService) finishRevokeLocked(ctx context.Context, g types.Grant, trigger string) error {
	if err := s.grants.Delete(ctx, g.User); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	s.sched.Cancel(g.User)
	_ = s.markers.ClearLoginRevoke(ctx, g.User)

	et := types.EventRevoked
	if trigger == revokeExpired {
		et = types.EventExpired
	}
	s.audit.Emit(audit.NewRecord(et, g.User, s.now(), trigger, "grant_id="+g.ID))
	s.notifier.PrivilegeChanged(g.User, false)
	return nil
}

// retryRevoke launches (at most one per user) a background loop that
// keeps attempting the privilege-change primitive with exponential
// backoff until it confirms or the daemon stops.
func (s *GrantService) retryRevoke(user, trigger string) {
	s.retryMu.Lock()
	if _, running := s.retrying[user]; running {
		s.retryMu.Unlock()
		return
	}
	s.retrying[user] = struct{}{}
	s.retryMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.retryMu.Lock()
			delete(s.retrying, user)
			s.retryMu.Unlock()
		}()

		backoff := s.cfg.RetryBase
		for {
			select {
			case <-s.rootCtx.Done():
				return
			case <-time.After(backoff):
			}

			mu := s.userLock(user)
			mu.Lock()
			g, err := s.grants.Get(s.rootCtx, user)
			if errors.Is(err, store.ErrNotFound) {
				// A competing revoke path finished first; nothing to do.
				mu.Unlock()
				return
			}
			if err == nil {
				pctx, cancel := context.WithTimeout(s.rootCtx, s.cfg.PrimitiveTimeout)
				perr := s.membership.SetAdminMembership(pctx, user, g.AdminGroupID, false)
				cancel()
				if perr == nil {
					if ferr := s.finishRevokeLocked(s.rootCtx, g, trigger); ferr != nil {
						s.logger.Printf("revoke retry: finish failed user=%s: %v", user, ferr)
					}
					mu.Unlock()
					return
				}
				s.logger.Printf("revoke retry: primitive still failing user=%s: %v", user, perr)
			}
			mu.Unlock()

			backoff *= 2
			if backoff > s.cfg.RetryCap {
				backoff = s.cfg.RetryCap
			}
		}
	}()
}

// onExpire is the scheduler callback. The grant may already be gone or
// mid-revocation by the time the timer fires; both are no-ops.
func (s *GrantService) onExpire(user string) {
	mu := s.userLock(user)
	mu.Lock()
	defer mu.Unlock()

	g, err := s.grants.Get(s.rootCtx, user)
	if err != nil {
		return
	}
	if g.State == types.StateRevoking {
		return
	}
	_ = s.revokeLocked(s.rootCtx, g, revokeExpired)
}

// ── Startup and background loops ─────────────────────────────────────────────

// Resume restores persisted state after a daemon restart: interrupted
// revocations are completed, past-due grants expire now, live grants
// re-arm at their stored expiry (never extended), and corrupt rows reset
// only the affected user.
func (s *GrantService) Resume(ctx context.Context) error {
	grants, corrupt, err := s.grants.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list persisted grants: %w", err)
	}

	for _, c := range corrupt {
		s.logger.Printf("resume: corrupt grant record user=%q: %v", c.User, c.Err)
		if c.User == "" {
			continue
		}
		mu := s.userLock(c.User)
		mu.Lock()
		_ = s.grants.Delete(ctx, c.User)
		_ = s.markers.ClearLoginRevoke(ctx, c.User)
		// Fail safe: the row claimed elevation, so restore standard.
		pctx, cancel := context.WithTimeout(ctx, s.cfg.PrimitiveTimeout)
		if derr := s.membership.SetAdminMembership(pctx, c.User, types.AdminGroupID, false); derr != nil {
			s.logger.Printf("resume: restore standard failed user=%s: %v", c.User, derr)
		}
		cancel()
		s.audit.Emit(audit.NewRecord(types.EventRevoked, c.User, s.now(), "corrupt_state", c.Err.Error()))
		mu.Unlock()
	}

	now := s.now()
	for _, g := range grants {
		mu := s.userLock(g.User)
		mu.Lock()
		switch {
		case g.State == types.StateRevoking:
			_ = s.revokeLocked(ctx, g, revokeRestart)
		case g.ExpiresAt != nil && !g.ExpiresAt.After(now):
			_ = s.revokeLocked(ctx, g, revokeExpired)
		case g.ExpiresAt != nil:
			s.sched.Arm(g.User, *g.ExpiresAt)
		case g.RevokeAtLogin:
			if err := s.markers.SetLoginRevoke(ctx, g.User, now); err != nil {
				s.logger.Printf("resume: marker re-assert failed user=%s: %v", g.User, err)
			}
		}
		mu.Unlock()
	}

	return nil
}

// Start begins the periodic time-left notification loop. The loop exits
// when ctx is cancelled or Stop is called.
func (s *GrantService) Start(ctx context.Context) {
	s.loopDone = make(chan struct{})
	ctx, s.loopCancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop halts the notification loop, cancels armed timers, and waits for
// background revocation retries to exit.
func (s *GrantService) Stop() {
	if s.loopCancel != nil {
		s.loopCancel()
		<-s.loopDone
	}
	s.sched.Stop()
	s.rootCancel()
	s.wg.Wait()
}

func (s *GrantService) loop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick sends a time-left update for every timed grant and promotes grants
// crossing the warning threshold to ExpiringNotified. The sub-state is
// informational only; it never blocks a transition and is not an audit
// event.
func (s *GrantService) tick(ctx context.Context) {
	grants, _, err := s.grants.ListActive(ctx)
	if err != nil {
		s.logger.Printf("tick: list active grants failed: %v", err)
		return
	}

	for _, g := range grants {
		if g.ExpiresAt == nil || g.State == types.StateRevoking {
			continue
		}
		left := g.TimeLeft(s.now())
		s.notifier.TimeLeft(g.User, left)

		if g.State == types.StateActive && left > 0 && left <= s.cfg.WarnThreshold {
			mu := s.userLock(g.User)
			mu.Lock()
			if cur, err := s.grants.Get(ctx, g.User); err == nil && cur.State == types.StateActive {
				cur.State = types.StateExpiringNotified
				if err := s.grants.Put(ctx, cur); err != nil {
					s.logger.Printf("tick: warn promote failed user=%s: %v", g.User, err)
				}
			}
			mu.Unlock()
		}
	}
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (s *GrantService) userLock(user string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[user]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[user] = mu
	}
	return mu
}

func grantDetail(g types.Grant) string {
	if g.ExpiresAt == nil {
		return "grant_id=" + g.ID + " expires=at-next-login"
	}
	return fmt.Sprintf("grant_id=%s expires=%s", g.ID, g.ExpiresAt.Format(time.RFC3339))
}
