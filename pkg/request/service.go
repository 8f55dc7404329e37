package request

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/covault/station/pkg/audit"
	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/criteria"
	"github.com/covault/station/pkg/operation"
	"github.com/covault/station/pkg/policy"
	"github.com/covault/station/pkg/services"
)

// MaxVoteReasonLen bounds the optional free-text reason on a vote.
const MaxVoteReasonLen = 200

// Options tune the service. Zero values get sensible defaults.
type Options struct {
	// DefaultExpiry is applied when a creation request carries no explicit
	// expiration deadline.
	DefaultExpiry time.Duration
	// AdminGroupID, when set, lets members of that group submit operations
	// no policy governs. Everyone else is rejected fail-closed.
	AdminGroupID uuid.UUID
}

// CreateInput is one request submission.
type CreateInput struct {
	Title        string                  `json:"title"`
	Summary      string                  `json:"summary,omitempty"`
	Operation    contracts.Operation     `json:"operation"`
	Plan         contracts.ExecutionPlan `json:"plan"`
	ExpirationAt *time.Time              `json:"expiration_at,omitempty"`
}

// Service owns the request lifecycle: submission, voting, and the status
// transitions the scheduler drives. Every transition lands in the audit
// ledger.
type Service struct {
	repo      *Repository
	registry  *operation.Registry
	policies  *policy.Repository
	engine    *criteria.Engine
	dir       *services.Directory
	transfers *services.TransferService
	ledger    *audit.Ledger
	clock     contracts.Clock
	log       *slog.Logger
	opts      Options
}

func NewService(
	repo *Repository,
	registry *operation.Registry,
	policies *policy.Repository,
	engine *criteria.Engine,
	dir *services.Directory,
	transfers *services.TransferService,
	ledger *audit.Ledger,
	clock contracts.Clock,
	log *slog.Logger,
	opts Options,
) *Service {
	if opts.DefaultExpiry <= 0 {
		opts.DefaultExpiry = 7 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo: repo, registry: registry, policies: policies, engine: engine,
		dir: dir, transfers: transfers, ledger: ledger, clock: clock,
		log: log, opts: opts,
	}
}

// dedupHash canonicalizes (requester, operation) and hashes it. Two
// submissions of the same operation by the same user collide; a different
// user or a changed payload does not.
func dedupHash(requester uuid.UUID, op contracts.Operation) (string, error) {
	raw, err := json.Marshal(struct {
		Requester uuid.UUID           `json:"requester"`
		Operation contracts.Operation `json:"operation"`
	}{requester, op})
	if err != nil {
		return "", fmt.Errorf("encode dedup payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize dedup payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Create validates and stores a new request, then evaluates it immediately:
// an auto-adopting policy approves it with no votes at all, and a
// mathematically unsatisfiable one rejects it on the spot.
func (s *Service) Create(ctx context.Context, identity contracts.Identity, input CreateInput) (*contracts.Request, error) {
	user, err := s.dir.Users.Get(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status != contracts.UserStatusActive {
		return nil, contracts.NewError(contracts.ErrKindForbidden, "user %s is not active", user.ID)
	}
	if input.Title == "" {
		return nil, contracts.NewError(contracts.ErrKindValidation, "request title must not be empty")
	}

	hash, err := dedupHash(identity.UserID, input.Operation)
	if err != nil {
		return nil, err
	}
	if existing, ok, err := s.repo.FindByDedup(ctx, hash); err != nil {
		return nil, err
	} else if ok {
		return nil, contracts.NewError(contracts.ErrKindDuplicateRequest,
			"an identical request is already in flight").WithDetail("request_id", existing.String())
	}

	requestID := uuid.New()
	op, err := s.registry.Create(ctx, requestID, input.Operation)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	expiry := now.Add(s.opts.DefaultExpiry)
	if input.ExpirationAt != nil {
		if !input.ExpirationAt.After(now) {
			return nil, contracts.NewError(contracts.ErrKindValidation, "expiration deadline is in the past")
		}
		expiry = *input.ExpirationAt
	}

	req := &contracts.Request{
		ID:             requestID,
		RequesterID:    identity.UserID,
		Title:          input.Title,
		Summary:        input.Summary,
		Operation:      op,
		Status:         contracts.RequestStatusCreated,
		CreatedAt:      now,
		LastModifiedAt: now,
		ExpirationAt:   expiry,
		Plan:           input.Plan,
		DedupHash:      hash,
	}
	if err := s.save(ctx, req); err != nil {
		return nil, err
	}
	if err := s.record(ctx, req.ID, "", req.Status, identity.UserID.String(), "submitted"); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "request created",
		"request_id", req.ID, "operation", op.Type, "requester", identity.UserID)

	if err := s.Reevaluate(ctx, req, identity.UserID.String()); err != nil {
		return nil, err
	}
	return req, nil
}

// CastVote records or replaces the caller's vote and applies any decisive
// outcome synchronously, so the caller observes the final status.
func (s *Service) CastVote(ctx context.Context, identity contracts.Identity, requestID uuid.UUID, decision contracts.VoteDecision, reason string) (*contracts.Request, error) {
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != contracts.RequestStatusCreated {
		return nil, contracts.NewError(contracts.ErrKindNotAllowedModification,
			"request %s is %s and no longer accepts votes", req.ID, req.Status)
	}
	if len(reason) > MaxVoteReasonLen {
		return nil, contracts.NewError(contracts.ErrKindVoteReasonTooLong,
			"vote reason exceeds the allowed length").
			WithDetail("max_len", fmt.Sprintf("%d", MaxVoteReasonLen))
	}

	eligible, matched, err := s.eligibleVoters(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, ok := eligible[identity.UserID]; !ok || matched == 0 {
		return nil, contracts.NewError(contracts.ErrKindApprovalNotAllowed,
			"user %s is not an eligible voter on request %s", identity.UserID, req.ID)
	}

	req.UpsertApproval(contracts.Approval{
		ApproverID: identity.UserID,
		Decision:   decision,
		Reason:     reason,
		DecidedAt:  s.clock.Now(),
	})
	req.LastModifiedAt = s.clock.Now()
	// Guarded save: the approval sweep may have moved the request off
	// Created since the load above, and a ballot write must not revert that.
	if err := s.saveExpecting(ctx, req, contracts.RequestStatusCreated); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "vote cast",
		"request_id", req.ID, "approver", identity.UserID, "decision", decision)

	if err := s.Reevaluate(ctx, req, identity.UserID.String()); err != nil {
		return nil, err
	}
	return req, nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*contracts.Request, error) {
	return s.repo.Get(ctx, id)
}

// List pages through requests matching the filter, oldest first.
func (s *Service) List(ctx context.Context, f Filter, offset, limit int) ([]*contracts.Request, error) {
	return s.repo.List(ctx, f, offset, limit)
}

// Reevaluate computes the combined policy verdict for a pending request and
// applies it. No matching policy is fail-closed: only members of the
// configured admin group pass.
func (s *Service) Reevaluate(ctx context.Context, req *contracts.Request, actor string) error {
	if req.Status != contracts.RequestStatusCreated {
		return nil
	}
	evals, matched, err := s.evaluatePolicies(ctx, req)
	if err != nil {
		return err
	}
	if matched == 0 {
		admin, err := s.isAdmin(ctx, req.RequesterID)
		if err != nil {
			return err
		}
		if admin {
			return s.Transition(ctx, req, contracts.RequestStatusApproved, "no governing policy, admin override", actor)
		}
		return s.Transition(ctx, req, contracts.RequestStatusRejected, "no policy governs this operation", actor)
	}
	switch criteria.Combine(evals) {
	case criteria.Adopted:
		return s.Transition(ctx, req, contracts.RequestStatusApproved, "policy criteria satisfied", actor)
	case criteria.Rejected:
		return s.Transition(ctx, req, contracts.RequestStatusRejected, "policy criteria can no longer be satisfied", actor)
	}
	return nil
}

func (s *Service) evaluatePolicies(ctx context.Context, req *contracts.Request) ([]criteria.Evaluation, int, error) {
	policies, err := s.policies.ListPolicies(ctx)
	if err != nil {
		return nil, 0, err
	}
	var evals []criteria.Evaluation
	for _, p := range policies {
		ok, err := criteria.MatchesSpecifier(ctx, p.Specifier, req, s.dir)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			continue
		}
		ev, err := s.engine.Evaluate(ctx, p.Criteria, req)
		if err != nil {
			return nil, 0, err
		}
		evals = append(evals, ev)
	}
	return evals, len(evals), nil
}

func (s *Service) eligibleVoters(ctx context.Context, req *contracts.Request) (map[uuid.UUID]struct{}, int, error) {
	policies, err := s.policies.ListPolicies(ctx)
	if err != nil {
		return nil, 0, err
	}
	eligible := make(map[uuid.UUID]struct{})
	matched := 0
	for _, p := range policies {
		ok, err := criteria.MatchesSpecifier(ctx, p.Specifier, req, s.dir)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			continue
		}
		matched++
		voters, err := s.engine.EligibleVoters(ctx, p.Criteria, req)
		if err != nil {
			return nil, 0, err
		}
		for id := range voters {
			eligible[id] = struct{}{}
		}
	}
	return eligible, matched, nil
}

func (s *Service) isAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	if s.opts.AdminGroupID == uuid.Nil {
		return false, nil
	}
	groups, err := s.dir.UserGroups(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, g := range groups {
		if g == s.opts.AdminGroupID {
			return true, nil
		}
	}
	return false, nil
}

// Transition moves the request to next, stamping modification time and, for
// terminal states, the reason. Illegal steps surface as consistency faults
// rather than silently overwriting state.
func (s *Service) Transition(ctx context.Context, req *contracts.Request, next contracts.RequestStatus, reason, actor string) error {
	if !req.CanTransition(next) {
		return contracts.NewError(contracts.ErrKindConsistency,
			"request %s cannot move from %s to %s", req.ID, req.Status, next)
	}
	prev := req.Status
	req.Status = next
	req.LastModifiedAt = s.clock.Now()
	if next.IsTerminal() {
		req.StatusReason = reason
	}
	if next == contracts.RequestStatusScheduled {
		at := req.Plan.ScheduledDeadline(s.clock.Now())
		req.ScheduledAt = &at
	}
	// The jobs scan on separate goroutines; the persisted record may have
	// moved since this copy was loaded. The save aborts unless the record
	// still holds the status this transition started from.
	if err := s.saveExpecting(ctx, req, prev); err != nil {
		req.Status = prev
		return err
	}
	if err := s.record(ctx, req.ID, prev, next, actor, reason); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "request transition",
		"request_id", req.ID, "from", prev, "to", next, "reason", reason)
	return nil
}

// Expire cancels an overdue request and cascades the cancellation into its
// pending sub-entities.
func (s *Service) Expire(ctx context.Context, req *contracts.Request) error {
	if err := s.Transition(ctx, req, contracts.RequestStatusCancelled, "expired", "system"); err != nil {
		return err
	}
	n, err := s.transfers.CancelPendingForRequest(ctx, req.ID, "expired")
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.InfoContext(ctx, "cancelled pending transfers for expired request",
			"request_id", req.ID, "count", n)
	}
	return nil
}

// Fail terminates a request that could not execute, cancelling any transfer
// record the executor did not already resolve.
func (s *Service) Fail(ctx context.Context, req *contracts.Request, reason string) error {
	if err := s.Transition(ctx, req, contracts.RequestStatusFailed, reason, "system"); err != nil {
		return err
	}
	_, err := s.transfers.CancelPendingForRequest(ctx, req.ID, reason)
	return err
}

// Save persists the request together with its current index entries.
func (s *Service) Save(ctx context.Context, req *contracts.Request) error {
	return s.save(ctx, req)
}

func (s *Service) save(ctx context.Context, req *contracts.Request) error {
	resources, err := s.registry.Resources(req.Operation)
	if err != nil {
		return err
	}
	return s.repo.Save(ctx, req, resources)
}

func (s *Service) saveExpecting(ctx context.Context, req *contracts.Request, expected contracts.RequestStatus) error {
	resources, err := s.registry.Resources(req.Operation)
	if err != nil {
		return err
	}
	return s.repo.SaveExpecting(ctx, req, resources, expected)
}

func (s *Service) record(ctx context.Context, id uuid.UUID, from, to contracts.RequestStatus, actor, reason string) error {
	if s.ledger == nil {
		return nil
	}
	return s.ledger.Append(ctx, audit.Entry{
		RequestID:  id,
		FromStatus: string(from),
		ToStatus:   string(to),
		Actor:      actor,
		Reason:     reason,
		RecordedAt: s.clock.Now(),
	})
}
