// Package request implements the request lifecycle: the durable indexed
// repository, the creation/voting service, and the status machine that
// moves adopted requests toward execution.
package request

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/covault/station/pkg/contracts"
	"github.com/covault/station/pkg/indexstore"
	"github.com/covault/station/pkg/resource"
)

// statusByte gives each status a stable index prefix. Values are persisted
// inside index entries; never renumber.
func statusByte(s contracts.RequestStatus) byte {
	switch s {
	case contracts.RequestStatusCreated:
		return 1
	case contracts.RequestStatusApproved:
		return 2
	case contracts.RequestStatusRejected:
		return 3
	case contracts.RequestStatusScheduled:
		return 4
	case contracts.RequestStatusProcessing:
		return 5
	case contracts.RequestStatusCompleted:
		return 6
	case contracts.RequestStatusFailed:
		return 7
	case contracts.RequestStatusCancelled:
		return 8
	}
	return 0
}

// Repository stores requests with the secondary indexes every read path
// needs. Primary record and index entries commit in one transaction; the
// entries written for each request are remembered alongside it, so an
// update can remove exactly what the previous save added.
type Repository struct {
	requests *indexstore.Map
	entries  *indexstore.Map // request id -> index entries of the last save
	dedup    *indexstore.Map // dedup hash -> request id, in-flight only

	byStatus    *indexstore.IndexSet // statusByte . created . id
	byResource  *indexstore.IndexSet // resource key . id
	byRequester *indexstore.IndexSet // requester . id
	byApprover  *indexstore.IndexSet // approver . id
	byCreated   *indexstore.IndexSet // created . id
	byExpiry    *indexstore.IndexSet // expiration . id
	byScheduled *indexstore.IndexSet // scheduled . id

	store *indexstore.Store
}

func NewRepository(ctx context.Context, store *indexstore.Store) (*Repository, error) {
	r := &Repository{store: store}
	var err error
	if r.requests, err = store.Map(ctx, "requests"); err != nil {
		return nil, err
	}
	if r.entries, err = store.Map(ctx, "request_index_entries"); err != nil {
		return nil, err
	}
	if r.dedup, err = store.Map(ctx, "request_dedup"); err != nil {
		return nil, err
	}
	for name, idx := range map[string]**indexstore.IndexSet{
		"requests_by_status":          &r.byStatus,
		"requests_by_resource":        &r.byResource,
		"requests_by_requester":       &r.byRequester,
		"requests_by_approver":        &r.byApprover,
		"requests_by_creation_time":   &r.byCreated,
		"requests_by_expiration_time": &r.byExpiry,
		"requests_by_scheduled_time":  &r.byScheduled,
	} {
		if *idx, err = store.Index(ctx, name); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// indexEntries computes every index entry a request owns in its current
// state. Resources come from the caller because the operation registry owns
// payload interpretation.
func (r *Repository) indexEntries(req *contracts.Request, resources []resource.Resource) map[string][][]byte {
	id := indexstore.KeyUUID(req.ID)
	out := map[string][][]byte{
		"requests_by_status": {indexstore.Concat(
			indexstore.KeyByte(statusByte(req.Status)),
			indexstore.KeyTime(req.CreatedAt),
			id,
		)},
		"requests_by_requester":     {indexstore.Concat(indexstore.KeyUUID(req.RequesterID), id)},
		"requests_by_creation_time": {indexstore.Concat(indexstore.KeyTime(req.CreatedAt), id)},
	}
	if !req.Status.IsTerminal() {
		out["requests_by_expiration_time"] = [][]byte{
			indexstore.Concat(indexstore.KeyTime(req.ExpirationAt), id),
		}
	}
	if req.ScheduledAt != nil {
		out["requests_by_scheduled_time"] = [][]byte{
			indexstore.Concat(indexstore.KeyTime(*req.ScheduledAt), id),
		}
	}
	for _, res := range resources {
		out["requests_by_resource"] = append(out["requests_by_resource"],
			indexstore.Concat(res.Key(), id))
	}
	for _, a := range req.Approvals {
		out["requests_by_approver"] = append(out["requests_by_approver"],
			indexstore.Concat(indexstore.KeyUUID(a.ApproverID), id))
	}
	return out
}

func (r *Repository) index(name string) *indexstore.IndexSet {
	switch name {
	case "requests_by_status":
		return r.byStatus
	case "requests_by_resource":
		return r.byResource
	case "requests_by_requester":
		return r.byRequester
	case "requests_by_approver":
		return r.byApprover
	case "requests_by_creation_time":
		return r.byCreated
	case "requests_by_expiration_time":
		return r.byExpiry
	case "requests_by_scheduled_time":
		return r.byScheduled
	}
	return nil
}

// Save writes the request, its index entries, and its dedup marker in one
// transaction. Stale entries from the previous save are removed first, so
// a status flip never leaves a request visible under two statuses.
func (r *Repository) Save(ctx context.Context, req *contracts.Request, resources []resource.Resource) error {
	return r.save(ctx, req, resources, nil)
}

// SaveExpecting is Save with a status precondition: the write aborts unless
// the persisted record still holds expected. Status transitions go through
// this path, because the jobs scan on separate goroutines and a record can
// move between the scan and the save.
func (r *Repository) SaveExpecting(ctx context.Context, req *contracts.Request, resources []resource.Resource, expected contracts.RequestStatus) error {
	return r.save(ctx, req, resources, &expected)
}

func (r *Repository) save(ctx context.Context, req *contracts.Request, resources []resource.Resource, expected *contracts.RequestStatus) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", req.ID, err)
	}
	next := r.indexEntries(req, resources)
	nextRaw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode index entries for %s: %w", req.ID, err)
	}
	key := indexstore.KeyUUID(req.ID)

	return r.store.WithinTx(ctx, func(tx *indexstore.Tx) error {
		if expected != nil {
			curRaw, ok, err := tx.Map(r.requests).Get(ctx, key)
			if err != nil {
				return err
			}
			if ok {
				var cur contracts.Request
				if err := json.Unmarshal(curRaw, &cur); err != nil {
					return fmt.Errorf("decode request %s: %w", req.ID, err)
				}
				if cur.Status != *expected {
					return contracts.NewError(contracts.ErrKindNotAllowedModification,
						"request %s is %s, not %s", req.ID, cur.Status, *expected)
				}
			}
		}
		prevRaw, ok, err := tx.Map(r.entries).Get(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			var prev map[string][][]byte
			if err := json.Unmarshal(prevRaw, &prev); err != nil {
				return fmt.Errorf("decode previous index entries for %s: %w", req.ID, err)
			}
			for name, entries := range prev {
				idx := r.index(name)
				if idx == nil {
					continue
				}
				for _, e := range entries {
					if err := tx.Index(idx).Remove(ctx, e); err != nil {
						return err
					}
				}
			}
		}
		for name, entries := range next {
			idx := r.index(name)
			if idx == nil {
				return fmt.Errorf("unknown index %q", name)
			}
			for _, e := range entries {
				if err := tx.Index(idx).Insert(ctx, e); err != nil {
					return err
				}
			}
		}
		if _, _, err := tx.Map(r.requests).Insert(ctx, key, raw); err != nil {
			return err
		}
		if _, _, err := tx.Map(r.entries).Insert(ctx, key, nextRaw); err != nil {
			return err
		}
		if req.DedupHash != "" {
			dedupKey := []byte(req.DedupHash)
			if req.Status.IsTerminal() {
				if _, _, err := tx.Map(r.dedup).Remove(ctx, dedupKey); err != nil {
					return err
				}
			} else {
				if _, _, err := tx.Map(r.dedup).Insert(ctx, dedupKey, key); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*contracts.Request, error) {
	raw, ok, err := r.requests.Get(ctx, indexstore.KeyUUID(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, contracts.NewError(contracts.ErrKindNotFound, "request %s not found", id)
	}
	var req contracts.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", id, err)
	}
	return &req, nil
}

// FindByDedup returns the in-flight request holding the dedup hash, if any.
func (r *Repository) FindByDedup(ctx context.Context, hash string) (uuid.UUID, bool, error) {
	raw, ok, err := r.dedup.Get(ctx, []byte(hash))
	if err != nil || !ok {
		return uuid.Nil, false, err
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("decode dedup entry: %w", err)
	}
	return id, true, nil
}

// FindByStatus lists requests in the given status, oldest first.
func (r *Repository) FindByStatus(ctx context.Context, status contracts.RequestStatus, limit int) ([]*contracts.Request, error) {
	b := indexstore.KeyByte(statusByte(status))
	lo := indexstore.Concat(b, indexstore.MinTimeKey, indexstore.MinUUIDKey)
	hi := indexstore.Concat(b, indexstore.MaxTimeKey, indexstore.MaxUUIDKey)
	return r.load(ctx, r.byStatus, lo, hi, limit)
}

// FindExpiredBefore lists non-terminal requests whose expiration deadline
// passed. The terminal filter is a safety net: terminal saves drop the
// expiration entry, but a crash between steps must not double-cancel.
func (r *Repository) FindExpiredBefore(ctx context.Context, deadline time.Time, limit int) ([]*contracts.Request, error) {
	lo := indexstore.Concat(indexstore.MinTimeKey, indexstore.MinUUIDKey)
	hi := indexstore.Concat(indexstore.KeyTime(deadline), indexstore.MaxUUIDKey)
	reqs, err := r.load(ctx, r.byExpiry, lo, hi, limit)
	if err != nil {
		return nil, err
	}
	out := reqs[:0]
	for _, req := range reqs {
		if !req.Status.IsTerminal() {
			out = append(out, req)
		}
	}
	return out, nil
}

// FindScheduledDue lists approved-and-scheduled requests whose execution
// time has arrived.
func (r *Repository) FindScheduledDue(ctx context.Context, now time.Time, limit int) ([]*contracts.Request, error) {
	lo := indexstore.Concat(indexstore.MinTimeKey, indexstore.MinUUIDKey)
	hi := indexstore.Concat(indexstore.KeyTime(now), indexstore.MaxUUIDKey)
	reqs, err := r.load(ctx, r.byScheduled, lo, hi, limit)
	if err != nil {
		return nil, err
	}
	out := reqs[:0]
	for _, req := range reqs {
		if req.Status == contracts.RequestStatusScheduled {
			out = append(out, req)
		}
	}
	return out, nil
}

// FindByRequester lists every request a user proposed.
func (r *Repository) FindByRequester(ctx context.Context, requester uuid.UUID, limit int) ([]*contracts.Request, error) {
	k := indexstore.KeyUUID(requester)
	lo := indexstore.Concat(k, indexstore.MinUUIDKey)
	hi := indexstore.Concat(k, indexstore.MaxUUIDKey)
	return r.load(ctx, r.byRequester, lo, hi, limit)
}

// FindByApprover lists every request a user has voted on.
func (r *Repository) FindByApprover(ctx context.Context, approver uuid.UUID, limit int) ([]*contracts.Request, error) {
	k := indexstore.KeyUUID(approver)
	lo := indexstore.Concat(k, indexstore.MinUUIDKey)
	hi := indexstore.Concat(k, indexstore.MaxUUIDKey)
	return r.load(ctx, r.byApprover, lo, hi, limit)
}

// FindByResource lists requests touching the exact resource.
func (r *Repository) FindByResource(ctx context.Context, res resource.Resource, limit int) ([]*contracts.Request, error) {
	k := res.Key()
	lo := indexstore.Concat(k, indexstore.MinUUIDKey)
	hi := indexstore.Concat(k, indexstore.MaxUUIDKey)
	return r.load(ctx, r.byResource, lo, hi, limit)
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Statuses       []contracts.RequestStatus
	OperationTypes []contracts.OperationType
	Requester      uuid.UUID
	Resource       *resource.Resource
	CreatedAfter   time.Time
	CreatedBefore  time.Time
}

func (f Filter) matches(req *contracts.Request) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if req.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.OperationTypes) > 0 {
		ok := false
		for _, t := range f.OperationTypes {
			if req.Operation.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Requester != uuid.Nil && req.RequesterID != f.Requester {
		return false
	}
	if !f.CreatedAfter.IsZero() && req.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && req.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	return true
}

// List walks the creation-time index in order and returns the page
// [offset, offset+limit) of requests matching the filter. A resource filter
// switches to the by-resource index and restores creation order afterwards.
func (r *Repository) List(ctx context.Context, f Filter, offset, limit int) ([]*contracts.Request, error) {
	if f.Resource != nil {
		reqs, err := r.FindByResource(ctx, *f.Resource, 0)
		if err != nil {
			return nil, err
		}
		sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
		return paginate(reqs, f, offset, limit), nil
	}
	lo := indexstore.Concat(indexstore.MinTimeKey, indexstore.MinUUIDKey)
	hi := indexstore.Concat(indexstore.MaxTimeKey, indexstore.MaxUUIDKey)
	entries, err := r.byCreated.Scan(ctx, lo, hi, 0)
	if err != nil {
		return nil, err
	}
	var reqs []*contracts.Request
	for _, e := range entries {
		id, ok := indexstore.TrailingUUID(e)
		if !ok {
			continue
		}
		req, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return paginate(reqs, f, offset, limit), nil
}

func paginate(reqs []*contracts.Request, f Filter, offset, limit int) []*contracts.Request {
	var out []*contracts.Request
	skipped := 0
	for _, req := range reqs {
		if !f.matches(req) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, req)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Fault is one index inconsistency found by CheckConsistency.
type Fault struct {
	Index     string    `json:"index"`
	RequestID uuid.UUID `json:"request_id"`
	Detail    string    `json:"detail"`
}

// CheckConsistency walks the status index and verifies every entry points
// at an existing request in the status the entry claims. Faults are
// reported, never repaired silently.
func (r *Repository) CheckConsistency(ctx context.Context) ([]Fault, error) {
	entries, err := r.byStatus.All(ctx)
	if err != nil {
		return nil, err
	}
	var faults []Fault
	for _, e := range entries {
		if len(e) < 1+8+16 {
			faults = append(faults, Fault{Index: "requests_by_status", Detail: "short entry"})
			continue
		}
		id, _ := indexstore.TrailingUUID(e)
		req, err := r.Get(ctx, id)
		if err != nil {
			if contracts.KindOf(err) == contracts.ErrKindNotFound {
				faults = append(faults, Fault{
					Index: "requests_by_status", RequestID: id,
					Detail: "entry points at missing request",
				})
				continue
			}
			return nil, err
		}
		if statusByte(req.Status) != e[0] {
			faults = append(faults, Fault{
				Index: "requests_by_status", RequestID: id,
				Detail: fmt.Sprintf("entry status byte %d, record status %s", e[0], req.Status),
			})
		}
	}
	return faults, nil
}

func (r *Repository) load(ctx context.Context, idx *indexstore.IndexSet, lo, hi []byte, limit int) ([]*contracts.Request, error) {
	entries, err := idx.Scan(ctx, lo, hi, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*contracts.Request, 0, len(entries))
	for _, e := range entries {
		id, ok := indexstore.TrailingUUID(e)
		if !ok {
			return nil, contracts.NewError(contracts.ErrKindConsistency, "index entry with no trailing id")
		}
		req, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
