package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"leadflow/internal/ledger"
	"leadflow/pkg/domain"
	"leadflow/pkg/platform/sentinel"
)

const (
	assignmentKeyPrefix = "leadflow:assignment:"
	messageIDKeyPrefix  = "leadflow:msgid:"
	unresolvedSetKey    = "leadflow:unresolved"
)

// Lua scripts keep each transition a single atomic server-side operation,
// matching the insert-if-absent and guard semantics the ledger contract
// requires without client-side read-then-write.
var (
	tryAssignScript = goredis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 then
			return redis.call('HGET', KEYS[1], 'treatment_id')
		end
		redis.call('HSET', KEYS[1],
			'lead_id', ARGV[1],
			'treatment_id', ARGV[2],
			'assigned_at', ARGV[3],
			'dispatch_status', 'PENDING',
			'outcome_status', 'UNRESOLVED',
			'external_message_id', '',
			'updated_at', ARGV[3])
		redis.call('SADD', KEYS[2], ARGV[1])
		return ''
	`)

	recordDispatchScript = goredis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return 'missing'
		end
		if redis.call('HGET', KEYS[1], 'dispatch_status') ~= 'PENDING' then
			return 'invalid'
		end
		redis.call('HSET', KEYS[1],
			'dispatch_status', ARGV[1],
			'external_message_id', ARGV[2],
			'updated_at', ARGV[4])
		if ARGV[2] ~= '' then
			redis.call('SET', KEYS[2], ARGV[3])
		end
		return 'ok'
	`)

	recordOutcomeScript = goredis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return 'missing'
		end
		if redis.call('HGET', KEYS[1], 'outcome_status') ~= 'UNRESOLVED' then
			return 'resolved'
		end
		redis.call('HSET', KEYS[1], 'outcome_status', ARGV[1], 'updated_at', ARGV[3])
		redis.call('SREM', KEYS[2], ARGV[2])
		return 'ok'
	`)
)

// Store implements ledger.Store on Redis hashes, one hash per assignment
// plus a message-id index and an unresolved set.
type Store struct {
	client goredis.UniversalClient
}

func New(client goredis.UniversalClient) *Store {
	return &Store{client: client}
}

func assignmentKey(leadID domain.LeadID) string {
	return assignmentKeyPrefix + string(leadID)
}

func messageIDKey(externalMessageID string) string {
	return messageIDKeyPrefix + externalMessageID
}

func (s *Store) TryAssign(ctx context.Context, leadID domain.LeadID, treatmentID domain.TreatmentID) (ledger.AssignResult, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tryAssignScript.Run(ctx, s.client,
		[]string{assignmentKey(leadID), unresolvedSetKey},
		string(leadID), string(treatmentID), now,
	).Text()
	if err != nil {
		return ledger.AssignResult{}, fmt.Errorf("try assign lead %s: %w", leadID, err)
	}
	if res == "" {
		return ledger.AssignResult{Created: true, TreatmentID: treatmentID}, nil
	}
	return ledger.AssignResult{Created: false, TreatmentID: domain.TreatmentID(res)}, nil
}

func (s *Store) RecordDispatch(ctx context.Context, leadID domain.LeadID, status ledger.DispatchStatus, externalMessageID string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("dispatch status %s: %w", status, sentinel.ErrInvalidState)
	}

	// The message-id index key must be computed client-side; when no
	// provider id exists a throwaway key is passed and the script skips it.
	idxKey := messageIDKey(externalMessageID)
	if externalMessageID == "" {
		idxKey = messageIDKeyPrefix + "-"
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := recordDispatchScript.Run(ctx, s.client,
		[]string{assignmentKey(leadID), idxKey},
		string(status), externalMessageID, string(leadID), now,
	).Text()
	if err != nil {
		return fmt.Errorf("record dispatch for lead %s: %w", leadID, err)
	}
	switch res {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("assignment for lead %s: %w", leadID, sentinel.ErrNotFound)
	default:
		return fmt.Errorf("assignment for lead %s: %w", leadID, sentinel.ErrInvalidState)
	}
}

func (s *Store) RecordOutcome(ctx context.Context, leadID domain.LeadID, outcome ledger.OutcomeStatus) error {
	if outcome != ledger.OutcomeConverted && outcome != ledger.OutcomeNoConversion {
		return fmt.Errorf("outcome %s: %w", outcome, sentinel.ErrInvalidState)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := recordOutcomeScript.Run(ctx, s.client,
		[]string{assignmentKey(leadID), unresolvedSetKey},
		string(outcome), string(leadID), now,
	).Text()
	if err != nil {
		return fmt.Errorf("record outcome for lead %s: %w", leadID, err)
	}
	switch res {
	case "ok":
		return nil
	case "missing":
		return fmt.Errorf("assignment for lead %s: %w", leadID, sentinel.ErrNotFound)
	default:
		return fmt.Errorf("assignment for lead %s: %w", leadID, sentinel.ErrAlreadyResolved)
	}
}

func (s *Store) GetByLead(ctx context.Context, leadID domain.LeadID) (*ledger.Assignment, error) {
	fields, err := s.client.HGetAll(ctx, assignmentKey(leadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get assignment for lead %s: %w", leadID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("assignment for lead %s: %w", leadID, sentinel.ErrNotFound)
	}

	assignedAt, _ := time.Parse(time.RFC3339Nano, fields["assigned_at"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, fields["updated_at"])
	return &ledger.Assignment{
		LeadID:            domain.LeadID(fields["lead_id"]),
		TreatmentID:       domain.TreatmentID(fields["treatment_id"]),
		AssignedAt:        assignedAt,
		DispatchStatus:    ledger.DispatchStatus(fields["dispatch_status"]),
		OutcomeStatus:     ledger.OutcomeStatus(fields["outcome_status"]),
		ExternalMessageID: fields["external_message_id"],
		UpdatedAt:         updatedAt,
	}, nil
}

func (s *Store) GetByMessageID(ctx context.Context, externalMessageID string) (*ledger.Assignment, error) {
	leadID, err := s.client.Get(ctx, messageIDKey(externalMessageID)).Result()
	if err == goredis.Nil {
		return nil, fmt.Errorf("assignment for message %s: %w", externalMessageID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve message %s: %w", externalMessageID, err)
	}
	return s.GetByLead(ctx, domain.LeadID(leadID))
}

func (s *Store) UnresolvedCount(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, unresolvedSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count unresolved assignments: %w", err)
	}
	return n, nil
}
