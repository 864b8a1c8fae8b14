package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/logging"
	"github.com/layer-3/keyward/ports"
)

// SyncStatus reconciles the stored record with the validator contract and
// returns it. An active on-chain session never promotes a pending record; only
// Confirm does that. If the oracle is unreachable the last known record is
// returned unchanged.
func (s *SessionService) SyncStatus(ctx context.Context, address string) (*core.SessionRecord, error) {
	record, err := s.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if !record.Live() {
		return record, nil
	}

	status, err := s.queryOracle(ctx, record)
	if err != nil {
		s.logger.Warn("oracle.unavailable", "address", logging.ShortAddress(record.Address), "op", "sync", "error", err)
		return record, nil
	}

	if status == core.ChainActive {
		return record, nil
	}
	return s.transition(ctx, record, core.SessionRevoked, status)
}

// Confirm promotes a pending record to active if the validator reports the
// session as active, and revokes it otherwise
func (s *SessionService) Confirm(ctx context.Context, address string) (*core.SessionRecord, error) {
	record, err := s.Get(ctx, address)
	if errors.Is(err, core.ErrSessionNotFound) {
		return nil, core.ErrNoPendingSession
	}
	if err != nil {
		return nil, err
	}
	if record.Status != core.SessionPending {
		return nil, core.ErrNoPendingSession
	}

	status, err := s.queryOracle(ctx, record)
	if err != nil {
		return nil, err
	}

	to := core.SessionRevoked
	if status == core.ChainActive {
		to = core.SessionActive
	}

	updated, err := s.transition(ctx, record, to, status)
	if errors.Is(err, core.ErrSessionNotFound) {
		return nil, core.ErrNoPendingSession
	}
	if err != nil {
		return nil, err
	}
	if updated.SessionKeyAddress != record.SessionKeyAddress || updated.Status != to {
		// Superseded by a concurrent create or confirm
		return nil, core.ErrNoPendingSession
	}
	return updated, nil
}

func (s *SessionService) queryOracle(ctx context.Context, record *core.SessionRecord) (core.ChainStatus, error) {
	status, err := s.oracle.QueryStatus(ctx, record.Address, &record.Policy)
	if err != nil {
		s.metrics.OracleQueries.WithLabelValues("error").Inc()
		return 0, err
	}
	s.metrics.OracleQueries.WithLabelValues(status.String()).Inc()
	return status, nil
}

// transition applies a compare-and-set status change and returns the record as
// stored afterwards. A lost race leaves the newer record untouched.
func (s *SessionService) transition(ctx context.Context, record *core.SessionRecord, to core.SessionStatus, chain core.ChainStatus) (*core.SessionRecord, error) {
	changed, err := s.store.TransitionStatus(ctx, record.Address, record.SessionKeyAddress, record.Status, to)
	if err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}

	if changed {
		s.metrics.SessionChanges.WithLabelValues(string(to)).Inc()
		kind := ports.SessionConfirmed
		if to == core.SessionRevoked {
			kind = ports.SessionRevoked
			s.evicter.Evict(record.Address)
		}
		s.publish(ctx, record, kind)
		s.logger.Info("session."+kind,
			"address", logging.ShortAddress(record.Address),
			"session_key", record.SessionKeyAddress,
			"chain_status", chain.String(),
		)
	}

	return s.store.Get(ctx, record.Address)
}
