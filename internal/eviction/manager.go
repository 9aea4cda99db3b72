package eviction

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/lucasew/audiocache/internal/errutil"
	"github.com/lucasew/audiocache/internal/eviction/policy"
	"github.com/lucasew/audiocache/internal/eviction/policy/maxsize"
	"github.com/lucasew/audiocache/internal/eviction/policy/minfree"
)

// Manager guards a single media volume: it checks capacity and, when asked,
// trims the volume down to its retain count.
//
// A Manager keeps no index between calls; every pass re-reads the directory.
type Manager struct {
	volume    Volume
	store     Store
	strategy  Strategy
	policies  []policy.Policy
	observers []Observer
	interval  time.Duration
}

// NewManager creates a Manager for volume. The free-space policy is always
// installed; the max-size policy only when volume.MaxBytes is set.
func NewManager(volume Volume, store Store, strategy Strategy, interval time.Duration) *Manager {
	m := &Manager{
		volume:   volume,
		store:    store,
		strategy: strategy,
		interval: interval,
	}
	m.policies = []policy.Policy{&minfree.Policy{
		Path:         volume.Path,
		MinFreeBytes: volume.MinFreeBytes,
	}}
	if volume.MaxBytes > 0 {
		m.policies = append(m.policies, &maxsize.Policy{
			MaxBytes: volume.MaxBytes,
			Size:     m.totalSize,
		})
	}
	return m
}

// CheckCapacity samples the free space of the filesystem backing volume.
func CheckCapacity(volume Volume) (policy.Decision, error) {
	p := &minfree.Policy{Path: volume.Path, MinFreeBytes: volume.MinFreeBytes}
	return p.Check()
}

// Volume returns the volume the manager guards.
func (m *Manager) Volume() Volume {
	return m.volume
}

// SetPolicies replaces the capacity policies.
func (m *Manager) SetPolicies(policies ...policy.Policy) {
	m.policies = policies
}

// AddObserver registers o to be notified after each eviction pass.
func (m *Manager) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// CheckCapacity runs every policy. The first decision demanding eviction wins;
// otherwise the first policy's decision is returned. Any policy error aborts the check.
func (m *Manager) CheckCapacity() (policy.Decision, error) {
	if len(m.policies) == 0 {
		return policy.Decision{}, ErrNoPolicies
	}
	var first policy.Decision
	for i, p := range m.policies {
		d, err := p.Check()
		if err != nil {
			return policy.Decision{}, err
		}
		if d.MustEvict {
			return d, nil
		}
		if i == 0 {
			first = d
		}
	}
	return first, nil
}

// EnforceRetention deletes the oldest artifacts until at most RetainCount remain,
// regardless of free space.
//
// Per-file failures never abort the pass; they are returned in the Result.
// Only an enumeration failure is returned as an error.
func (m *Manager) EnforceRetention(ctx context.Context) (*Result, error) {
	unlock := lockVolume(m.volume.Path)
	defer unlock()

	artifacts, err := m.store.List()
	if err != nil {
		return nil, &EnumerationError{Path: m.volume.Path, Err: err}
	}

	result := &Result{
		ID:      uuid.NewString(),
		Scanned: len(artifacts),
	}

	victims := m.strategy.Select(artifacts, m.volume.RetainCount)
	if len(victims) > 0 {
		slog.Info("Evicting artifacts", "pass", result.ID, "count", len(victims), "scanned", len(artifacts), "retain", m.volume.RetainCount)
	}

	for _, victim := range victims {
		err := m.store.Remove(victim.Name)
		switch {
		case err == nil:
			result.Deleted++
			result.FreedBytes += victim.Size
			result.Removed = append(result.Removed, victim)
			slog.Debug("Removed artifact", "path", victim.Path, "size", victim.Size)
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, ErrAlreadyAbsent):
			result.SkippedAlreadyGone++
			slog.Debug("Artifact already gone", "path", victim.Path)
		default:
			path := victim.Path
			if path == "" {
				path = victim.Name
			}
			result.Failed++
			result.Failures = append(result.Failures, &DeletionError{Path: path, Err: err})
			errutil.LogMsg(err, "Failed to remove artifact", "path", path)
		}
	}

	if len(victims) > 0 {
		slog.Info("Eviction pass finished", "pass", result.ID, "deleted", result.Deleted,
			"already_gone", result.SkippedAlreadyGone, "failed", result.Failed,
			"freed", humanize.IBytes(uint64(result.FreedBytes)))
	}

	for _, o := range m.observers {
		errutil.ReportError(o.EvictionCompleted(ctx, result), "Eviction observer failed", "pass", result.ID)
	}

	return result, nil
}

// RunOnce checks capacity and enforces retention if any policy demands it.
func (m *Manager) RunOnce(ctx context.Context) (*Report, error) {
	decision, err := m.CheckCapacity()
	if err != nil {
		return nil, err
	}

	report := &Report{Decision: decision}
	if !decision.MustEvict {
		slog.Debug("Capacity OK", "path", m.volume.Path, "free", decision.FreeBytes, "threshold", decision.Threshold)
		return report, nil
	}

	slog.Info("Capacity limit reached", "path", m.volume.Path, "reason", decision.Reason)
	result, err := m.EnforceRetention(ctx)
	if err != nil {
		return nil, err
	}
	report.Result = result
	return report, nil
}

// Start runs RunOnce on every interval tick until ctx is done.
// It returns immediately when the interval is not positive.
func (m *Manager) Start(ctx context.Context) {
	if m.interval <= 0 {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := m.RunOnce(ctx)
			errutil.ReportError(err, "Scheduled eviction failed", "path", m.volume.Path)
		}
	}
}

func (m *Manager) totalSize() (int64, error) {
	artifacts, err := m.store.List()
	if err != nil {
		return 0, &EnumerationError{Path: m.volume.Path, Err: err}
	}
	var total int64
	for _, a := range artifacts {
		total += a.Size
	}
	return total, nil
}
