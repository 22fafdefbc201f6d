package topology

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gholt/segring"
	"github.com/gholt/segring/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoTopology is returned by operations that need a hash before the first
// call to UpdateMembers or Restore.
var ErrNoTopology = errors.New("no topology yet")

// ErrStaleRebalance is returned by ConfirmRebalance for a rebalance that's no
// longer in progress.
var ErrStaleRebalance = errors.New("stale rebalance id")

const (
	keyTopologyID  = "topologyId"
	keyRebalanceID = "rebalanceId"
)

// StateStore is where a Manager persists its current hash; *store.Store
// implements it. Load returns store.ErrNotFound when nothing was saved for
// the scope.
type StateStore interface {
	Save(state *segring.ScopedState) error
	Load(scope string) (*segring.ScopedState, error)
}

// Manager owns the topology of one cache. Topology may be called from any
// goroutine; changes are serialized.
type Manager struct {
	factory     segring.Factory
	numOwners   int
	numSegments int
	scope       string
	logger      *zap.Logger
	metrics     *Metrics
	limiter     *rate.Limiter
	autoConfirm bool

	// lock serializes writers; readers use topology without it.
	lock             sync.Mutex
	topology         atomic.Pointer[CacheTopology]
	rebalanceStarted time.Time
	kick             chan struct{}
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithRebalanceLimit limits how often Run starts rebalances. The default is
// one per second with a burst of one.
func WithRebalanceLimit(limit rate.Limit, burst int) Option {
	return func(m *Manager) {
		m.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithAutoConfirm has Run confirm every rebalance as soon as it starts,
// for caches with no data to transfer.
func WithAutoConfirm(autoConfirm bool) Option {
	return func(m *Manager) {
		m.autoConfirm = autoConfirm
	}
}

// WithScope names the cache; it's the persisted state's scope and the
// metrics' scope label. The default is "default".
func WithScope(scope string) Option {
	return func(m *Manager) {
		m.scope = scope
	}
}

func New(factory segring.Factory, numOwners, numSegments int, opts ...Option) (*Manager, error) {
	if factory == nil {
		return nil, &segring.ConfigurationError{Msg: "no factory"}
	}
	if numOwners < 1 || numSegments < 1 {
		return nil, &segring.ConfigurationError{Msg: fmt.Sprintf("invalid owners %d or segments %d", numOwners, numSegments)}
	}
	m := &Manager{
		factory:     factory,
		numOwners:   numOwners,
		numSegments: numSegments,
		scope:       "default",
		logger:      zap.NewNop(),
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		kick:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("scope", m.scope))
	return m, nil
}

func (m *Manager) Scope() string {
	return m.scope
}

// Topology returns the latest topology, or nil if there isn't one yet.
func (m *Manager) Topology() *CacheTopology {
	return m.topology.Load()
}

// install publishes t; m.lock must be held.
func (m *Manager) install(t *CacheTopology) {
	m.topology.Store(t)
	if m.metrics != nil {
		m.metrics.observe(m.scope, t)
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// UpdateMembers installs a topology for the membership view given. The first
// call creates the hash; later calls drop departed members and fill their
// segments but leave balancing to a rebalance. A view no newer than the one
// installed is ignored.
func (m *Manager) UpdateMembers(viewID int64, members []segring.Address, capacityFactors map[segring.Address]float32) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	old := m.topology.Load()
	if old == nil {
		ch, err := m.factory.Create(m.numOwners, m.numSegments, members, capacityFactors)
		if err != nil {
			return err
		}
		t := &CacheTopology{TopologyID: 1, ViewID: viewID, Members: append([]segring.Address(nil), members...), Current: ch}
		m.install(t)
		m.logger.Info("created topology", zap.Int64("viewId", viewID), zap.Int("members", len(members)), zap.Stringer("hash", ch))
		return nil
	}
	if viewID <= old.ViewID {
		m.logger.Debug("ignoring old membership view", zap.Int64("viewId", viewID), zap.Int64("installedViewId", old.ViewID))
		return nil
	}
	current, err := m.factory.UpdateMembers(old.Current, members, capacityFactors)
	if err != nil {
		return err
	}
	t := &CacheTopology{
		TopologyID:  old.TopologyID + 1,
		RebalanceID: old.RebalanceID,
		ViewID:      viewID,
		Phase:       old.Phase,
		Members:     append([]segring.Address(nil), members...),
		Current:     current,
	}
	if old.Pending != nil {
		if t.Pending, err = m.factory.UpdateMembers(old.Pending, members, capacityFactors); err != nil {
			return err
		}
		if t.Union, err = m.factory.Union(t.Current, t.Pending); err != nil {
			return err
		}
	}
	m.install(t)
	m.logger.Info("updated members", zap.Int64("viewId", viewID), zap.Int("members", len(members)), zap.Int("topologyId", t.TopologyID), zap.Int("movedOwners", segring.MovedOwners(old.Current, current)))
	return nil
}

// StartRebalance moves to ReadOldWriteAll toward a balanced hash. It returns
// false without error if a rebalance is already in progress or the current
// hash is already balanced.
func (m *Manager) StartRebalance() (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	old := m.topology.Load()
	if old == nil {
		return false, ErrNoTopology
	}
	if old.Phase != NoRebalance {
		return false, nil
	}
	pending := m.factory.Rebalance(old.Current)
	if pending == old.Current {
		return false, nil
	}
	union, err := m.factory.Union(old.Current, pending)
	if err != nil {
		return false, err
	}
	t := &CacheTopology{
		TopologyID:  old.TopologyID + 1,
		RebalanceID: old.RebalanceID + 1,
		ViewID:      old.ViewID,
		Phase:       ReadOldWriteAll,
		Members:     old.Members,
		Current:     old.Current,
		Pending:     pending,
		Union:       union,
	}
	m.rebalanceStarted = time.Now()
	m.install(t)
	moved := segring.MovedOwners(old.Current, pending)
	if m.metrics != nil {
		m.metrics.RebalancesStarted.WithLabelValues(m.scope).Inc()
		m.metrics.MovedOwners.WithLabelValues(m.scope).Add(float64(moved))
	}
	m.logger.Info("started rebalance", zap.Int("rebalanceId", t.RebalanceID), zap.Int("topologyId", t.TopologyID), zap.Int("movedOwners", moved))
	return true, nil
}

// ConfirmRebalance ends the rebalance with the id given, making the pending
// hash current.
func (m *Manager) ConfirmRebalance(rebalanceID int) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	old := m.topology.Load()
	if old == nil {
		return ErrNoTopology
	}
	if old.Phase == NoRebalance || old.RebalanceID != rebalanceID {
		return fmt.Errorf("%w: %d; topology %s", ErrStaleRebalance, rebalanceID, old)
	}
	t := &CacheTopology{
		TopologyID:  old.TopologyID + 1,
		RebalanceID: old.RebalanceID,
		ViewID:      old.ViewID,
		Phase:       NoRebalance,
		Members:     old.Members,
		Current:     old.Pending,
	}
	m.install(t)
	elapsed := time.Since(m.rebalanceStarted)
	if m.metrics != nil {
		m.metrics.RebalancesConfirmed.WithLabelValues(m.scope).Inc()
		m.metrics.RebalanceDuration.WithLabelValues(m.scope).Observe(elapsed.Seconds())
	}
	m.logger.Info("confirmed rebalance", zap.Int("rebalanceId", rebalanceID), zap.Int("topologyId", t.TopologyID), zap.Duration("elapsed", elapsed))
	return nil
}

// Run starts rebalances after topology changes, no faster than the rebalance
// limit allows, until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.kick:
		}
		if err := m.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		started, err := m.StartRebalance()
		if err != nil {
			if errors.Is(err, ErrNoTopology) {
				continue
			}
			return err
		}
		if started && m.autoConfirm {
			if err = m.ConfirmRebalance(m.Topology().RebalanceID); err != nil && !errors.Is(err, ErrStaleRebalance) {
				return err
			}
		}
	}
}

// Persist saves the current hash with members replaced by their persistent
// UUIDs.
func (m *Manager) Persist(st StateStore, uuids *PersistentUUIDManager) error {
	t := m.Topology()
	if t == nil {
		return ErrNoTopology
	}
	state := segring.NewScopedState(m.scope)
	if err := segring.Persist(m.factory, t.Current, state, uuids.AddressToPersistentUUID()); err != nil {
		return err
	}
	state.SetPropertyInt(keyTopologyID, t.TopologyID)
	state.SetPropertyInt(keyRebalanceID, t.RebalanceID)
	if err := st.Save(state); err != nil {
		return err
	}
	m.logger.Debug("persisted topology", zap.Int("topologyId", t.TopologyID), zap.Uint64("checksum", state.Checksum()))
	return nil
}

// Restore installs the hash saved by Persist, then applies members and
// their capacityFactors to it as view 0; with no members the saved ones and
// their saved capacity factors are kept. It returns false if nothing was
// saved or a saved member isn't known to uuids; the caller should then start
// fresh with UpdateMembers. Restore must be called before any other change.
func (m *Manager) Restore(st StateStore, uuids *PersistentUUIDManager, members []segring.Address, capacityFactors map[segring.Address]float32) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.topology.Load() != nil {
		return false, errors.New("topology already installed")
	}
	state, err := st.Load(m.scope)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Info("no saved topology", zap.String("scope", m.scope))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load saved topology: %w", err)
	}
	ch, err := segring.Restore(m.factory, state, uuids.PersistentUUIDToAddress())
	if err != nil {
		return false, err
	}
	if ch == nil {
		m.logger.Warn("saved topology has members that never came back; discarding it")
		return false, nil
	}
	if ch.NumSegments() != m.numSegments {
		return false, fmt.Errorf("%w: saved hash has %d segments, not %d", segring.ErrStateMismatch, ch.NumSegments(), m.numSegments)
	}
	topologyID, _ := state.PropertyInt(keyTopologyID)
	rebalanceID, _ := state.PropertyInt(keyRebalanceID)
	if len(members) > 0 {
		if ch, err = m.factory.UpdateMembers(ch, members, capacityFactors); err != nil {
			return false, err
		}
	} else {
		members = ch.Members()
	}
	t := &CacheTopology{
		TopologyID:  topologyID + 1,
		RebalanceID: rebalanceID,
		Members:     append([]segring.Address(nil), members...),
		Current:     ch,
	}
	m.install(t)
	m.logger.Info("restored topology", zap.Int("topologyId", t.TopologyID), zap.String("checksum", strconv.FormatUint(state.Checksum(), 16)))
	return true, nil
}
