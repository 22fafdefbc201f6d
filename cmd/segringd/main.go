// Command segringd runs the topology of one cache on a node: it registers the
// node in etcd, follows the membership, keeps the segment ownership hash
// current and rebalanced, persists it locally, and serves metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gholt/segring"
	"github.com/gholt/segring/config"
	"github.com/gholt/segring/membership"
	"github.com/gholt/segring/store"
	"github.com/gholt/segring/topology"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const keyNodeUUID = "persistentUUID"

func main() {
	configPath := flag.String("config", "segringd.yaml", "path to the YAML config file")
	flag.Parse()
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	if err = run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("segringd exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("segringd stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	var st *store.Store
	var err error
	if cfg.State.Dir == "" {
		st, err = store.OpenInMemory(store.WithLogger(logger))
	} else {
		st, err = store.Open(cfg.State.Dir, store.WithLogger(logger))
	}
	if err != nil {
		return err
	}
	defer st.Close()
	self, err := nodeUUID(st, cfg.Node.Name)
	if err != nil {
		return err
	}

	factory, err := cfg.Factory()
	if err != nil {
		return err
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	limit := rate.Inf
	if cfg.Rebalance.Interval > 0 {
		limit = rate.Every(cfg.Rebalance.Interval)
	}
	manager, err := topology.New(factory, cfg.Cache.NumOwners, cfg.Cache.NumSegments,
		topology.WithScope(cfg.Cache.Name),
		topology.WithLogger(logger),
		topology.WithMetrics(topology.NewMetrics(registry)),
		topology.WithRebalanceLimit(limit, cfg.Rebalance.Burst),
		topology.WithAutoConfirm(cfg.Rebalance.AutoConfirm),
	)
	if err != nil {
		return err
	}

	endpoints, err := cfg.Endpoints()
	if err != nil {
		return err
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: cfg.Membership.DialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return fmt.Errorf("connect to etcd %v: %w", endpoints, err)
	}
	defer client.Close()
	source := membership.NewEtcdSource(client, cfg.Membership.Prefix, logger)
	capacityFactor := *cfg.Node.CapacityFactor
	if cfg.Node.AutoCapacity {
		if capacityFactor, err = membership.LocalCapacityFactor(ctx, cfg.Node.ReferenceMemory); err != nil {
			return err
		}
	}
	member := membership.Member{
		Name:           cfg.Node.Name,
		Site:           cfg.Node.Site,
		Rack:           cfg.Node.Rack,
		Machine:        cfg.Node.Machine,
		CapacityFactor: capacityFactor,
		PersistentUUID: self.String(),
	}
	if err = source.Register(ctx, member, int64(cfg.Membership.LeaseTTL.Seconds())); err != nil {
		return err
	}

	uuids := topology.NewPersistentUUIDManager()
	view, err := source.View(ctx)
	if err != nil {
		return err
	}
	addUUIDs(uuids, view)
	if restored, err := manager.Restore(st, uuids, view.Addresses(), view.CapacityFactors()); err != nil {
		logger.Warn("could not restore saved topology; starting fresh", zap.Error(err))
	} else if restored {
		logger.Info("restored saved topology", zap.Stringer("topology", manager.Topology()))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return source.Watch(ctx, func(v *membership.View) error {
			if len(v.Members) == 0 {
				logger.Warn("membership view is empty", zap.Int64("viewId", v.ID))
				return nil
			}
			addUUIDs(uuids, v)
			if err := manager.UpdateMembers(v.ID, v.Addresses(), v.CapacityFactors()); err != nil {
				if errors.Is(err, segring.ErrConfiguration) {
					logger.Warn("membership view not applied", zap.Int64("viewId", v.ID), zap.Error(err))
					return nil
				}
				return err
			}
			return persist(manager, st, uuids, logger)
		})
	})
	g.Go(func() error {
		return manager.Run(ctx)
	})
	g.Go(func() error {
		// Rebalances change the topology outside the watch, so persist
		// whenever it moved on.
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		persisted := 0
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			t := manager.Topology()
			if t == nil || t.TopologyID == persisted {
				continue
			}
			if err := persist(manager, st, uuids, logger); err != nil {
				return err
			}
			persisted = t.TopologyID
		}
	})
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("listen", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	err = g.Wait()
	deregisterCtx, deregisterCancel := context.WithTimeout(context.Background(), cfg.Membership.DialTimeout)
	defer deregisterCancel()
	if derr := source.Deregister(deregisterCtx, cfg.Node.Name); derr != nil {
		logger.Warn("could not deregister", zap.Error(derr))
	}
	if manager.Topology() != nil {
		if perr := persist(manager, st, uuids, logger); perr != nil {
			logger.Warn("could not persist topology on shutdown", zap.Error(perr))
		}
	}
	return err
}

// nodeUUID returns the node's persistent UUID, generating and saving one on
// first start so it survives restarts.
func nodeUUID(st *store.Store, name string) (segring.PersistentUUID, error) {
	scope := "node/" + name
	state, err := st.Load(scope)
	if err == nil {
		if v, ok := state.Property(keyNodeUUID); ok {
			return segring.ParsePersistentUUID(v)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return segring.PersistentUUID{}, err
	}
	u := segring.NewPersistentUUID()
	state = segring.NewScopedState(scope)
	state.SetProperty(keyNodeUUID, u.String())
	if err = st.Save(state); err != nil {
		return segring.PersistentUUID{}, err
	}
	return u, nil
}

func addUUIDs(uuids *topology.PersistentUUIDManager, v *membership.View) {
	for a, u := range v.PersistentUUIDs() {
		uuids.Add(a, u)
	}
}

func persist(manager *topology.Manager, st *store.Store, uuids *topology.PersistentUUIDManager, logger *zap.Logger) error {
	err := manager.Persist(st, uuids)
	if errors.Is(err, segring.ErrUnmappableMember) {
		// A member without a UUID can't be restored anyway.
		logger.Debug("topology not persisted", zap.Error(err))
		return nil
	}
	return err
}
