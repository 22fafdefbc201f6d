package membership

import (
	"context"
	"errors"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdSource registers members in etcd and reads views back.
type EtcdSource struct {
	client *clientv3.Client
	prefix string
	logger *zap.Logger
}

// NewEtcdSource uses client, which the caller keeps ownership of.
func NewEtcdSource(client *clientv3.Client, prefix string, logger *zap.Logger) *EtcdSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EtcdSource{client: client, prefix: prefix, logger: logger}
}

// Register adds m under a lease of ttl seconds that's kept alive until ctx is
// done. Cancelling ctx stops the renewals and the member drops out once the
// lease expires; call Deregister to leave right away.
func (s *EtcdSource) Register(ctx context.Context, m Member, ttl int64) error {
	if err := validateMember(m); err != nil {
		return err
	}
	value, err := encodeMember(m)
	if err != nil {
		return err
	}
	lease, err := s.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	if _, err = s.client.Put(ctx, s.prefix+m.Name, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}
	ch, err := s.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
		s.logger.Info("stopped renewing member lease", zap.String("member", m.Name))
	}()
	s.logger.Info("registered member", zap.String("member", m.Name), zap.Float32("capacityFactor", m.CapacityFactor), zap.Int64("ttl", ttl))
	return nil
}

func (s *EtcdSource) Deregister(ctx context.Context, name string) error {
	_, err := s.client.Delete(ctx, s.prefix+name)
	return err
}

// View reads the current membership.
func (s *EtcdSource) View(ctx context.Context) (*View, error) {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	v, errs := viewFromKVs(resp.Header.Revision, resp.Kvs)
	for _, err := range errs {
		s.logger.Warn("skipping member record", zap.Error(err))
	}
	return v, nil
}

// Watch calls fn with the current view and then with a fresh view after every
// change, until ctx is done or fn returns an error.
func (s *EtcdSource) Watch(ctx context.Context, fn func(*View) error) error {
	v, err := s.View(ctx)
	if err != nil {
		return err
	}
	if err = fn(v); err != nil {
		return err
	}
	wch := s.client.Watch(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithRev(v.ID+1))
	for resp := range wch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = resp.Err(); err != nil {
			return err
		}
		if v, err = s.View(ctx); err != nil {
			return err
		}
		if err = fn(v); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("membership watch closed")
}
