package membership

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gholt/segring"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/api/v3/mvccpb"
)

func record(t *testing.T, createRevision int64, m Member) *mvccpb.KeyValue {
	t.Helper()
	value, err := encodeMember(m)
	if err != nil {
		t.Fatal(err)
	}
	return &mvccpb.KeyValue{Key: []byte("/segring/members/" + m.Name), Value: value, CreateRevision: createRevision}
}

func TestViewFromKVs(t *testing.T) {
	ua := segring.NameBasedPersistentUUID("a").String()
	ub := segring.NameBasedPersistentUUID("b").String()
	kvs := []*mvccpb.KeyValue{
		record(t, 9, Member{Name: "b", Site: "east", CapacityFactor: 2, PersistentUUID: ub}),
		{Key: []byte("/segring/members/junk"), Value: []byte("not cbor"), CreateRevision: 3},
		record(t, 4, Member{Name: "a", CapacityFactor: 1, PersistentUUID: ua}),
		record(t, 5, Member{Name: "c", CapacityFactor: 1, PersistentUUID: "nope"}),
	}
	v, errs := viewFromKVs(12, kvs)
	if len(errs) != 2 {
		t.Fatal(errs)
	}
	if v.ID != 12 || len(v.Members) != 2 || v.Members[0].Name != "a" || v.Members[1].Name != "b" {
		t.Fatal(v)
	}
	addrs := v.Addresses()
	if addrs[1] != (segring.NodeAddress{Name: "b", Site: "east"}) {
		t.Fatal(addrs)
	}
	cfs := v.CapacityFactors()
	if cfs[addrs[0]] != 1 || cfs[addrs[1]] != 2 {
		t.Fatal(cfs)
	}
	uuids := v.PersistentUUIDs()
	if uuids[addrs[0]].String() != ua || uuids[addrs[1]].String() != ub {
		t.Fatal(uuids)
	}
}

func TestValidateMember(t *testing.T) {
	u := segring.NewPersistentUUID().String()
	for _, m := range []Member{
		{CapacityFactor: 1, PersistentUUID: u},
		{Name: "a", CapacityFactor: -1, PersistentUUID: u},
		{Name: "a", CapacityFactor: 1},
	} {
		if err := validateMember(m); !errors.Is(err, segring.ErrConfiguration) {
			t.Fatal(m, err)
		}
	}
	if err := validateMember(Member{Name: "a", PersistentUUID: u}); err != nil {
		t.Fatal(err)
	}
}

func TestLocalCapacityFactor(t *testing.T) {
	if _, err := LocalCapacityFactor(context.Background(), 0); !errors.Is(err, segring.ErrConfiguration) {
		t.Fatal(err)
	}
	cf, err := LocalCapacityFactor(context.Background(), 1<<30)
	if err != nil {
		t.Skip("no memory information on this host:", err)
	}
	if cf <= 0 {
		t.Fatal(cf)
	}
}

// Needs a running etcd; set segring_etcd=host:port to run it.
func TestEtcdSource(t *testing.T) {
	endpoint := os.Getenv("segring_etcd")
	if endpoint == "" {
		t.Skip("skipping unless env segring_etcd is set")
	}
	client, err := clientv3.New(clientv3.Config{Endpoints: strings.Split(endpoint, ","), DialTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	prefix := "/segring-test/" + segring.NewPersistentUUID().String() + "/"
	defer client.Delete(context.Background(), prefix, clientv3.WithPrefix())
	s := NewEtcdSource(client, prefix, nil)
	for _, name := range []string{"first", "second"} {
		if err = s.Register(ctx, Member{Name: name, CapacityFactor: 1, PersistentUUID: segring.NameBasedPersistentUUID(name).String()}, 10); err != nil {
			t.Fatal(err)
		}
	}
	views := make(chan *View, 4)
	watchCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(watchCtx, func(v *View) error {
			views <- v
			return nil
		})
	}()
	v := <-views
	if len(v.Members) != 2 || v.Members[0].Name != "first" {
		t.Fatal(v)
	}
	if err = s.Deregister(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	v2 := <-views
	if len(v2.Members) != 1 || v2.Members[0].Name != "second" || v2.ID <= v.ID {
		t.Fatal(v2)
	}
	stop()
	if err = <-done; !errors.Is(err, context.Canceled) {
		t.Fatal(err)
	}
}
