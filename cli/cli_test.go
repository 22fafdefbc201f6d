package cli

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gholt/segring"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := CLI(append([]string{"segring"}, args...), &buf); err != nil {
		t.Fatal(args, err)
	}
	return buf.String()
}

func TestCLI(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test.state")
	run(t, filename, "create", "topology-aware", "2", "64", "a@east/r1/m1", "b@west/r1/m1=2", "c@west/r2/m1")
	_, ch, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	if ch.Kind() != segring.KindTopologyAware || ch.NumSegments() != 64 || len(ch.Members()) != 3 {
		t.Fatal(ch)
	}
	b := segring.NodeAddress{Name: "b", Site: "west", Rack: "r1", Machine: "m1"}
	if !ch.IsMember(b) || ch.CapacityFactor(b) != 2 {
		t.Fatal("b did not round trip", ch)
	}
	out := run(t, filename)
	if !strings.Contains(out, "topology-aware") || !strings.Contains(out, "Segments Sharing a Site") {
		t.Fatal(out)
	}
	out = run(t, filename, "nodes")
	if !strings.Contains(out, "west") || !strings.Contains(out, "Capacity") {
		t.Fatal(out)
	}
	out = run(t, filename, "segment", "0")
	if strings.Count(out, "\n") < 3 || !strings.Contains(out, "Owner") {
		t.Fatal(out)
	}

	run(t, filename, "add", "d@east/r2/m1")
	_, added, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	if len(added.Members()) != 4 {
		t.Fatal(added)
	}
	out = run(t, filename, "rebalance")
	if !strings.Contains(out, "owners moved") {
		t.Fatal(out)
	}
	if out = run(t, filename, "rebalance"); !strings.Contains(out, "no change") {
		t.Fatal(out)
	}

	run(t, filename, "capacity", "a=0")
	_, drained, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	a := segring.NodeAddress{Name: "a", Site: "east", Rack: "r1", Machine: "m1"}
	if len(drained.SegmentsForOwner(a)) != 0 {
		t.Fatal("a still owns segments after being drained")
	}

	run(t, filename, "remove", "a")
	_, removed, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	if removed.IsMember(a) || len(removed.Members()) != 3 {
		t.Fatal(removed)
	}
}

func TestCLIErrors(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "test.state")
	var buf bytes.Buffer
	if err := CLI([]string{"segring", filename, "create", "ketama", "2", "8", "a"}, &buf); !errors.Is(err, segring.ErrConfiguration) {
		t.Fatal(err)
	}
	if err := CLI([]string{"segring", filename, "create", "sync", "2", "8", "a=-1"}, &buf); !errors.Is(err, segring.ErrConfiguration) {
		t.Fatal(err)
	}
	run(t, filename, "create", "sync", "2", "8", "a", "b")
	if err := CLI([]string{"segring", filename, "create", "sync", "2", "8", "a"}, &buf); err == nil {
		t.Fatal("create overwrote an existing file")
	}
	if err := CLI([]string{"segring", filename, "remove", "z"}, &buf); err == nil {
		t.Fatal("removed a member that does not exist")
	}
	if err := CLI([]string{"segring", filename, "add", "a"}, &buf); err == nil {
		t.Fatal("added a duplicate member")
	}
	if err := CLI([]string{"segring", filename, "segment", "8"}, &buf); err == nil {
		t.Fatal("accepted an out of range segment")
	}
	if err := CLI([]string{"segring", filename, "explode"}, &buf); err == nil {
		t.Fatal("accepted an unknown command")
	}
	if err := CLI([]string{"segring", filepath.Join(dir, "missing")}, &buf); err == nil {
		t.Fatal("loaded a missing file")
	}
}

func TestCLIHelp(t *testing.T) {
	out := run(t, "help")
	if !strings.Contains(out, "segring <file> create") {
		t.Fatal(out)
	}
}

func TestThousands(t *testing.T) {
	for v, want := range map[int]string{0: "0", 999: "999", 1000: "1,000", -1234567: "-1,234,567"} {
		if got := thousands(v); got != want {
			t.Fatal(v, got)
		}
	}
}
