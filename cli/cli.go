// Package cli is the segring command line interface over a state file. It's
// kept as a package so you can stub it to whatever executable name you might
// want, with code like:
//
//	package main
//
//	import (
//		"fmt"
//		"os"
//
//		"github.com/gholt/segring/cli"
//	)
//
//	func main() {
//		if err := cli.CLI(os.Args, os.Stdout); err != nil {
//			fmt.Fprintln(os.Stderr, err)
//			os.Exit(1)
//		}
//	}
//
// The individual subcommands are also exported, prefixed with CLI, so you can
// build your own interface with just the commands you want.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gholt/segring"
	"github.com/gholt/segring/info"
	"github.com/olekukonko/tablewriter"
)

// Scope is the scope name state files are written under.
const Scope = "segring"

// keyNode maps a member's persistent UUID to its full node address, so a
// state file restores names and locations.
const keyNode = "cli.node.%s"

func CLI(args []string, output io.Writer) error {
	if len(args) < 2 || args[1] == "help" {
		return CLIHelp(args, output)
	}
	filename := args[1]
	if len(args) > 2 && args[2] == "create" {
		return CLICreate(filename, args[3:], output)
	}
	f, ch, err := Load(filename)
	if err != nil {
		return err
	}
	if len(args) < 3 {
		return CLIInfo(ch, output)
	}
	var changed *segring.ConsistentHash
	switch args[2] {
	case "node", "nodes":
		return CLINodes(ch, output)
	case "segment":
		return CLISegment(ch, args[3:], output)
	case "add":
		changed, err = CLIAdd(f, ch, args[3:], output)
	case "remove":
		changed, err = CLIRemove(f, ch, args[3:], output)
	case "capacity":
		changed, err = CLICapacity(f, ch, args[3:], output)
	case "rebalance":
		changed, err = CLIRebalance(f, ch, output)
	default:
		return fmt.Errorf("unknown command: %#v", args[2])
	}
	if err != nil {
		return err
	}
	if changed == ch {
		fmt.Fprintln(output, "no change")
		return nil
	}
	return Persist(f, changed, filename)
}

// CLIHelp outputs the help text for the default CLI.
func CLIHelp(args []string, output io.Writer) error {
	name := "segring"
	if len(args) > 0 {
		name = path.Base(args[0])
	}
	fmt.Fprintf(output, `Segment Ring Command Line <github.com/gholt/segring>

%[1]s <file>
    Shows general information about the hash within the <file>: member
    counts, balance, segments whose owners share a site, rack, or machine,
    and any warnings.

%[1]s <file> create <factory> <owners> <segments> <node> ...
    Creates a new <file>. The <factory> is one of default, replicated, sync,
    or topology-aware. Each <node> is name[@site[/rack[/machine]]][=capacity]
    where capacity defaults to 1, for example:

        %[1]s my.state create topology-aware 2 256 a@east/r1/m1 b@west/r1/m1=2

%[1]s <file> nodes
    Lists the members with their locations, capacity factors, and how many
    segments they own and primary own.

%[1]s <file> segment <segment>
    Lists the owners of the given segment, primary first.

%[1]s <file> add <node> ...
    Adds members, using the same <node> syntax as create. New members own
    nothing until a rebalance, unless segments were short of owners.

%[1]s <file> remove <name> ...
    Removes members; their segments are reassigned to the members left.

%[1]s <file> capacity <name>=<capacity> ...
    Sets capacity factors. A capacity of 0 drains the member.

%[1]s <file> rebalance
    Rebalances the hash, moving as few owners as it can, and reports how many
    owners moved.
`, name)
	return nil
}

// Load reads a state file written by Persist.
func Load(filename string) (segring.Factory, *segring.ConsistentHash, error) {
	state, err := segring.LoadStateFile(filename)
	if err != nil {
		return nil, nil, err
	}
	kindName, ok := state.Property("consistentHash")
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s holds no hash", segring.ErrStateMismatch, filename)
	}
	kind, err := segring.ParseKind(kindName)
	if err != nil {
		return nil, nil, err
	}
	hashName, _ := state.Property("hashFunction")
	var hash segring.Hash
	if hashName != "" {
		if hash, err = segring.HashByName(hashName); err != nil {
			return nil, nil, err
		}
	}
	f, err := segring.NewFactory(kind, hash)
	if err != nil {
		return nil, nil, err
	}
	ch, err := segring.Restore(f, state, func(u segring.PersistentUUID) (segring.Address, bool) {
		v, ok := state.Property(fmt.Sprintf(keyNode, u))
		if !ok {
			return nil, false
		}
		a, err := segring.ParseNodeAddress(v)
		return a, err == nil
	})
	if err != nil {
		return nil, nil, err
	}
	if ch == nil {
		return nil, nil, fmt.Errorf("%w: %s names a member it has no address for", segring.ErrStateMismatch, filename)
	}
	return f, ch, nil
}

// Persist writes ch to filename, replacing any existing file.
func Persist(f segring.Factory, ch *segring.ConsistentHash, filename string) error {
	state := segring.NewScopedState(Scope)
	err := segring.Persist(f, ch, state, func(a segring.Address) (segring.PersistentUUID, bool) {
		u := segring.NameBasedPersistentUUID(a.String())
		state.SetProperty(fmt.Sprintf(keyNode, u), formatNode(a))
		return u, true
	})
	if err != nil {
		return err
	}
	return segring.PersistStateFile(state, filename)
}

func formatNode(a segring.Address) string {
	loc := segring.LocationOf(a)
	if loc == (segring.Location{}) {
		return a.String()
	}
	return a.String() + "@" + loc.String()
}

// parseNode parses name[@site[/rack[/machine]]][=capacity].
func parseNode(arg string) (segring.NodeAddress, float32, error) {
	spec, capacity, hasCapacity := strings.Cut(arg, "=")
	a, err := segring.ParseNodeAddress(spec)
	if err != nil {
		return a, 0, err
	}
	if strings.Contains(a.Name, "/") {
		return a, 0, fmt.Errorf("invalid node %#v; name must not contain /", arg)
	}
	cf := float32(1)
	if hasCapacity {
		v, err := strconv.ParseFloat(capacity, 32)
		if err != nil {
			return a, 0, fmt.Errorf("invalid node %#v; %s", arg, err)
		}
		cf = float32(v)
	}
	return a, cf, nil
}

// CLICreate creates a new state file; see the output of CLIHelp for detailed
// information.
func CLICreate(filename string, args []string, output io.Writer) error {
	if len(args) < 4 {
		return fmt.Errorf("use the syntax: create <factory> <owners> <segments> <node> ...")
	}
	kind, err := segring.ParseKind(args[0])
	if err != nil {
		return err
	}
	numOwners, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid owners %#v; %s", args[1], err)
	}
	numSegments, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid segments %#v; %s", args[2], err)
	}
	var members []segring.Address
	cfs := map[segring.Address]float32{}
	for _, arg := range args[3:] {
		a, cf, err := parseNode(arg)
		if err != nil {
			return err
		}
		members = append(members, a)
		cfs[a] = cf
	}
	if _, err = os.Stat(filename); err == nil {
		return fmt.Errorf("file already exists")
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	f, err := segring.NewFactory(kind, nil)
	if err != nil {
		return err
	}
	ch, err := f.Create(numOwners, numSegments, members, cfs)
	if err != nil {
		return err
	}
	if err = Persist(f, ch, filename); err != nil {
		return err
	}
	fmt.Fprintln(output, ch)
	return nil
}

// CLIInfo outputs a report on the hash, including the details the info
// package gathers.
func CLIInfo(ch *segring.ConsistentHash, output io.Writer) error {
	i, err := info.New(ch, true)
	if err != nil {
		return err
	}
	member := func(m int) string {
		if m < 0 || m >= len(i.Members) {
			return "none"
		}
		return i.Members[m].String()
	}
	report := [][]string{
		{i.Kind.String(), "Factory"},
		{i.HashFunction, "Hash Function"},
		{thousands(i.NumSegments), "Segments"},
		{thousands(i.NumOwners), "Owners"},
		{thousands(i.ActualNumOwners), "Actual Owners"},
		{thousands(i.MemberCount), "Members"},
		{thousands(i.DrainingCount), "Draining Members"},
		{strconv.FormatFloat(i.TotalCapacity, 'g', -1, 64), "Total Capacity"},
	}
	if i.EligibleCount > 0 {
		report = append(report,
			[]string{fmt.Sprintf("%.02f%%", i.MostUnderweight*100), "Worst Underweight Member " + member(i.MostUnderweightMember)},
			[]string{fmt.Sprintf("%.02f%%", i.MostOverweight*100), "Worst Overweight Member " + member(i.MostOverweightMember)},
			[]string{fmt.Sprintf("%.02f%%", i.PrimaryMostUnderweight*100), "Worst Underweight Primary " + member(i.PrimaryUnderMember)},
			[]string{fmt.Sprintf("%.02f%%", i.PrimaryMostOverweight*100), "Worst Overweight Primary " + member(i.PrimaryOverMember)},
		)
		for owner, most := range i.OwnerToMost {
			report = append(report, []string{fmt.Sprintf("%.02f%%", most*100), fmt.Sprintf("Most of a Member at Owner %d (%s, %d segments)", owner, member(i.OwnerToMostMember[owner]), i.OwnerToMostCount[owner])})
		}
		for tier := info.TierSite; tier < info.TierCount; tier++ {
			report = append(report, []string{thousands(len(i.TierToRiskySegments[tier])), fmt.Sprintf("Segments Sharing a %s", tierTitles[tier])})
		}
		if i.WorstMirrorMemberA >= 0 {
			report = append(report, []string{fmt.Sprintf("%.02f%%", i.WorstMirrorPercentage*100), fmt.Sprintf("Worst Mirroring %s and %s (%d segments)", member(i.WorstMirrorMemberA), member(i.WorstMirrorMemberB), i.WorstMirrorCount)})
		}
	}
	report = append(report, []string{i.Time.Format(time.RFC3339), "Report Time"})
	align(output, nil, report, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT)
	for _, w := range i.Warnings {
		fmt.Fprintln(output, "warning:", w)
	}
	return nil
}

var tierTitles = [info.TierCount]string{"Site", "Rack", "Machine"}

// CLINodes lists every member; see the output of CLIHelp for detailed
// information.
func CLINodes(ch *segring.ConsistentHash, output io.Writer) error {
	stats := segring.NewOwnershipStatistics(ch)
	var report [][]string
	for _, m := range ch.Members() {
		loc := segring.LocationOf(m)
		report = append(report, []string{
			m.String(),
			loc.Site,
			loc.Rack,
			loc.Machine,
			strconv.FormatFloat(float64(ch.CapacityFactor(m)), 'g', -1, 32),
			thousands(stats.Owned(m)),
			thousands(stats.PrimaryOwned(m)),
		})
	}
	align(output, []string{"Name", "Site", "Rack", "Machine", "Capacity", "Owned", "Primary"}, report,
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT)
	return nil
}

// CLISegment lists a segment's owners; see the output of CLIHelp for detailed
// information.
func CLISegment(ch *segring.ConsistentHash, args []string, output io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("use the syntax: segment <segment>")
	}
	segment, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	if segment < 0 || segment >= ch.NumSegments() {
		return fmt.Errorf("segment %d is out of range; there are %d segments", segment, ch.NumSegments())
	}
	var report [][]string
	for owner, m := range ch.LocateOwnersForSegment(segment) {
		report = append(report, []string{strconv.Itoa(owner), m.String(), segring.LocationOf(m).String()})
	}
	if len(report) == 0 {
		return &segring.NoOwnerError{Segment: segment}
	}
	align(output, []string{"Owner", "Name", "Location"}, report, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT)
	return nil
}

// CLIAdd adds members; see the output of CLIHelp for detailed information.
func CLIAdd(f segring.Factory, ch *segring.ConsistentHash, args []string, output io.Writer) (*segring.ConsistentHash, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("use the syntax: add <node> ...")
	}
	members := ch.Members()
	cfs := capacityFactors(ch)
	for _, arg := range args {
		a, cf, err := parseNode(arg)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.String() == a.Name {
				return nil, fmt.Errorf("member %s already exists", a.Name)
			}
		}
		members = append(members, a)
		cfs[a] = cf
	}
	return f.UpdateMembers(ch, members, cfs)
}

// CLIRemove removes members; see the output of CLIHelp for detailed
// information.
func CLIRemove(f segring.Factory, ch *segring.ConsistentHash, args []string, output io.Writer) (*segring.ConsistentHash, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("use the syntax: remove <name> ...")
	}
	remove := map[string]bool{}
	for _, arg := range args {
		remove[arg] = true
	}
	var members []segring.Address
	for _, m := range ch.Members() {
		if remove[m.String()] {
			delete(remove, m.String())
			continue
		}
		members = append(members, m)
	}
	if len(remove) > 0 {
		var names []string
		for name := range remove {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("no member named %s", strings.Join(names, ", "))
	}
	return f.UpdateMembers(ch, members, ch.CapacityFactors())
}

// CLICapacity sets capacity factors; see the output of CLIHelp for detailed
// information.
func CLICapacity(f segring.Factory, ch *segring.ConsistentHash, args []string, output io.Writer) (*segring.ConsistentHash, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("use the syntax: capacity <name>=<capacity> ...")
	}
	byName := map[string]segring.Address{}
	for _, m := range ch.Members() {
		byName[m.String()] = m
	}
	cfs := capacityFactors(ch)
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || value == "" {
			return nil, fmt.Errorf(`invalid expression %#v; needs "="`, arg)
		}
		m, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("no member named %s", name)
		}
		cf, err := strconv.ParseFloat(value, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid expression %#v; %s", arg, err)
		}
		cfs[m] = float32(cf)
	}
	return f.UpdateMembers(ch, ch.Members(), cfs)
}

// CLIRebalance rebalances the hash and reports the owners moved.
func CLIRebalance(f segring.Factory, ch *segring.ConsistentHash, output io.Writer) (*segring.ConsistentHash, error) {
	rebalanced := f.Rebalance(ch)
	if rebalanced != ch {
		fmt.Fprintf(output, "%s owners moved\n", thousands(segring.MovedOwners(ch, rebalanced)))
	}
	return rebalanced, nil
}

// capacityFactors returns every member's capacity factor in a map the caller
// may change.
func capacityFactors(ch *segring.ConsistentHash) map[segring.Address]float32 {
	cfs := make(map[segring.Address]float32, len(ch.Members()))
	for _, m := range ch.Members() {
		cfs[m] = ch.CapacityFactor(m)
	}
	return cfs
}

func align(output io.Writer, header []string, rows [][]string, alignments ...int) {
	t := tablewriter.NewWriter(output)
	if header != nil {
		t.SetHeader(header)
		t.SetAutoFormatHeaders(false)
		t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	}
	t.SetAutoWrapText(false)
	t.SetBorder(false)
	t.SetHeaderLine(false)
	t.SetColumnSeparator("")
	t.SetCenterSeparator("")
	t.SetRowSeparator("")
	t.SetTablePadding(" ")
	t.SetNoWhiteSpace(true)
	t.SetColumnAlignment(alignments)
	t.AppendBulk(rows)
	t.Render()
}

func thousands(v int) string {
	s := strconv.Itoa(v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		s = "-" + s
	}
	return s
}
