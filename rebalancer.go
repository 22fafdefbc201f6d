package segring

import "math"

// rebalancer does the actual work of reassigning owners for the default
// factory. It is separate so that the tracking it uses can just be discarded
// once complete.
//
// Every pass compares owned-segments-to-capacity ratios: the worst member is
// the one with the highest ratio, and a replacement only happens when the new
// owner's ratio after gaining the segment is no higher than the old owner's
// ratio after losing it, so a later pass won't swap them back.
type rebalancer struct {
	b        *builder
	all      []NodeIndexType
	untested []bool
}

func newRebalancer(b *builder) *rebalancer {
	rb := &rebalancer{
		b:        b,
		all:      make([]NodeIndexType, len(b.members)),
		untested: make([]bool, len(b.members)),
	}
	for i := range rb.all {
		rb.all[i] = NodeIndexType(i)
	}
	return rb
}

func (rb *rebalancer) rebalance() {
	rb.addPrimaryOwners()
	rb.addBackupOwners()
}

func (rb *rebalancer) addPrimaryOwners() {
	rb.addFirstOwner()
	// Primary owners with too many segments trade places with their backups.
	rb.swapPrimaryOwnersWithBackups()
	// Segments short of owners get a new primary owner.
	rb.replacePrimaryOwners(rb.b.actualNumOwners)
	// Anything still overweight may take an extra owner; the surplus backups
	// are trimmed by addBackupOwners.
	rb.replacePrimaryOwners(rb.b.actualNumOwners + 1)
}

func (rb *rebalancer) addFirstOwner() {
	for segment, owners := range rb.b.segmentOwners {
		if len(owners) > 0 {
			continue
		}
		if n := rb.findNewPrimaryOwner(rb.all, NodeIndexNil); n != NodeIndexNil {
			rb.b.addPrimaryOwner(segment, n)
		}
	}
}

// Segments are walked in reverse order here and below so the hash changes
// less visibly as members are added.
func (rb *rebalancer) swapPrimaryOwnersWithBackups() {
	for segment := rb.b.numSegments() - 1; segment >= 0; segment-- {
		owners := rb.b.segmentOwners[segment]
		if len(owners) == 0 {
			continue
		}
		if n := rb.findNewPrimaryOwner(owners[1:], owners[0]); n != NodeIndexNil {
			rb.b.replacePrimaryOwnerWithBackup(segment, n)
		}
	}
}

func (rb *rebalancer) replacePrimaryOwners(maxOwners int) {
	for replaced := true; replaced; {
		replaced = false
		worst := rb.findWorstPrimaryOwner()
		for segment := rb.b.numSegments() - 1; segment >= 0; segment-- {
			owners := rb.b.segmentOwners[segment]
			if len(owners) == 0 || len(owners) >= maxOwners || owners[0] != worst {
				continue
			}
			n := rb.findNewPrimaryOwner(rb.all, worst)
			if n != NodeIndexNil && !containsIndex(owners, n) {
				rb.b.addPrimaryOwner(segment, n)
				replaced = true
				worst = rb.findWorstPrimaryOwner()
			}
		}
	}
}

func (rb *rebalancer) addBackupOwners() {
	rb.removeExtraBackupOwners()
	rb.doAddBackupOwners()
	rb.replaceBackupOwners()
}

func (rb *rebalancer) resetUntested() {
	for i := range rb.untested {
		rb.untested[i] = true
	}
}

func (rb *rebalancer) anyUntested() bool {
	for _, u := range rb.untested {
		if u {
			return true
		}
	}
	return false
}

func (rb *rebalancer) removeExtraBackupOwners() {
	rb.resetUntested()
	for rb.anyUntested() {
		removed := false
		worst := rb.findWorstBackupOwner()
		for segment := rb.b.numSegments() - 1; segment >= 0; segment-- {
			owners := rb.b.segmentOwners[segment]
			if len(owners) <= rb.b.actualNumOwners {
				continue
			}
			// Never the primary.
			if indexOfIndex(owners, worst) > 0 {
				rb.b.removeOwner(segment, worst)
				removed = true
				rb.resetUntested()
				worst = rb.findWorstBackupOwner()
			}
		}
		if !removed {
			rb.untested[worst] = false
		}
	}
}

func (rb *rebalancer) doAddBackupOwners() {
	for segment := range rb.b.segmentOwners {
		for len(rb.b.segmentOwners[segment]) < rb.b.actualNumOwners {
			n := rb.findNewBackupOwner(rb.b.segmentOwners[segment], NodeIndexNil)
			if n == NodeIndexNil {
				break
			}
			rb.b.addOwner(segment, n)
		}
	}
}

// replaceBackupOwners hands segments from the worst member to better ones
// until no backup owner can be improved upon. When the worst member can't
// give anything away it's set aside and the next worst is tried; after any
// replacement every member is eligible again.
func (rb *rebalancer) replaceBackupOwners() {
	rb.resetUntested()
	for rb.anyUntested() {
		replaced := false
		worst := rb.findWorstBackupOwner()
		for segment := rb.b.numSegments() - 1; segment >= 0; segment-- {
			owners := rb.b.segmentOwners[segment]
			if indexOfIndex(owners, worst) <= 0 {
				continue
			}
			if n := rb.findNewBackupOwner(owners, worst); n != NodeIndexNil {
				rb.b.removeOwner(segment, worst)
				rb.b.addOwner(segment, n)
				replaced = true
				rb.resetUntested()
				worst = rb.findWorstBackupOwner()
			}
		}
		if !replaced {
			rb.untested[worst] = false
		}
	}
}

// findNewPrimaryOwner returns the candidate that would have the best
// primary-owned-to-capacity ratio after gaining a segment, if that's no worse
// than owner's ratio after losing one. owner may be NodeIndexNil.
func (rb *rebalancer) findNewPrimaryOwner(candidates []NodeIndexType, owner NodeIndexType) NodeIndexType {
	best := NodeIndexNil
	bestRatio := float32(math.MaxFloat32)
	if owner != NodeIndexNil {
		if cf := rb.b.capacityFactor(owner); cf != 0 {
			bestRatio = float32(rb.b.primaryOwned(owner)-1) / cf
		}
	}
	for _, n := range candidates {
		cf := rb.b.capacityFactor(n)
		primaryOwned := rb.b.primaryOwned(n)
		if float32(primaryOwned+1) <= cf*bestRatio {
			best = n
			bestRatio = float32(primaryOwned+1) / cf
		}
	}
	return best
}

func (rb *rebalancer) findWorstPrimaryOwner() NodeIndexType {
	worst := NodeIndexNil
	maxRatio := float32(-1)
	for _, n := range rb.all {
		cf := rb.b.capacityFactor(n)
		primaryOwned := rb.b.primaryOwned(n)
		if worst == NodeIndexNil || float32(primaryOwned-1) >= cf*maxRatio {
			worst = n
			maxRatio = 0
			if cf != 0 {
				maxRatio = float32(primaryOwned-1) / cf
			}
		}
	}
	return worst
}

// findNewBackupOwner is findNewPrimaryOwner for owned segments, skipping
// members in excludes.
func (rb *rebalancer) findNewBackupOwner(excludes []NodeIndexType, owner NodeIndexType) NodeIndexType {
	best := NodeIndexNil
	bestRatio := float32(math.MaxFloat32)
	if owner != NodeIndexNil {
		if cf := rb.b.capacityFactor(owner); cf != 0 {
			bestRatio = float32(rb.b.owned(owner)-1) / cf
		}
	}
	for _, n := range rb.all {
		if containsIndex(excludes, n) {
			continue
		}
		cf := rb.b.capacityFactor(n)
		owned := rb.b.owned(n)
		if float32(owned+1) <= cf*bestRatio {
			best = n
			bestRatio = float32(owned+1) / cf
		}
	}
	return best
}

func (rb *rebalancer) findWorstBackupOwner() NodeIndexType {
	worst := NodeIndexNil
	maxRatio := float32(-1)
	for _, n := range rb.all {
		if !rb.untested[n] {
			continue
		}
		cf := rb.b.capacityFactor(n)
		owned := rb.b.owned(n)
		if worst == NodeIndexNil || float32(owned-1) >= cf*maxRatio {
			worst = n
			maxRatio = 0
			if cf != 0 {
				maxRatio = float32(owned-1) / cf
			}
		}
	}
	return worst
}
