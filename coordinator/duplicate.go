package coordinator

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"
)

// modifiedTolerance is the modified-time window, in seconds, inside which
// two records still count as the same version. Filesystems truncate
// timestamps differently across platforms, so strict equality would split
// identical files.
const modifiedTolerance = 2.0

// sameVersion reports whether two (size, modifiedAt) tuples identify the
// same file version. Symmetric by construction.
func sameVersion(sizeA uint64, modA float64, sizeB uint64, modB float64) bool {
	return sizeA == sizeB && math.Abs(modA-modB) < modifiedTolerance
}

// CheckLocalDuplicate looks up a candidate name in the resident local
// snapshot. Pure: no network calls, the caller refreshes beforehand.
func CheckLocalDuplicate(local *Snapshot, name string) (bool, *FileRecord) {
	if local == nil {
		return false, nil
	}
	rec, ok := local.Files[name]
	if !ok {
		return false, nil
	}
	return true, &rec
}

// CheckNetworkDuplicate partitions the network snapshot's same-name entries
// into exact and partial matches for the candidate (name, size, modifiedAt).
// An owner's entry lands in exactly one of the two sets. Pure; computed
// entirely from the resident snapshot.
func CheckNetworkDuplicate(network *Snapshot, name string, size uint64, modifiedAt float64) DuplicateVerdict {
	if network == nil {
		return DuplicateVerdict{}
	}

	candidates := lo.Filter(lo.Values(network.Network), func(r NetworkFileRecord, _ int) bool {
		return r.Name == name
	})

	exact, partial := lo.FilterReject(candidates, func(r NetworkFileRecord, _ int) bool {
		return sameVersion(size, modifiedAt, r.Size, r.ModifiedAt)
	})

	// Stable order for presentation and tests.
	byOwner := func(rs []NetworkFileRecord) {
		sort.Slice(rs, func(i, j int) bool { return rs[i].OwnerHostname < rs[j].OwnerHostname })
	}
	byOwner(exact)
	byOwner(partial)

	return DuplicateVerdict{
		HasExact:       len(exact) > 0,
		ExactMatches:   exact,
		HasPartial:     len(partial) > 0,
		PartialMatches: partial,
	}
}

// Classify combines the local and network checks into one verdict for a
// candidate file.
func Classify(local, network *Snapshot, name string, size uint64, modifiedAt float64) DuplicateVerdict {
	verdict := CheckNetworkDuplicate(network, name, size, modifiedAt)
	verdict.ExistsLocally, verdict.LocalMatch = CheckLocalDuplicate(local, name)
	return verdict
}

// Headline returns the single decision message for the verdict. Exact
// matches take precedence over partial ones; partial matches are still
// retained in the verdict for callers that want the full picture. An empty
// string means no duplicate was found anywhere.
func (v DuplicateVerdict) Headline() string {
	switch {
	case v.ExistsLocally && v.HasExact:
		return fmt.Sprintf("already tracked locally and identical copies exist on the network (%d peer(s))", len(v.ExactMatches))
	case v.ExistsLocally:
		return "a file with this name is already tracked locally"
	case v.HasExact:
		return fmt.Sprintf("an identical file already exists on the network (%d peer(s))", len(v.ExactMatches))
	case v.HasPartial:
		return fmt.Sprintf("a different version of this file exists on the network (%d peer(s))", len(v.PartialMatches))
	default:
		return ""
	}
}
