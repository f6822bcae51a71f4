package reconcile

import (
	"fmt"
	"slices"

	"github.com/longlee218/goclass-editor/internal/scene"
)

// Result is the outcome of one merge.
type Result struct {
	// Elements is the merged sequence. It is freshly allocated and
	// deep-copied; neither input is mutated or aliased.
	Elements []scene.Element

	// Changed reports whether the merge produced anything different
	// from the local input: a remote winner over a local element, or a
	// newly inserted element. Callers use it to skip redundant saves,
	// re-renders and broadcasts.
	Changed bool
}

// Elements merges local and remote revisions of a scene.
//
// Ids present on one side only are kept. Ids present on both resolve
// to a single winner; see pick for the rules. The output preserves the
// local sequence's relative order, and remote-only elements splice in
// immediately before their first already-placed successor from the
// remote sequence (at the end when no successor is placed), so the
// stacking order stays stable under repeated merges.
//
// An error means an element could not be content-hashed for tie
// breaking, which only happens with non-finite geometry. No partial
// result is returned.
func Elements(local, remote []scene.Element) (Result, error) {
	out := make([]scene.Element, 0, len(local)+len(remote))
	if len(remote) == 0 {
		for _, e := range local {
			out = append(out, e.Clone())
		}
		return Result{Elements: out}, nil
	}

	inLocal := make(map[string]bool, len(local))
	for _, l := range local {
		inLocal[l.ID] = true
	}

	// Fold both sides into a winner per id. Duplicate ids within one
	// sequence fold the same way, so malformed input cannot produce
	// two copies of an element.
	winners := make(map[string]scene.Element, len(local)+len(remote))
	changed := false
	for _, l := range local {
		if _, ok := winners[l.ID]; !ok {
			winners[l.ID] = l
		}
	}
	for _, r := range remote {
		cur, ok := winners[r.ID]
		if !ok {
			winners[r.ID] = r
			continue
		}
		win, remoteWon, err := pick(cur, r)
		if err != nil {
			return Result{}, err
		}
		if remoteWon {
			winners[r.ID] = win
			if inLocal[r.ID] {
				changed = true
			}
		}
	}

	// Local order first.
	pos := make(map[string]int, len(winners))
	for _, l := range local {
		if _, placed := pos[l.ID]; placed {
			continue
		}
		pos[l.ID] = len(out)
		out = append(out, winners[l.ID].Clone())
	}

	// Splice in remote-only elements.
	for i, r := range remote {
		if _, placed := pos[r.ID]; placed {
			continue
		}
		at := len(out)
		for _, later := range remote[i+1:] {
			if p, ok := pos[later.ID]; ok {
				at = p
				break
			}
		}
		out = slices.Insert(out, at, winners[r.ID].Clone())
		for id, p := range pos {
			if p >= at {
				pos[id] = p + 1
			}
		}
		pos[r.ID] = at
		changed = true
	}

	return Result{Elements: out, Changed: changed}, nil
}

// Documents merges remote elements into a local document. View state
// never reconciles: the local AppState passes through untouched.
func Documents(local scene.Document, remote []scene.Element) (scene.Document, bool, error) {
	res, err := Elements(local.Elements, remote)
	if err != nil {
		return scene.Document{}, false, err
	}
	return scene.Document{Elements: res.Elements, AppState: local.AppState.Clone()}, res.Changed, nil
}

// pick chooses between two revisions of the same element id. Returns
// the winner and whether the remote side won.
//
// Higher Version wins outright. At equal Version a tombstone beats a
// live element regardless of nonce, so a deletion can never be undone
// by a concurrent edit that drew a luckier nonce. Otherwise the lower
// VersionNonce wins, and a full (Version, VersionNonce) collision
// falls back to the smaller content hash. Every rule reads only
// element content, so each replica picks the same winner no matter
// which side it calls local.
func pick(local, remote scene.Element) (scene.Element, bool, error) {
	if local.Version == remote.Version && local.Deleted != remote.Deleted {
		if local.Deleted {
			return local, false, nil
		}
		return remote, true, nil
	}
	switch p := scene.Precedence(local, remote); {
	case p > 0:
		return local, false, nil
	case p < 0:
		return remote, true, nil
	}
	lh, err := scene.ElementHash(local)
	if err != nil {
		return scene.Element{}, false, fmt.Errorf("reconcile %s: %w", local.ID, err)
	}
	rh, err := scene.ElementHash(remote)
	if err != nil {
		return scene.Element{}, false, fmt.Errorf("reconcile %s: %w", remote.ID, err)
	}
	if rh < lh {
		return remote, true, nil
	}
	return local, false, nil
}
