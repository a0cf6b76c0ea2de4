// Package waves partitions batch items into dependency-ordered execution
// waves. Every item's in-batch dependencies belong to a strictly earlier
// wave, so all items within one wave may run concurrently.
package waves

import (
	"github.com/anchorwave/deployer/internal/core/domain"
)

// Layer computes execution waves using repeated Kahn-style passes:
//  1. Collect every remaining item whose in-batch dependencies are all
//     placed in earlier waves; that set is the next wave.
//  2. Repeat until nothing remains.
//
// Dependencies that name IDs outside the batch are treated as satisfied.
//
// If a pass collects nothing the remaining items form a cycle (or depend on
// one); they are emitted together as one final wave instead of looping
// forever. That terminal wave is unordered (cyclic items have no valid
// order) and callers run it like any other wave.
//
// Item order within a wave follows input order, so layering is deterministic.
func Layer(items []domain.BatchItem) [][]domain.BatchItem {
	if len(items) == 0 {
		return nil
	}

	inBatch := make(map[string]bool, len(items))
	for _, it := range items {
		inBatch[it.ID] = true
	}

	placed := make(map[string]bool, len(items))
	remaining := make([]domain.BatchItem, len(items))
	copy(remaining, items)

	var result [][]domain.BatchItem
	for len(remaining) > 0 {
		var wave, rest []domain.BatchItem
		for _, it := range remaining {
			if depsPlaced(it, inBatch, placed) {
				wave = append(wave, it)
			} else {
				rest = append(rest, it)
			}
		}

		if len(wave) == 0 {
			// Cycle: dump the remainder as one terminal wave.
			result = append(result, rest)
			break
		}

		for _, it := range wave {
			placed[it.ID] = true
		}
		result = append(result, wave)
		remaining = rest
	}

	return result
}

// depsPlaced reports whether every in-batch dependency of the item has been
// assigned to an earlier wave.
func depsPlaced(it domain.BatchItem, inBatch, placed map[string]bool) bool {
	for _, dep := range it.DependsOn {
		if inBatch[dep] && !placed[dep] {
			return false
		}
	}
	return true
}
