package core

import (
	"fmt"
	"sort"
)

// MergeMonthly folds every bucket whose key normalizes to canonical into a
// single record. Income and expenses are summed, transactions are
// deduplicated by ID with the first occurrence winning, and every kept
// transaction has its Month rewritten to the canonical key. Buckets are
// visited in a deterministic order (the exact canonical key first, then the
// remaining aliases lexicographically) so the result does not depend on map
// iteration order. Balance and savings rate are recomputed, never copied
// from the source buckets.
func MergeMonthly(buckets map[string]MonthlyRecord, canonical PeriodKey) MonthlyRecord {
	merged := MonthlyRecord{Transactions: []Transaction{}}
	seen := make(map[string]struct{})
	for _, key := range aliasKeys(buckets, canonical) {
		accumulate(&merged, buckets[key], canonical, seen)
	}
	merged.Recompute()
	return merged
}

// aliasKeys returns the bucket keys that normalize to canonical, exact
// canonical match first, then sorted lexicographically.
func aliasKeys(buckets map[string]MonthlyRecord, canonical PeriodKey) []string {
	var keys []string
	for key := range buckets {
		if got, ok := NormalizePeriod(key); ok && got == canonical {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == string(canonical) {
			return true
		}
		if keys[j] == string(canonical) {
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}

func accumulate(dst *MonthlyRecord, src MonthlyRecord, canonical PeriodKey, seen map[string]struct{}) {
	dst.Income += sanitizeAmount(src.Income)
	dst.Expenses += sanitizeAmount(src.Expenses)
	for _, tx := range src.Transactions {
		if _, dup := seen[tx.ID]; dup {
			continue
		}
		seen[tx.ID] = struct{}{}
		tx.Month = string(canonical)
		dst.Transactions = append(dst.Transactions, tx)
	}
}

// PutMonthlyRecord writes rec under the canonical form of rawKey, collapsing
// any existing aliased buckets into it first. The incoming record takes
// precedence for duplicate transaction IDs. Returns ErrInvalidPeriodKey when
// rawKey cannot be normalized; in that case nothing is written.
func (f *FinanceModule) PutMonthlyRecord(rawKey string, rec MonthlyRecord) (PeriodKey, error) {
	canonical, ok := NormalizePeriod(rawKey)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriodKey, rawKey)
	}
	if f.MonthlyData == nil {
		f.MonthlyData = make(map[string]MonthlyRecord)
	}

	merged := MonthlyRecord{Transactions: []Transaction{}}
	seen := make(map[string]struct{})
	accumulate(&merged, rec, canonical, seen)
	aliases := aliasKeys(f.MonthlyData, canonical)
	for _, key := range aliases {
		accumulate(&merged, f.MonthlyData[key], canonical, seen)
	}
	merged.Recompute()

	for _, key := range aliases {
		delete(f.MonthlyData, key)
	}
	f.MonthlyData[string(canonical)] = merged
	return canonical, nil
}

// Canonicalize rewrites MonthlyData so every period lives under exactly one
// canonical key. Buckets with unmappable keys are left untouched and reported
// so callers can decide whether to abort.
func (f *FinanceModule) Canonicalize() (invalid []string) {
	if len(f.MonthlyData) == 0 {
		return nil
	}
	byCanonical := make(map[PeriodKey]bool)
	for key := range f.MonthlyData {
		canonical, ok := NormalizePeriod(key)
		if !ok {
			invalid = append(invalid, key)
			continue
		}
		byCanonical[canonical] = true
	}
	for canonical := range byCanonical {
		merged := MergeMonthly(f.MonthlyData, canonical)
		for _, key := range aliasKeys(f.MonthlyData, canonical) {
			delete(f.MonthlyData, key)
		}
		f.MonthlyData[string(canonical)] = merged
	}
	sort.Strings(invalid)
	return invalid
}
