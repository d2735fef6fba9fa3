package quant

import "github.com/samber/lo"

// Intersect narrows two ordered candidate lists to the configurations both
// accept. Candidates match on (mode, granularity); the n-th left candidate of
// a key pairs with the n-th right candidate of the same key, and the pair is
// represented by the cheaper of the two. The result follows the order of
// left.
//
// When nothing matches, both lists are extended with their generalized
// variants (see Extend) and matched again. An empty result means the two
// lists have no configuration in common.
func Intersect(left, right []Candidate) []Candidate {
	if res := match(left, right); len(res) > 0 {
		return res
	}
	return match(Extend(left), Extend(right))
}

// IntersectAll folds Intersect over lists from left to right.
func IntersectAll(lists ...[]Candidate) []Candidate {
	if len(lists) == 0 {
		return nil
	}
	acc := lists[0]
	for _, l := range lists[1:] {
		acc = Intersect(acc, l)
	}
	return acc
}

// match pairs candidates per key in a single pass. Grouping right by key
// (keeping relative order) is a stable sort by key, so the pairing does not
// depend on how the two lists interleave their keys.
func match(left, right []Candidate) []Candidate {
	queues := make(map[Key][]Candidate)
	for _, r := range right {
		queues[r.Key()] = append(queues[r.Key()], r)
	}
	var out []Candidate
	for _, l := range left {
		q := queues[l.Key()]
		if len(q) == 0 {
			continue
		}
		r := q[0]
		queues[l.Key()] = q[1:]
		if cheaper(l, r) {
			out = append(out, l)
		} else {
			out = append(out, r)
		}
	}
	return out
}

// Extend adds the broader variants each candidate implies: an asymmetric
// candidate also admits the symmetric one, a per-channel candidate also
// admits the per-tensor one, and both relaxations apply together. Variants
// are placed ahead of the candidate they came from. Duplicates are dropped.
func Extend(list []Candidate) []Candidate {
	var ext []Candidate
	push := func(c Candidate) {
		if lo.Contains(ext, c) {
			return
		}
		ext = append([]Candidate{c}, ext...)
	}
	for i := len(list) - 1; i >= 0; i-- {
		item := list[i]
		push(item)
		asym := item.Mode == Asymmetric
		perChannel := item.Granularity == PerChannel
		if perChannel {
			v := item
			v.Granularity = PerTensor
			push(v)
		}
		if asym {
			v := item
			v.Mode = Symmetric
			push(v)
		}
		if asym && perChannel {
			v := item
			v.Mode = Symmetric
			v.Granularity = PerTensor
			push(v)
		}
	}
	return ext
}

// PerTensorOnly keeps the per-tensor candidates of list.
func PerTensorOnly(list []Candidate) []Candidate {
	return lo.Filter(list, func(c Candidate, _ int) bool {
		return c.Granularity == PerTensor
	})
}
