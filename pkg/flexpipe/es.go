// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

// esTable holds the extraction sequence of every hardware profile id of a
// block along with its reference count and whether it reached hardware.
type esTable struct {
	fvw     int
	seqs    [][]FVWord
	refs    []int
	written []bool
}

func newESTable(count, fvw int) *esTable {
	return &esTable{
		fvw:     fvw,
		seqs:    make([][]FVWord, count),
		refs:    make([]int, count),
		written: make([]bool, count),
	}
}

// pad returns es extended to the full field vector width with unused words.
func (t *esTable) pad(es []FVWord) []FVWord {
	seq := make([]FVWord, t.fvw)
	for i := range seq {
		if i < len(es) {
			seq[i] = es[i]
		} else {
			seq[i] = FVWord{ProtID: InvalidProtID}
		}
	}
	return seq
}

// find returns the live profile id holding a word-for-word identical sequence.
func (t *esTable) find(seq []FVWord) (uint8, bool) {
	for id, s := range t.seqs {
		if t.refs[id] == 0 || len(s) != len(seq) {
			continue
		}
		same := true
		for i := range s {
			if s[i] != seq[i] {
				same = false
				break
			}
		}
		if same {
			return uint8(id), true
		}
	}
	return 0, false
}

func (t *esTable) write(id uint8, seq []FVWord) {
	t.seqs[id] = seq
	t.written[id] = false
}

func (t *esTable) incRef(id uint8) {
	t.refs[id]++
}

// decRef drops one reference and reports whether id became unused.
func (t *esTable) decRef(id uint8) bool {
	if t.refs[id] == 0 {
		return false
	}
	t.refs[id]--
	if t.refs[id] > 0 {
		return false
	}
	t.seqs[id] = nil
	t.written[id] = false
	return true
}

func (t *esTable) used() int {
	n := 0
	for _, r := range t.refs {
		if r > 0 {
			n++
		}
	}
	return n
}
