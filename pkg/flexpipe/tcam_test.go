// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("TCAM key codec", func() {
	var _ = It("rejects overlapping don't care and never match masks", func() {
		var k, ki byte
		Expect(genKeyWord(0, 0xFF, 0x03, 0x02, &k, &ki)).To(MatchError(errKeyOverlap))
	})

	var _ = It("keeps the previous encoding of bits outside the valid mask", func() {
		k, ki := byte(0xAA), byte(0x55)
		Expect(genKeyWord(0x00, 0x0F, 0, 0, &k, &ki)).To(Succeed())
		Expect(k).To(Equal(byte(0xAF)))
		Expect(ki).To(Equal(byte(0x50)))
	})

	var _ = It("encodes exact ones, exact zeros and don't care bits", func() {
		var k, ki byte
		Expect(genKeyWord(0x01, 0xFF, 0xF0, 0, &k, &ki)).To(Succeed())
		// bit 0 is a one, bits 1-3 zeros, bits 4-7 don't care
		Expect(k).To(Equal(byte(0xFE)))
		Expect(ki).To(Equal(byte(0xF1)))
	})

	var _ = It("rejects keys of odd size", func() {
		key := make([]byte, 9)
		Expect(setKey(key, make([]byte, 4), nil, nil, nil, 0, 4)).ToNot(Succeed())
	})

	var _ = It("rejects ranges beyond half the key", func() {
		key := make([]byte, 10)
		Expect(setKey(key, make([]byte, 6), nil, nil, nil, 0, 6)).ToNot(Succeed())
	})

	var _ = It("allows at most one never match bit", func() {
		key := make([]byte, 10)
		nm := []byte{0x01, 0x01, 0, 0, 0}
		Expect(setKey(key, make([]byte, 5), nil, nil, nm, 0, 5)).ToNot(Succeed())
		nm = []byte{0x01, 0, 0, 0, 0}
		Expect(setKey(key, make([]byte, 5), nil, nil, nm, 0, 5)).To(Succeed())
	})

	var _ = It("builds a profile key matching ptg and vsig and ignoring flags", func() {
		key, err := profGenKey(5, 2, 0xBEEF, validMask, matchDCMask, matchNMMask)
		Expect(err).ToNot(HaveOccurred())
		Expect(key).To(Equal([10]byte{0xFF, 0xFF, 0xFA, 0xFD, 0xFF, 0xFF, 0xFF, 0x05, 0x02, 0x00}))
	})

	var _ = It("writes the never match pattern with a single never match bit", func() {
		t := newTCAMTable(4)
		Expect(t.write(1, 3, 5, 2, validMask, matchDCMask, matchNMMask)).To(Succeed())
		Expect(t.writeNeverMatch(1)).To(Succeed())
		Expect(t.entries[1].key).To(Equal([10]byte{0xFE, 0xFF, 0xFF, 0xFF, 0xFF, 0xFE, 0xFF, 0xFF, 0xFF, 0xFF}))
		Expect(t.entries[1].profID).To(BeZero())
	})

	var _ = It("rejects writes beyond the table", func() {
		t := newTCAMTable(4)
		Expect(t.write(4, 1, 1, 1, validMask, matchDCMask, matchNMMask)).ToNot(Succeed())
	})
})
