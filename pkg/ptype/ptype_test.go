// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package ptype

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestPtype(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ptype Test Suite")
}

var _ = Describe("Catalogue", func() {
	c := DefaultCatalogue()

	var _ = It("matches every non-tunneled IPv4 ptype for an IPv4 segment", func() {
		Expect(c.Match([]Hdr{HdrIPv4}).IDs()).To(Equal([]uint16{22, 23, 24, 26, 27, 28}))
	})

	var _ = It("narrows on the L4 header", func() {
		Expect(c.Match([]Hdr{HdrIPv6 | HdrUDP}).IDs()).To(Equal([]uint16{90}))
	})

	var _ = It("matches inner headers of tunneled ptypes only with two segments", func() {
		Expect(c.Match([]Hdr{HdrNone, HdrIPv4 | HdrTCP}).IDs()).To(Equal([]uint16{33, 99}))
		Expect(c.Match([]Hdr{HdrIPv6, HdrIPv4 | HdrTCP}).IDs()).To(Equal([]uint16{99}))
	})

	var _ = It("returns nothing for an impossible combination", func() {
		Expect(c.Match([]Hdr{HdrARP | HdrIPv4}).Count()).To(BeZero())
	})

	var _ = It("seeds a distinct group per ptype", func() {
		seed := c.PTGSeed()
		Expect(seed).To(HaveLen(len(c.IDs())))
		seen := map[uint8]bool{}
		for _, ptg := range seed {
			Expect(ptg).ToNot(BeZero())
			Expect(seen[ptg]).To(BeFalse())
			seen[ptg] = true
		}
	})

	var _ = It("looks up entries", func() {
		e, ok := c.Lookup(37)
		Expect(ok).To(BeTrue())
		Expect(e.Tunneled).To(BeTrue())
		Expect(e.Inner).To(Equal(HdrIPv6))
		_, ok = c.Lookup(2)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Hdr", func() {
	var _ = It("prints and parses names", func() {
		Expect((HdrIPv4 | HdrTCP).String()).To(Equal("ipv4|tcp"))
		h, ok := ParseHdr("UDP")
		Expect(ok).To(BeTrue())
		Expect(h).To(Equal(HdrUDP))
		_, ok = ParseHdr("quic")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Bitmap", func() {
	var _ = It("ignores ids beyond the table", func() {
		b := NewBitmap(10, 11, 2000)
		Expect(b.Count()).To(Equal(2))
		Expect(b.Test(11)).To(BeTrue())
		Expect(b.Test(2000)).To(BeFalse())
		Expect(b.IDs()).To(Equal([]uint16{10, 11}))
	})
})
