// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

// Package ptype holds the packet type catalogue of the ice device package:
// which protocol headers each hardware packet type carries.
package ptype

import (
	"math/bits"
	"sort"
	"strings"
)

// MaxPtypes is the number of packet types addressable by XLT1.
const MaxPtypes = 1024

// Hdr is a bitmap of protocol headers.
type Hdr uint32

const (
	HdrNone     Hdr = 0
	HdrETH      Hdr = 1 << 0
	HdrVLAN     Hdr = 1 << 1
	HdrIPv4     Hdr = 1 << 2
	HdrIPv6     Hdr = 1 << 3
	HdrARP      Hdr = 1 << 4
	HdrICMP     Hdr = 1 << 5
	HdrTCP      Hdr = 1 << 6
	HdrUDP      Hdr = 1 << 7
	HdrSCTP     Hdr = 1 << 8
	HdrGRE      Hdr = 1 << 9
	HdrIPvOther Hdr = 1 << 30

	HdrL3Mask = HdrIPv4 | HdrIPv6
	HdrL4Mask = HdrTCP | HdrUDP | HdrSCTP
)

var hdrNames = []struct {
	h    Hdr
	name string
}{
	{HdrETH, "eth"},
	{HdrVLAN, "vlan"},
	{HdrIPv4, "ipv4"},
	{HdrIPv6, "ipv6"},
	{HdrARP, "arp"},
	{HdrICMP, "icmp"},
	{HdrTCP, "tcp"},
	{HdrUDP, "udp"},
	{HdrSCTP, "sctp"},
	{HdrGRE, "gre"},
	{HdrIPvOther, "ipv-other"},
}

func (h Hdr) String() string {
	if h == HdrNone {
		return "none"
	}
	names := []string{}
	for _, n := range hdrNames {
		if h&n.h != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseHdr returns the header bit for a name as printed by Hdr.String.
func ParseHdr(name string) (Hdr, bool) {
	for _, n := range hdrNames {
		if n.name == strings.ToLower(name) {
			return n.h, true
		}
	}
	return HdrNone, false
}

// Entry describes one packet type. Inner is only set for tunneled types.
type Entry struct {
	ID       uint16
	Outer    Hdr
	Inner    Hdr
	Tunneled bool
}

const (
	l2   = HdrETH
	ip4  = HdrETH | HdrIPv4
	ip6  = HdrETH | HdrIPv6
	frag = HdrIPvOther
)

func plain(id uint16, h Hdr) Entry {
	return Entry{ID: id, Outer: h}
}

func tunnel(id uint16, outer, inner Hdr) Entry {
	return Entry{ID: id, Outer: outer, Inner: inner, Tunneled: true}
}

func ipInIP(base uint16, outer Hdr, innerL3 Hdr, icmp Hdr) []Entry {
	return []Entry{
		tunnel(base, outer, innerL3|frag),
		tunnel(base+1, outer, innerL3),
		tunnel(base+2, outer, innerL3|HdrUDP),
		tunnel(base+4, outer, innerL3|HdrTCP),
		tunnel(base+5, outer, innerL3|HdrSCTP),
		tunnel(base+6, outer, innerL3|icmp),
	}
}

func defaultEntries() []Entry {
	entries := []Entry{
		plain(1, l2),
		plain(11, l2|HdrARP),

		plain(22, ip4|frag),
		plain(23, ip4),
		plain(24, ip4|HdrUDP),
		plain(26, ip4|HdrTCP),
		plain(27, ip4|HdrSCTP),
		plain(28, ip4|HdrICMP),

		plain(88, ip6|frag),
		plain(89, ip6),
		plain(90, ip6|HdrUDP),
		plain(92, ip6|HdrTCP),
		plain(93, ip6|HdrSCTP),
		plain(94, ip6|HdrICMP),
	}
	entries = append(entries, ipInIP(29, ip4, HdrIPv4, HdrICMP)...)
	entries = append(entries, ipInIP(36, ip4, HdrIPv6, HdrICMP)...)
	entries = append(entries, ipInIP(95, ip6, HdrIPv4, HdrICMP)...)
	entries = append(entries, ipInIP(102, ip6, HdrIPv6, HdrICMP)...)
	return entries
}

// Catalogue is an immutable ptype table.
type Catalogue struct {
	entries map[uint16]Entry
	ids     []uint16
}

func New(entries []Entry) *Catalogue {
	c := &Catalogue{entries: map[uint16]Entry{}}
	for _, e := range entries {
		if _, ok := c.entries[e.ID]; !ok {
			c.ids = append(c.ids, e.ID)
		}
		c.entries[e.ID] = e
	}
	sort.Slice(c.ids, func(i, j int) bool { return c.ids[i] < c.ids[j] })
	return c
}

// DefaultCatalogue returns the catalogue of the ice packet types the hash layer
// resolves segments against.
func DefaultCatalogue() *Catalogue {
	return New(defaultEntries())
}

func (c *Catalogue) Lookup(id uint16) (Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// IDs returns the ptype ids in ascending order.
func (c *Catalogue) IDs() []uint16 {
	return append([]uint16(nil), c.ids...)
}

// Match resolves packet segments to the ptypes carrying them. One segment
// selects non-tunneled ptypes whose headers include it. Two segments select
// tunneled ptypes, the first matched against the outer and the second
// against the inner headers.
func (c *Catalogue) Match(segs []Hdr) *Bitmap {
	m := &Bitmap{}
	for _, id := range c.ids {
		e := c.entries[id]
		switch len(segs) {
		case 1:
			if !e.Tunneled && e.Outer&segs[0] == segs[0] {
				m.Set(id)
			}
		case 2:
			if e.Tunneled && e.Outer&segs[0] == segs[0] && e.Inner&segs[1] == segs[1] {
				m.Set(id)
			}
		}
	}
	return m
}

// PTGSeed assigns every catalogued ptype its own packet type group, starting
// at group 1, the way the device package pre-classifies them.
func (c *Catalogue) PTGSeed() map[uint16]uint8 {
	seed := make(map[uint16]uint8, len(c.ids))
	for i, id := range c.ids {
		seed[id] = uint8(i + 1)
	}
	return seed
}

// Bitmap is a set of ptype ids.
type Bitmap [MaxPtypes / 64]uint64

func NewBitmap(ids ...uint16) *Bitmap {
	b := &Bitmap{}
	for _, id := range ids {
		b.Set(id)
	}
	return b
}

func (b *Bitmap) Set(id uint16) {
	if int(id) < MaxPtypes {
		b[id/64] |= 1 << (id % 64)
	}
}

func (b *Bitmap) Test(id uint16) bool {
	return int(id) < MaxPtypes && b[id/64]&(1<<(id%64)) != 0
}

func (b *Bitmap) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// IDs returns the set members in ascending order.
func (b *Bitmap) IDs() []uint16 {
	ids := []uint16{}
	for i, w := range b {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			ids = append(ids, uint16(i*64+bit))
			w &^= 1 << bit
		}
	}
	return ids
}
