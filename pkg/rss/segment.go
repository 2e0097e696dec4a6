// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package rss

import (
	"math/bits"

	"github.com/intel/ice-flow-classifier/pkg/flexpipe"
	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	"github.com/intel/ice-flow-classifier/pkg/ptype"
)

// Config is one hash configuration: the fields hashed, additional headers
// the packet must carry and which headers of tunneled packets are used.
type Config struct {
	HashFields Field
	Headers    ptype.Hdr
	HdrType    HdrType
	Symmetric  bool
}

// segHdrMask holds the headers a hash segment may name.
const segHdrMask = ptype.HdrETH | ptype.HdrVLAN | ptype.HdrL3Mask | ptype.HdrL4Mask |
	ptype.HdrGRE | ptype.HdrIPvOther

// segment is one packet header level, outermost first.
type segment struct {
	hdrs   ptype.Hdr
	fields Field
}

// Profile id layout: hash fields in the low 32 bits, innermost headers in
// the next 30 and the header type in the top 2.
const (
	profHashMask  = 0xFFFFFFFF
	profHdrShift  = 32
	profHdrMask   = 0x3FFFFFFF
	profTypeShift = 62
	profTypeMask  = 0x3
)

func validateSegment(op string, s segment) error {
	if s.hdrs&^segHdrMask != 0 {
		return iceerr.New(iceerr.KindParam, op, "headers %v cannot be hashed", s.hdrs&^segHdrMask)
	}
	if l3 := s.hdrs & ptype.HdrL3Mask; bits.OnesCount32(uint32(l3)) > 1 {
		return iceerr.New(iceerr.KindInvalidConfig, op, "segment names more than one L3 header: %v", l3)
	}
	if l4 := s.hdrs & ptype.HdrL4Mask; bits.OnesCount32(uint32(l4)) > 1 {
		return iceerr.New(iceerr.KindInvalidConfig, op, "segment names more than one L4 header: %v", l4)
	}
	return nil
}

// segments builds the packet segments of a configuration with the hashed
// fields on the innermost one. HdrTypeAny is expanded by the caller.
func segments(op string, cfg Config) ([]segment, error) {
	if cfg.HashFields == FieldNone && cfg.Headers == ptype.HdrNone {
		return nil, iceerr.New(iceerr.KindParam, op, "nothing to hash")
	}
	if cfg.HashFields&^fieldAll != 0 {
		return nil, iceerr.New(iceerr.KindParam, op, "unknown hash fields 0x%x", uint64(cfg.HashFields&^fieldAll))
	}

	inner := segment{hdrs: cfg.Headers | cfg.HashFields.headers(), fields: cfg.HashFields}
	var segs []segment
	switch cfg.HdrType {
	case HdrTypeOuter:
		segs = []segment{inner}
	case HdrTypeInner:
		segs = []segment{{}, inner}
	case HdrTypeInnerWithOuterIPv4:
		segs = []segment{{hdrs: ptype.HdrIPv4}, inner}
	case HdrTypeInnerWithOuterIPv6:
		segs = []segment{{hdrs: ptype.HdrIPv6}, inner}
	default:
		return nil, iceerr.New(iceerr.KindParam, op, "header type %v has no segments", cfg.HdrType)
	}
	for _, s := range segs {
		if err := validateSegment(op, s); err != nil {
			return nil, err
		}
	}
	return segs, nil
}

// ProfileID derives the profile cookie of a configuration. Equal hashed
// fields, innermost headers and header type give equal ids.
func ProfileID(fields Field, hdrs ptype.Hdr, t HdrType) uint64 {
	return uint64(fields)&profHashMask |
		(uint64(hdrs)&profHdrMask)<<profHdrShift |
		(uint64(t)&profTypeMask)<<profTypeShift
}

func profileID(cfg Config, segs []segment) uint64 {
	return ProfileID(cfg.HashFields, segs[len(segs)-1].hdrs, cfg.HdrType)
}

// ptypes resolves segments to the packet types carrying them. The IPvOther
// modifier does not narrow the match.
func ptypes(cat *ptype.Catalogue, segs []segment) *ptype.Bitmap {
	masks := make([]ptype.Hdr, len(segs))
	for i, s := range segs {
		masks[i] = s.hdrs &^ ptype.HdrIPvOther
	}
	return cat.Match(masks)
}

// extractionSequence lays the hashed fields of every segment out as field
// vector words, filled from the top for blocks that store words reversed.
func extractionSequence(op string, blk flexpipe.Block, segs []segment) ([]flexpipe.FVWord, error) {
	words := []flexpipe.FVWord{}
	for i, s := range segs {
		innermost := i == len(segs)-1 && len(segs) > 1
		for _, f := range s.fields.bits() {
			fi := fieldTable[f]
			prot := fi.outer
			if innermost {
				prot = fi.inner
			}
			for off := fi.off; off < fi.off+fi.size; off += 2 {
				words = append(words, flexpipe.FVWord{ProtID: prot, Off: off})
			}
		}
	}

	fvw := flexpipe.FieldVectorWidth(blk)
	if len(words) > fvw {
		return nil, iceerr.New(iceerr.KindInvalidConfig, op,
			"%d extraction words exceed field vector width %d", len(words), fvw)
	}
	es := make([]flexpipe.FVWord, fvw)
	for i := range es {
		es[i] = flexpipe.FVWord{ProtID: flexpipe.InvalidProtID}
	}
	for i, w := range words {
		if flexpipe.ReverseFieldVector(blk) {
			es[fvw-1-i] = w
		} else {
			es[i] = w
		}
	}
	return es, nil
}

// Validate checks a configuration without touching the engine.
func Validate(cfg Config) error {
	if cfg.HdrType != HdrTypeAny {
		_, err := segments("Validate", cfg)
		return err
	}
	for _, t := range []HdrType{HdrTypeOuter, HdrTypeInner} {
		c := cfg
		c.HdrType = t
		if _, err := segments("Validate", c); err != nil {
			return err
		}
	}
	return nil
}

// CookieOf returns the profile cookie cfg is installed under. Configurations
// naming the same cookie share one profile.
func CookieOf(cfg Config) (uint64, error) {
	segs, err := segments("CookieOf", cfg)
	if err != nil {
		return 0, err
	}
	return profileID(cfg, segs), nil
}
