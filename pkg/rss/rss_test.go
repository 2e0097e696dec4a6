// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package rss

import (
	"errors"
	"testing"

	"github.com/intel/ice-flow-classifier/pkg/adminq"
	"github.com/intel/ice-flow-classifier/pkg/flexpipe"
	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	"github.com/intel/ice-flow-classifier/pkg/ptype"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRss(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "rss Test Suite")
}

var (
	ipv4Cfg    = Config{HashFields: HashIPv4, Headers: ptype.HdrIPv4, HdrType: HdrTypeOuter}
	ipv4TCPCfg = Config{HashFields: HashIPv4 | HashTCPPort, Headers: ptype.HdrIPv4 | ptype.HdrTCP}
	ipv6Cfg    = Config{HashFields: HashIPv6, Headers: ptype.HdrIPv6}
)

func newLayer() (*Layer, *flexpipe.Engine, *adminq.SimChannel) {
	cat := ptype.DefaultCatalogue()
	sim := adminq.NewSimChannel()
	eng, err := flexpipe.NewEngine(adminq.NewClient(sim), flexpipe.Package{PTGs: cat.PTGSeed()}, 0)
	Expect(err).ToNot(HaveOccurred())
	return NewLayer(eng, cat), eng, sim
}

func profiles(eng *flexpipe.Engine) int {
	st, err := eng.Stats(flexpipe.BlockRSS)
	Expect(err).ToNot(HaveOccurred())
	return st.Profiles
}

var _ = Describe("Segments", func() {
	It("rejects two L3 headers in one segment", func() {
		_, err := segments("test", Config{HashFields: FieldIPv4SA | FieldIPv6SA})
		Expect(iceerr.KindOf(err)).To(Equal(iceerr.KindInvalidConfig))
	})

	It("rejects two L4 headers in one segment", func() {
		_, err := segments("test", Config{HashFields: HashTCPPort, Headers: ptype.HdrIPv4 | ptype.HdrUDP})
		Expect(iceerr.KindOf(err)).To(Equal(iceerr.KindInvalidConfig))
	})

	It("rejects headers the hash cannot use", func() {
		_, err := segments("test", Config{HashFields: HashIPv4, Headers: ptype.HdrARP})
		Expect(iceerr.KindOf(err)).To(Equal(iceerr.KindParam))
		_, err = segments("test", Config{})
		Expect(iceerr.KindOf(err)).To(Equal(iceerr.KindParam))
		_, err = segments("test", Config{HashFields: HashIPv4, HdrType: HdrTypeAny})
		Expect(iceerr.KindOf(err)).To(Equal(iceerr.KindParam))
	})

	It("puts the hashed fields on the innermost segment", func() {
		segs, err := segments("test", Config{HashFields: HashIPv6, HdrType: HdrTypeInnerWithOuterIPv4})
		Expect(err).ToNot(HaveOccurred())
		Expect(segs).To(Equal([]segment{
			{hdrs: ptype.HdrIPv4},
			{hdrs: ptype.HdrIPv6, fields: HashIPv6},
		}))
	})

	It("derives the profile id from fields, innermost headers and header type", func() {
		Expect(ProfileID(HashIPv4, ptype.HdrIPv4, HdrTypeOuter)).To(Equal(uint64(0x0000000400000003)))
		Expect(ProfileID(HashIPv4, ptype.HdrIPv4, HdrTypeInnerWithOuterIPv6)).To(Equal(uint64(0xC000000400000003)))
		Expect(ProfileID(HashIPv4, ptype.HdrIPv4, HdrTypeInner)).
			ToNot(Equal(ProfileID(HashIPv4, ptype.HdrIPv4, HdrTypeOuter)))
	})

	It("resolves outer segments to plain and inner ones to tunneled ptypes", func() {
		cat := ptype.DefaultCatalogue()
		outer, _ := segments("test", Config{HashFields: HashIPv4 | HashTCPPort})
		Expect(ptypes(cat, outer).IDs()).To(Equal([]uint16{26}))

		inner, _ := segments("test", Config{HashFields: HashIPv4 | HashTCPPort, HdrType: HdrTypeInner})
		Expect(ptypes(cat, inner).IDs()).To(Equal([]uint16{33, 99}))

		v6, _ := segments("test", Config{HashFields: HashIPv6, HdrType: HdrTypeInnerWithOuterIPv6})
		Expect(ptypes(cat, v6).IDs()).To(Equal([]uint16{102, 103, 104, 106, 107, 108}))
	})

	It("fills reversed field vectors from the top", func() {
		segs, _ := segments("test", ipv4Cfg)
		es, err := extractionSequence("test", flexpipe.BlockRSS, segs)
		Expect(err).ToNot(HaveOccurred())
		fvw := flexpipe.FieldVectorWidth(flexpipe.BlockRSS)
		Expect(es).To(HaveLen(fvw))
		Expect(es[fvw-1]).To(Equal(flexpipe.FVWord{ProtID: 32, Off: 12}))
		Expect(es[fvw-4]).To(Equal(flexpipe.FVWord{ProtID: 32, Off: 18}))
		Expect(es[0].ProtID).To(Equal(flexpipe.InvalidProtID))

		es, _ = extractionSequence("test", flexpipe.BlockSwitch, segs)
		Expect(es[0]).To(Equal(flexpipe.FVWord{ProtID: 32, Off: 12}))
	})

	It("uses inner protocol ids for tunneled packets", func() {
		segs, _ := segments("test", Config{HashFields: FieldIPv4SA | FieldUDPSrcPort, HdrType: HdrTypeInner})
		es, _ := extractionSequence("test", flexpipe.BlockSwitch, segs)
		Expect(es[:3]).To(Equal([]flexpipe.FVWord{{ProtID: 33, Off: 12}, {ProtID: 33, Off: 14}, {ProtID: 53, Off: 0}}))
	})
})

var _ = Describe("Hash configuration", func() {
	var (
		l   *Layer
		eng *flexpipe.Engine
		sim *adminq.SimChannel
	)

	BeforeEach(func() {
		l, eng, sim = newLayer()
	})

	It("records a repeated configuration once", func() {
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())

		cfgs := l.Configs()
		Expect(cfgs).To(HaveLen(1))
		Expect(cfgs[0].VSIs).To(Equal([]uint16{7}))
		Expect(cfgs[0].ProfileID).To(Equal(ProfileID(HashIPv4, ptype.HdrIPv4, HdrTypeOuter)))
		Expect(profiles(eng)).To(Equal(1))

		vsig, _ := eng.FindVSIG(flexpipe.BlockRSS, 7)
		Expect(vsig).ToNot(Equal(flexpipe.DefaultVSIG))
	})

	It("shares one profile between VSIs", func() {
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())
		Expect(l.AddRssConfig(8, ipv4Cfg)).To(Succeed())
		Expect(l.Configs()).To(HaveLen(1))
		Expect(l.Configs()[0].VSIs).To(Equal([]uint16{7, 8}))

		v7, _ := eng.FindVSIG(flexpipe.BlockRSS, 7)
		v8, _ := eng.FindVSIG(flexpipe.BlockRSS, 8)
		Expect(v8).To(Equal(v7))
	})

	It("updates the symmetric flag in place", func() {
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())
		sym := ipv4Cfg
		sym.Symmetric = true
		Expect(l.AddRssConfig(7, sym)).To(Succeed())
		Expect(l.Configs()).To(HaveLen(1))
		Expect(l.Configs()[0].Symmetric).To(BeTrue())
	})

	It("replaces the fields hashed for the same headers", func() {
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())
		sa := Config{HashFields: FieldIPv4SA, Headers: ptype.HdrIPv4}
		Expect(l.AddRssConfig(7, sa)).To(Succeed())

		Expect(l.Configs()).To(HaveLen(1))
		Expect(l.GetRssHashFields(7, ptype.HdrIPv4)).To(Equal(FieldIPv4SA))
		Expect(profiles(eng)).To(Equal(1))
	})

	It("keeps the old fields for other VSIs", func() {
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())
		Expect(l.AddRssConfig(8, ipv4Cfg)).To(Succeed())
		Expect(l.AddRssConfig(7, Config{HashFields: FieldIPv4DA, Headers: ptype.HdrIPv4})).To(Succeed())

		Expect(l.GetRssHashFields(8, ptype.HdrIPv4)).To(Equal(HashIPv4))
		Expect(l.GetRssHashFields(7, ptype.HdrIPv4)).To(Equal(FieldIPv4DA))
		Expect(profiles(eng)).To(Equal(2))
	})

	It("stacks configurations of different headers", func() {
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())
		Expect(l.AddRssConfig(7, ipv4TCPCfg)).To(Succeed())
		Expect(l.AddRssConfig(7, ipv6Cfg)).To(Succeed())
		Expect(l.Configs()).To(HaveLen(3))

		vsig, _ := eng.FindVSIG(flexpipe.BlockRSS, 7)
		cookies, err := eng.VSIGProfiles(flexpipe.BlockRSS, vsig)
		Expect(err).ToNot(HaveOccurred())
		Expect(cookies).To(Equal([]uint64{
			ProfileID(HashIPv6, ptype.HdrIPv6, HdrTypeOuter),
			ProfileID(HashIPv4|HashTCPPort, ptype.HdrIPv4|ptype.HdrTCP, HdrTypeOuter),
			ProfileID(HashIPv4, ptype.HdrIPv4, HdrTypeOuter),
		}))
	})

	It("removes a configuration and its profile", func() {
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())
		Expect(l.RemoveRssConfig(7, ipv4Cfg)).To(Succeed())
		Expect(l.Configs()).To(BeEmpty())
		Expect(profiles(eng)).To(BeZero())
		vsig, _ := eng.FindVSIG(flexpipe.BlockRSS, 7)
		Expect(vsig).To(Equal(flexpipe.DefaultVSIG))
		Expect(sim.InUse(adminq.ResTypeHashTCAM)).To(BeZero())

		Expect(iceerr.IsNotFound(l.RemoveRssConfig(7, ipv4Cfg))).To(BeTrue())
		_, err := l.GetRssHashFields(7, ptype.HdrIPv4)
		Expect(iceerr.IsNotFound(err)).To(BeTrue())
	})

	It("expands any into outer and inner configurations", func() {
		cfg := ipv4TCPCfg
		cfg.HdrType = HdrTypeAny
		Expect(l.AddRssConfig(7, cfg)).To(Succeed())
		cfgs := l.Configs()
		Expect(cfgs).To(HaveLen(2))
		Expect(cfgs[0].HdrType).To(Equal(HdrTypeOuter))
		Expect(cfgs[1].HdrType).To(Equal(HdrTypeInner))

		Expect(l.RemoveRssConfig(7, cfg)).To(Succeed())
		Expect(l.Configs()).To(BeEmpty())
	})

	It("drops every configuration of a VSI", func() {
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())
		Expect(l.AddRssConfig(7, ipv6Cfg)).To(Succeed())
		Expect(l.AddRssConfig(8, ipv6Cfg)).To(Succeed())

		Expect(l.RemoveVSIRssConfigs(7)).To(Succeed())
		Expect(l.VSIs()).To(Equal([]uint16{8}))
		Expect(l.Configs()).To(HaveLen(1))
		Expect(profiles(eng)).To(Equal(1))
	})

	It("rejects out of range VSIs", func() {
		vsi := uint16(flexpipe.MaxVSI(flexpipe.BlockRSS))
		Expect(iceerr.KindOf(l.AddRssConfig(vsi, ipv4Cfg))).To(Equal(iceerr.KindParam))
		Expect(iceerr.KindOf(l.ReplayRssConfigs(vsi))).To(Equal(iceerr.KindParam))
		_, err := l.GetRssHashFields(vsi, ptype.HdrIPv4)
		Expect(iceerr.KindOf(err)).To(Equal(iceerr.KindParam))
	})

	It("rejects conflicting headers before touching the engine", func() {
		err := l.AddRssConfig(7, Config{HashFields: HashTCPPort | HashUDPPort, Headers: ptype.HdrIPv4})
		Expect(errors.Is(err, iceerr.ErrInvalidConfig)).To(BeTrue())
		Expect(profiles(eng)).To(BeZero())
		Expect(sim.Commands).To(BeEmpty())
	})

	It("replays configurations after a reset", func() {
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())
		Expect(l.AddRssConfig(7, ipv4TCPCfg)).To(Succeed())
		Expect(l.AddRssConfig(8, ipv6Cfg)).To(Succeed())
		vsig, _ := eng.FindVSIG(flexpipe.BlockRSS, 7)
		before, _ := eng.VSIGProfiles(flexpipe.BlockRSS, vsig)

		sim.Reset()
		eng.Reset()
		Expect(profiles(eng)).To(BeZero())

		Expect(l.Replay()).To(Succeed())
		Expect(profiles(eng)).To(Equal(3))
		vsig, _ = eng.FindVSIG(flexpipe.BlockRSS, 7)
		after, _ := eng.VSIGProfiles(flexpipe.BlockRSS, vsig)
		Expect(after).To(Equal(before))

		sent := len(sim.Transactions)
		Expect(l.ReplayRssConfigs(7)).To(Succeed())
		Expect(l.ReplayRssConfigs(8)).To(Succeed())
		Expect(sim.Transactions).To(HaveLen(sent))
		Expect(profiles(eng)).To(Equal(3))
	})

	It("maps VF hash enable bits to configurations", func() {
		Expect(l.AddAvfRssConfig(9, HenaIPv4TCP|HenaIPv4Other|HenaIPv6UDP)).To(Succeed())
		Expect(l.GetRssHashFields(9, ptype.HdrIPv4)).To(Equal(HashIPv4))
		Expect(l.GetRssHashFields(9, ptype.HdrIPv4|ptype.HdrTCP)).To(Equal(HashIPv4 | HashTCPPort))
		Expect(l.GetRssHashFields(9, ptype.HdrIPv6|ptype.HdrUDP)).To(Equal(HashIPv6 | HashUDPPort))
		Expect(l.Configs()).To(HaveLen(3))

		Expect(iceerr.KindOf(l.AddAvfRssConfig(9, 0))).To(Equal(iceerr.KindParam))
		Expect(iceerr.KindOf(l.AddAvfRssConfig(9, 1<<63))).To(Equal(iceerr.KindParam))
	})
})

var _ = Describe("Hash configuration against a failing engine", func() {
	var (
		l    *Layer
		mock *FlowEngineMock
	)

	BeforeEach(func() {
		mock = &FlowEngineMock{}
		l = NewLayer(mock, ptype.DefaultCatalogue())
	})

	It("keeps the outer half of any when the inner half fails", func() {
		mock.AddFlowErrors = []error{nil, iceerr.New(iceerr.KindResourceExhausted, "AddFlow", "no tcam")}
		cfg := ipv4Cfg
		cfg.HdrType = HdrTypeAny

		err := l.AddRssConfig(7, cfg)
		Expect(errors.Is(err, iceerr.ErrResourceExhausted)).To(BeTrue())
		cfgs := l.Configs()
		Expect(cfgs).To(HaveLen(1))
		Expect(cfgs[0].HdrType).To(Equal(HdrTypeOuter))
		Expect(mock.ops()).To(Equal([]string{
			"RegisterProfile", "AddFlow", "RegisterProfile", "AddFlow", "RemoveProfile",
		}))
		Expect(mock.Calls[4].Cookie).To(Equal(ProfileID(HashIPv4, ptype.HdrIPv4, HdrTypeInner)))
		Expect(mock.Profiles).To(HaveLen(1))
	})

	It("registers again when the engine lost the profile", func() {
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())
		mock.Calls = nil
		mock.AddFlowErrors = []error{iceerr.New(iceerr.KindNotFound, "AddFlow", "gone")}

		Expect(l.ReplayRssConfigs(7)).To(Succeed())
		Expect(mock.ops()).To(Equal([]string{"AddFlow", "RegisterProfile", "AddFlow"}))
	})

	It("passes the RSS block and a full width sequence", func() {
		Expect(l.AddRssConfig(7, ipv6Cfg)).To(Succeed())
		for _, c := range mock.Calls {
			Expect(c.Block).To(Equal(flexpipe.BlockRSS))
		}
		cookie := ProfileID(HashIPv6, ptype.HdrIPv6, HdrTypeOuter)
		Expect(mock.Profiles[cookie]).To(HaveLen(flexpipe.FieldVectorWidth(flexpipe.BlockRSS)))
		Expect(mock.Ptypes[cookie].IDs()).To(Equal([]uint16{88, 89, 90, 92, 93, 94}))
	})

	It("keeps the configuration when the engine refuses to drop it", func() {
		Expect(l.AddRssConfig(7, ipv4Cfg)).To(Succeed())
		mock.RemoveFlowErr = iceerr.New(iceerr.KindHardwareTransport, "RemoveFlow", "dma")
		Expect(l.RemoveRssConfig(7, ipv4Cfg)).ToNot(Succeed())
		Expect(l.Configs()).To(HaveLen(1))
	})
})

var _ = Describe("Field names", func() {
	It("parses names and aliases", func() {
		Expect(ParseField("tcp-ports")).To(Equal(HashTCPPort))
		Expect(ParseField("IPv4-SA")).To(Equal(FieldIPv4SA))
		_, err := ParseField("mpls")
		Expect(err).To(HaveOccurred())
		Expect((HashIPv4 | FieldUDPDstPort).String()).To(Equal("ipv4-sa|ipv4-da|udp-dst-port"))
	})

	It("parses header types", func() {
		Expect(ParseHdrType("")).To(Equal(HdrTypeOuter))
		Expect(ParseHdrType("inner-outer-ipv6")).To(Equal(HdrTypeInnerWithOuterIPv6))
		Expect(HdrTypeAny.String()).To(Equal("any"))
		_, err := ParseHdrType("middle")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Standalone checks", func() {
	It("validates both halves of any", func() {
		Expect(Validate(Config{HashFields: HashIPv4, HdrType: HdrTypeAny})).To(Succeed())
		err := Validate(Config{HashFields: HashTCPPort, Headers: ptype.HdrUDP, HdrType: HdrTypeAny})
		Expect(iceerr.KindOf(err)).To(Equal(iceerr.KindInvalidConfig))
		Expect(iceerr.KindOf(Validate(Config{}))).To(Equal(iceerr.KindParam))
	})

	It("names the cookie the layer installs under", func() {
		l, _, _ := newLayer()
		Expect(l.AddRssConfig(3, Config{HashFields: HashIPv4})).To(Succeed())
		cookie, err := CookieOf(Config{HashFields: HashIPv4, Headers: ptype.HdrIPv4})
		Expect(err).ToNot(HaveOccurred())
		Expect(l.Configs()[0].ProfileID).To(Equal(cookie))
	})

	It("expands hash enable bits in table order", func() {
		cfgs, err := AvfConfigs(HenaIPv6SCTP | HenaIPv4UnicastUDP)
		Expect(err).ToNot(HaveOccurred())
		Expect(cfgs).To(Equal([]Config{
			{HashFields: HashIPv4 | HashUDPPort, Headers: ptype.HdrIPv4 | ptype.HdrUDP},
			{HashFields: HashIPv6 | HashSCTPort, Headers: ptype.HdrIPv6 | ptype.HdrSCTP},
		}))
	})
})
