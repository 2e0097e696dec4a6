// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flowconfig

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/intel/ice-flow-classifier/pkg/adminq"
	"github.com/intel/ice-flow-classifier/pkg/flexpipe"
	"github.com/intel/ice-flow-classifier/pkg/flowconfigtypes"
	"github.com/intel/ice-flow-classifier/pkg/netdev"
	"github.com/intel/ice-flow-classifier/pkg/ptype"
	"github.com/intel/ice-flow-classifier/pkg/rss"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestFlowconfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Flowconfig Test Suite")
}

const validDoc = `
device:
  interface: ens801f0
  pfId: 0
rss:
  - hashFields: [ipv4]
    headers: [ipv4]
  - vf: 1
    hashFields: [ipv4, tcp-ports]
    ipProtos: [6]
  - vsi: 20
    hashFields: [ipv6]
    headerType: any
    symmetric: true
avf:
  - vf: 2
    hashEnable: 0x200000000
`

var resolver = netdev.Static{Layout: netdev.Layout{PFVSI: 0, VFBase: 64}, PF: "ens801f0"}

func newLayer() (*rss.Layer, *adminq.SimChannel) {
	cat := ptype.DefaultCatalogue()
	sim := adminq.NewSimChannel()
	eng, err := flexpipe.NewEngine(adminq.NewClient(sim), flexpipe.Package{PTGs: cat.PTGSeed()}, 0)
	Expect(err).ToNot(HaveOccurred())
	return rss.NewLayer(eng, cat), sim
}

func mustPlan(doc string) *Plan {
	st, err := Parse([]byte(doc))
	Expect(err).ToNot(HaveOccurred())
	p, err := BuildPlan(st, resolver)
	Expect(err).ToNot(HaveOccurred())
	return p
}

var _ = BeforeEach(func() {
	getConfig = getConfigFromFile
	getFsNotifyWatcher = fsnotify.NewWatcher
})

var _ = Describe("Parse", func() {
	var _ = It("decodes a valid document", func() {
		st, err := Parse([]byte(validDoc))
		Expect(err).ToNot(HaveOccurred())
		Expect(st.Device.Interface).To(Equal("ens801f0"))
		Expect(st.RssConfigs).To(HaveLen(3))
		Expect(*st.RssConfigs[1].VF).To(Equal(1))
		Expect(*st.RssConfigs[2].VSI).To(Equal(uint16(20)))
		Expect(st.RssConfigs[2].Symmetric).To(BeTrue())
		Expect(st.AvfConfigs[0].HashEnable).To(Equal(rss.HenaIPv4TCP))
	})

	var _ = It("reports yaml errors", func() {
		_, err := Parse([]byte("device: [\n"))
		Expect(err.Error()).To(ContainSubstring("Yaml Unmarshall error"))
	})

	var _ = It("requires a device interface", func() {
		_, err := Parse([]byte("rss: []\n"))
		Expect(err).To(MatchError("Device interface is empty"))
	})

	var _ = It("rejects invalid entries", func() {
		for _, entry := range []string{
			"rss: [{hashFields: [mpls]}]",
			"rss: [{hashFields: [ipv4], headers: [ppp]}]",
			"rss: [{hashFields: [ipv4], ipProtos: [1]}]",
			"rss: [{hashFields: [ipv4], headerType: middle}]",
			"rss: [{hashFields: [tcp-ports], headers: [udp]}]",
			"rss: [{hashFields: [ipv4], vf: 1, vsi: 3}]",
			"rss: [{hashFields: [ipv4], vf: 256}]",
			"rss: [{}]",
		} {
			_, err := Parse([]byte("device: {interface: ens801f0}\n" + entry + "\n"))
			Expect(err).To(HaveOccurred(), entry)
			Expect(err.Error()).To(HavePrefix("Invalid rss config 0"), entry)
		}
		_, err := Parse([]byte("device: {interface: ens801f0}\navf: [{vf: 1, hashEnable: 0}]\n"))
		Expect(err.Error()).To(HavePrefix("Invalid avf config 0"))
		_, err = Parse([]byte("device: {interface: ens801f0, retryAttempts: -1}\n"))
		Expect(err.Error()).To(HavePrefix("Invalid Device.RetryAttempts"))
	})

	var _ = It("rejects PF ids beyond the last PF", func() {
		_, err := Parse([]byte("device: {interface: ens801f0, pfId: 9}\n"))
		Expect(err).To(MatchError("Invalid Device.PFID value: 9 - must be between 0 and 7"))
		st, err := Parse([]byte("device: {interface: ens801f0, pfId: 7}\n"))
		Expect(err).ToNot(HaveOccurred())
		Expect(st.Device.PFID).To(Equal(uint8(7)))
	})
})

var _ = Describe("RssConfig", func() {
	var _ = It("maps ip protocols to headers", func() {
		cfg, err := RssConfig(flowconfigtypes.RssConfig{
			HashFields: []string{"ipv6", "sctp-ports"},
			IPProtos:   []uint8{132},
			HeaderType: "inner-outer-ipv4",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg).To(Equal(rss.Config{
			HashFields: rss.HashIPv6 | rss.HashSCTPort,
			Headers:    ptype.HdrSCTP,
			HdrType:    rss.HdrTypeInnerWithOuterIPv4,
		}))
	})
})

var _ = Describe("Load", func() {
	var _ = It("reads through getConfig", func() {
		getConfig = func(path string) ([]byte, error) {
			Expect(path).To(Equal("/etc/ice/flows.yaml"))
			return []byte(validDoc), nil
		}
		st, err := Load("/etc/ice/flows.yaml")
		Expect(err).ToNot(HaveOccurred())
		Expect(st.RssConfigs).To(HaveLen(3))
	})

	var _ = It("returns read errors", func() {
		_, err := Load("/nonexistent/flows.yaml")
		Expect(err).To(HaveOccurred())
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
})

var _ = Describe("BuildPlan", func() {
	var _ = It("resolves every target", func() {
		p := mustPlan(validDoc)
		Expect(p.Rss).To(HaveLen(3))
		Expect(p.Rss[0].VSI).To(Equal(uint16(0)))
		Expect(p.Rss[1].VSI).To(Equal(uint16(65)))
		Expect(p.Rss[1].Config.Headers).To(Equal(ptype.HdrTCP))
		Expect(p.Rss[2].VSI).To(Equal(uint16(20)))
		Expect(p.Avf).To(Equal([]AvfItem{{VSI: 66, HashEnable: rss.HenaIPv4TCP}}))
	})

	var _ = It("returns resolver errors", func() {
		st, err := Parse([]byte(validDoc))
		Expect(err).ToNot(HaveOccurred())
		rm := &netdev.ResolverMock{ResolveErr: errors.New("no such link")}
		_, err = BuildPlan(st, rm)
		Expect(err.Error()).To(ContainSubstring("no such link"))
		Expect(rm.Requests).To(HaveLen(1))
	})
})

var _ = Describe("Apply", func() {
	var (
		l   *rss.Layer
		sim *adminq.SimChannel
	)

	BeforeEach(func() {
		l, sim = newLayer()
	})

	var _ = It("installs a plan once", func() {
		p := mustPlan(validDoc)
		res, err := Apply(l, p)
		Expect(err).ToNot(HaveOccurred())
		Expect(res).To(Equal(Result{Added: 5}))
		// vf 1 and the avf entry of vf 2 share one profile
		Expect(l.Configs()).To(HaveLen(4))
		Expect(l.Configs()[1].VSIs).To(Equal([]uint16{65, 66}))

		sent := len(sim.Transactions)
		res, err = Apply(l, p)
		Expect(err).ToNot(HaveOccurred())
		Expect(res).To(Equal(Result{Unchanged: 5}))
		Expect(sim.Transactions).To(HaveLen(sent))
	})

	var _ = It("removes configurations the plan dropped", func() {
		_, err := Apply(l, mustPlan(validDoc))
		Expect(err).ToNot(HaveOccurred())

		doc := strings.Replace(validDoc, "hashFields: [ipv4]\n    headers: [ipv4]", "hashFields: [ipv4-sa]\n    headers: [ipv4]", 1)
		doc = doc[:strings.Index(doc, "  - vsi: 20")] + doc[strings.Index(doc, "avf:"):]
		res, err := Apply(l, mustPlan(doc))
		Expect(err).ToNot(HaveOccurred())
		Expect(res).To(Equal(Result{Added: 1, Removed: 3, Unchanged: 2}))
		Expect(l.GetRssHashFields(0, ptype.HdrIPv4)).To(Equal(rss.FieldIPv4SA))
		Expect(l.VSIs()).To(Equal([]uint16{0, 65, 66}))
	})

	var _ = It("empties the layer for an empty plan", func() {
		_, err := Apply(l, mustPlan(validDoc))
		Expect(err).ToNot(HaveOccurred())
		res, err := Apply(l, &Plan{})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Removed).To(Equal(5))
		Expect(l.Configs()).To(BeEmpty())
		Expect(sim.TCAMEntries(int(flexpipe.BlockRSS))).To(BeEmpty())
	})

	var _ = It("keeps going after a failure", func() {
		sim.Fail[adminq.OpcUpdatePkg] = errors.New("dma error")
		res, err := Apply(l, mustPlan(validDoc))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("dma error"))
		Expect(res.Added).To(BeZero())
	})
})

var _ = Describe("Watch", func() {
	var _ = It("reloads the file when it changes", func() {
		dir, err := os.MkdirTemp("", "flowconfig")
		Expect(err).ToNot(HaveOccurred())
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "flows.yaml")

		done := make(chan struct{})
		exited := make(chan error, 1)
		states := make(chan *flowconfigtypes.FlowState, 16)
		go func() {
			exited <- Watch(path, done, func(st *flowconfigtypes.FlowState) {
				select {
				case states <- st:
				default:
				}
			})
		}()

		doc := strings.Replace(validDoc, "ens801f0", "ens801f1", 1)
		Eventually(func() bool {
			Expect(os.WriteFile(filepath.Join(dir, "other.yaml"), []byte(doc), 0644)).To(Succeed())
			Expect(os.WriteFile(path, []byte("device: [\n"), 0644)).To(Succeed())
			Expect(os.WriteFile(path, []byte(doc), 0644)).To(Succeed())
			select {
			case st := <-states:
				return st.Device.Interface == "ens801f1"
			case <-time.After(100 * time.Millisecond):
				return false
			}
		}, 5*time.Second).Should(BeTrue())

		close(done)
		Eventually(exited, time.Second).Should(Receive(BeNil()))
	})

	var _ = It("returns watcher errors", func() {
		getFsNotifyWatcher = func() (*fsnotify.Watcher, error) { return nil, errors.New("too many open files") }
		Expect(Watch("/tmp/flows.yaml", nil, nil)).To(MatchError("too many open files"))
	})

	var _ = It("fails for a missing directory", func() {
		Expect(Watch("/nonexistent/dir/flows.yaml", nil, nil)).ToNot(Succeed())
	})
})
