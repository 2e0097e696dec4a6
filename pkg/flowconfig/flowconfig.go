// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

// Package flowconfig loads the desired RSS state of an adapter and applies
// it to a hash configuration layer.
package flowconfig

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/intel/ice-flow-classifier/pkg/flexpipe"
	"github.com/intel/ice-flow-classifier/pkg/flowconfigtypes"
	"github.com/intel/ice-flow-classifier/pkg/netdev"
	"github.com/intel/ice-flow-classifier/pkg/ptype"
	"github.com/intel/ice-flow-classifier/pkg/rss"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

var getConfig = getConfigFromFile

func getConfigFromFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// ipProtoHeaders maps the IP protocol numbers a config may name to the
// header they imply.
var ipProtoHeaders = map[uint8]ptype.Hdr{
	unix.IPPROTO_TCP:  ptype.HdrTCP,
	unix.IPPROTO_UDP:  ptype.HdrUDP,
	unix.IPPROTO_GRE:  ptype.HdrGRE,
	unix.IPPROTO_SCTP: ptype.HdrSCTP,
}

// Load reads and validates the desired state stored at path.
func Load(path string) (*flowconfigtypes.FlowState, error) {
	data, err := getConfig(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a desired state document.
func Parse(data []byte) (*flowconfigtypes.FlowState, error) {
	st := &flowconfigtypes.FlowState{}
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("Yaml Unmarshall error: %v", err.Error())
	}
	if err := Validate(st); err != nil {
		return nil, err
	}
	return st, nil
}

// RssConfig converts a configuration entry to the hash configuration it
// describes.
func RssConfig(c flowconfigtypes.RssConfig) (rss.Config, error) {
	cfg := rss.Config{Symmetric: c.Symmetric}
	for _, name := range c.HashFields {
		f, err := rss.ParseField(name)
		if err != nil {
			return rss.Config{}, err
		}
		cfg.HashFields |= f
	}
	for _, name := range c.Headers {
		h, ok := ptype.ParseHdr(name)
		if !ok {
			return rss.Config{}, fmt.Errorf("unknown header %q", name)
		}
		cfg.Headers |= h
	}
	for _, p := range c.IPProtos {
		h, ok := ipProtoHeaders[p]
		if !ok {
			return rss.Config{}, fmt.Errorf("unsupported ip protocol %d", p)
		}
		cfg.Headers |= h
	}
	t, err := rss.ParseHdrType(c.HeaderType)
	if err != nil {
		return rss.Config{}, err
	}
	cfg.HdrType = t

	if err := rss.Validate(cfg); err != nil {
		return rss.Config{}, err
	}
	return cfg, nil
}

func validateTarget(t flowconfigtypes.Target) error {
	if t.VF != nil && t.VSI != nil {
		return errors.New("vf and vsi are mutually exclusive")
	}
	if t.VF != nil && (*t.VF < 0 || *t.VF >= netdev.MaxVFs) {
		return fmt.Errorf("vf %d out of range", *t.VF)
	}
	return nil
}

// Validate checks every entry of a desired state.
func Validate(st *flowconfigtypes.FlowState) error {
	if st == nil || st.Device.Interface == "" {
		return errors.New("Device interface is empty")
	}
	if st.Device.RetryAttempts < 0 {
		return fmt.Errorf("Invalid Device.RetryAttempts value: %d - must not be negative", st.Device.RetryAttempts)
	}
	if st.Device.PFID > flexpipe.MaxPFID {
		return fmt.Errorf("Invalid Device.PFID value: %d - must be between 0 and %d", st.Device.PFID, flexpipe.MaxPFID)
	}
	for i, c := range st.RssConfigs {
		if err := validateTarget(c.Target); err != nil {
			return fmt.Errorf("Invalid rss config %d: %v", i, err)
		}
		if _, err := RssConfig(c); err != nil {
			return fmt.Errorf("Invalid rss config %d: %v", i, err)
		}
	}
	for i, c := range st.AvfConfigs {
		if err := validateTarget(c.Target); err != nil {
			return fmt.Errorf("Invalid avf config %d: %v", i, err)
		}
		if _, err := rss.AvfConfigs(c.HashEnable); err != nil {
			return fmt.Errorf("Invalid avf config %d: %v", i, err)
		}
	}
	return nil
}

// Item is one hash configuration bound to its VSI.
type Item struct {
	VSI    uint16
	Config rss.Config
}

// AvfItem is a VF hash enable bitmap bound to its VSI.
type AvfItem struct {
	VSI        uint16
	HashEnable uint64
}

// Plan is a desired state with every target resolved, in document order.
type Plan struct {
	Rss []Item
	Avf []AvfItem
}

// BuildPlan resolves the targets of a validated state.
func BuildPlan(st *flowconfigtypes.FlowState, r netdev.Resolver) (*Plan, error) {
	p := &Plan{Rss: []Item{}, Avf: []AvfItem{}}
	for i, c := range st.RssConfigs {
		cfg, err := RssConfig(c)
		if err != nil {
			return nil, fmt.Errorf("Invalid rss config %d: %v", i, err)
		}
		vsi, err := r.Resolve(c.Target)
		if err != nil {
			return nil, fmt.Errorf("Unable to resolve rss config %d: %v", i, err)
		}
		p.Rss = append(p.Rss, Item{VSI: vsi, Config: cfg})
	}
	for i, c := range st.AvfConfigs {
		vsi, err := r.Resolve(c.Target)
		if err != nil {
			return nil, fmt.Errorf("Unable to resolve avf config %d: %v", i, err)
		}
		p.Avf = append(p.Avf, AvfItem{VSI: vsi, HashEnable: c.HashEnable})
	}
	return p, nil
}

// Layer is the part of rss.Layer Apply drives.
type Layer interface {
	AddRssConfig(vsi uint16, cfg rss.Config) error
	RemoveRssConfig(vsi uint16, cfg rss.Config) error
	AddAvfRssConfig(vsi uint16, hena uint64) error
	Configs() []rss.ConfigEntry
}

// key identifies a configuration installed on a VSI by its profile cookie.
// The symmetric flag is an attribute, not part of the identity.
type key struct {
	vsi    uint16
	cookie uint64
}

func keyOf(vsi uint16, cfg rss.Config) (key, error) {
	cookie, err := rss.CookieOf(cfg)
	return key{vsi: vsi, cookie: cookie}, err
}

func expand(cfg rss.Config) []rss.Config {
	if cfg.HdrType != rss.HdrTypeAny {
		return []rss.Config{cfg}
	}
	outer, inner := cfg, cfg
	outer.HdrType = rss.HdrTypeOuter
	inner.HdrType = rss.HdrTypeInner
	return []rss.Config{outer, inner}
}

func (p *Plan) keys() (map[key]bool, error) {
	want := map[key]bool{}
	add := func(vsi uint16, cfgs []rss.Config) error {
		for _, cfg := range cfgs {
			k, err := keyOf(vsi, cfg)
			if err != nil {
				return err
			}
			want[k] = true
		}
		return nil
	}
	for _, it := range p.Rss {
		if err := add(it.VSI, expand(it.Config)); err != nil {
			return nil, err
		}
	}
	for _, it := range p.Avf {
		cfgs, err := rss.AvfConfigs(it.HashEnable)
		if err != nil {
			return nil, err
		}
		if err := add(it.VSI, cfgs); err != nil {
			return nil, err
		}
	}
	return want, nil
}

// Result counts what Apply changed.
type Result struct {
	Added     int
	Removed   int
	Unchanged int
}

// Apply makes the installed configurations of l match p. Configurations
// not in p are removed first, then everything in p is added in order,
// which leaves already installed entries untouched. Failures do not stop
// the pass; they are returned together.
func Apply(l Layer, p *Plan) (Result, error) {
	logger := log.WithField("func", "Apply").WithField("pkg", "flowconfig")
	res := Result{}

	want, err := p.keys()
	if err != nil {
		return res, err
	}

	have := map[key]bool{}
	var errs []error
	for _, e := range l.Configs() {
		for _, vsi := range e.VSIs {
			k := key{vsi: vsi, cookie: e.ProfileID}
			if want[k] {
				have[k] = true
				continue
			}
			if err := l.RemoveRssConfig(vsi, e.Config); err != nil {
				logger.WithError(err).Errorf("Unable to remove %v hash of vsi %d", e.Config.HashFields, vsi)
				errs = append(errs, err)
				continue
			}
			logger.Infof("Removed %v hash of vsi %d", e.Config.HashFields, vsi)
			res.Removed++
		}
	}

	count := func(vsi uint16, cfgs []rss.Config) {
		for _, cfg := range cfgs {
			k, _ := keyOf(vsi, cfg)
			if have[k] {
				res.Unchanged++
			} else {
				res.Added++
			}
			have[k] = true
		}
	}
	for _, it := range p.Rss {
		if err := l.AddRssConfig(it.VSI, it.Config); err != nil {
			logger.WithError(err).Errorf("Unable to add %v hash to vsi %d", it.Config.HashFields, it.VSI)
			errs = append(errs, err)
			continue
		}
		count(it.VSI, expand(it.Config))
	}
	for _, it := range p.Avf {
		if err := l.AddAvfRssConfig(it.VSI, it.HashEnable); err != nil {
			logger.WithError(err).Errorf("Unable to add hash enable 0x%x to vsi %d", it.HashEnable, it.VSI)
			errs = append(errs, err)
			continue
		}
		cfgs, _ := rss.AvfConfigs(it.HashEnable)
		count(it.VSI, cfgs)
	}

	logger.Infof("Applied desired state: %d added, %d removed, %d unchanged", res.Added, res.Removed, res.Unchanged)
	return res, errors.Join(errs...)
}
