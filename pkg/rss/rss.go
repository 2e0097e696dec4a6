// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

// Package rss configures the RSS hash of VSIs on top of the flexpipe engine
// and keeps the list of configurations needed to restore them after a reset.
package rss

import (
	"errors"
	"sort"
	"sync"

	"github.com/intel/ice-flow-classifier/pkg/flexpipe"
	"github.com/intel/ice-flow-classifier/pkg/iceerr"
	"github.com/intel/ice-flow-classifier/pkg/ptype"
	log "github.com/sirupsen/logrus"
)

// FlowEngine is the part of flexpipe.Engine the hash layer drives.
type FlowEngine interface {
	RegisterProfile(blk flexpipe.Block, cookie uint64, ptypes *ptype.Bitmap, es []flexpipe.FVWord) error
	RemoveProfile(blk flexpipe.Block, cookie uint64) error
	AddFlow(blk flexpipe.Block, vsi uint16, cookie uint64) error
	RemoveFlow(blk flexpipe.Block, vsi uint16, cookie uint64) error
}

type entry struct {
	cfg    Config
	cookie uint64
	hdrs   []ptype.Hdr
	vsis   map[uint16]bool
}

func (e *entry) sameHeaders(hdrs []ptype.Hdr) bool {
	if len(e.hdrs) != len(hdrs) {
		return false
	}
	for i := range hdrs {
		if e.hdrs[i] != hdrs[i] {
			return false
		}
	}
	return true
}

// ConfigEntry is a snapshot of one recorded configuration.
type ConfigEntry struct {
	Config
	ProfileID uint64
	VSIs      []uint16
}

// Layer is the RSS hash configuration of one physical function.
type Layer struct {
	eng FlowEngine
	cat *ptype.Catalogue
	blk flexpipe.Block

	mu   sync.Mutex
	cfgs []*entry
}

func NewLayer(eng FlowEngine, cat *ptype.Catalogue) *Layer {
	return &Layer{eng: eng, cat: cat, blk: flexpipe.BlockRSS}
}

func (l *Layer) checkVSI(op string, vsi uint16) error {
	if int(vsi) >= flexpipe.MaxVSI(l.blk) {
		return iceerr.New(iceerr.KindParam, op, "vsi %d out of range", vsi)
	}
	return nil
}

func segHeaders(segs []segment) []ptype.Hdr {
	hdrs := make([]ptype.Hdr, len(segs))
	for i, s := range segs {
		hdrs[i] = s.hdrs
	}
	return hdrs
}

func (l *Layer) find(cookie uint64) *entry {
	for _, e := range l.cfgs {
		if e.cookie == cookie {
			return e
		}
	}
	return nil
}

func (l *Layer) drop(e *entry) {
	for i, c := range l.cfgs {
		if c == e {
			l.cfgs = append(l.cfgs[:i], l.cfgs[i+1:]...)
			return
		}
	}
}

// register installs the profile of a recorded configuration. A profile that
// is already registered is left alone.
func (l *Layer) register(e *entry) error {
	segs, err := segments("register", e.cfg)
	if err != nil {
		return err
	}
	es, err := extractionSequence("register", l.blk, segs)
	if err != nil {
		return err
	}
	pt := ptypes(l.cat, segs)
	if pt.Count() == 0 {
		return iceerr.New(iceerr.KindInvalidConfig, "register", "no packet type carries headers %v", e.hdrs)
	}
	err = l.eng.RegisterProfile(l.blk, e.cookie, pt, es)
	if iceerr.IsAlreadyExists(err) {
		return nil
	}
	return err
}

// attach enables the profile of e for vsi, registering it again if the
// engine lost it in a reset.
func (l *Layer) attach(vsi uint16, e *entry) error {
	err := l.eng.AddFlow(l.blk, vsi, e.cookie)
	if iceerr.IsNotFound(err) {
		if err = l.register(e); err != nil {
			return err
		}
		err = l.eng.AddFlow(l.blk, vsi, e.cookie)
	}
	if iceerr.IsAlreadyExists(err) {
		return nil
	}
	return err
}

// detach disables the profile of e for vsi and forgets e once no VSI uses
// it.
func (l *Layer) detach(vsi uint16, e *entry) error {
	logger := log.WithField("func", "detach").WithField("pkg", "rss")
	if err := l.eng.RemoveFlow(l.blk, vsi, e.cookie); err != nil && !iceerr.IsNotFound(err) {
		return err
	}
	delete(e.vsis, vsi)
	if len(e.vsis) > 0 {
		return nil
	}
	if err := l.eng.RemoveProfile(l.blk, e.cookie); err != nil && !iceerr.IsNotFound(err) {
		return err
	}
	l.drop(e)
	logger.Debugf("Dropped hash config %v on %v", e.cfg.HashFields, e.hdrs)
	return nil
}

func (l *Layer) add(vsi uint16, cfg Config) error {
	logger := log.WithField("func", "AddRssConfig").WithField("pkg", "rss")
	segs, err := segments("AddRssConfig", cfg)
	if err != nil {
		return err
	}
	cookie := profileID(cfg, segs)
	hdrs := segHeaders(segs)

	if e := l.find(cookie); e != nil && e.vsis[vsi] {
		e.cfg.Symmetric = cfg.Symmetric
		return nil
	}

	// a VSI hashes one field set per header set
	for _, e := range append([]*entry(nil), l.cfgs...) {
		if e.cookie == cookie || !e.vsis[vsi] || !e.sameHeaders(hdrs) {
			continue
		}
		logger.Debugf("Replacing hash fields %v of vsi %d with %v", e.cfg.HashFields, vsi, cfg.HashFields)
		if err := l.detach(vsi, e); err != nil {
			return err
		}
	}

	if e := l.find(cookie); e != nil {
		if err := l.attach(vsi, e); err != nil {
			return err
		}
		e.vsis[vsi] = true
		e.cfg.Symmetric = cfg.Symmetric
		return nil
	}

	e := &entry{cfg: cfg, cookie: cookie, hdrs: hdrs, vsis: map[uint16]bool{}}
	if err := l.register(e); err != nil {
		logger.WithError(err).Errorf("Unable to register hash profile 0x%016x", cookie)
		return err
	}
	if err := l.eng.AddFlow(l.blk, vsi, cookie); err != nil {
		if rerr := l.eng.RemoveProfile(l.blk, cookie); rerr != nil {
			logger.WithError(rerr).Warnf("Unable to remove hash profile 0x%016x", cookie)
		}
		return err
	}
	e.vsis[vsi] = true
	l.cfgs = append(l.cfgs, e)
	logger.Infof("Hashing %v over %v (%v) on vsi %d", cfg.HashFields, cfg.Headers, cfg.HdrType, vsi)
	return nil
}

// AddRssConfig hashes cfg.HashFields for packets of vsi carrying
// cfg.Headers. Adding a configuration the VSI already has only updates its
// symmetric flag. HdrTypeAny adds an outer and then an inner configuration;
// the outer one stays in place if the inner one fails.
func (l *Layer) AddRssConfig(vsi uint16, cfg Config) error {
	if err := l.checkVSI("AddRssConfig", vsi); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if cfg.HdrType != HdrTypeAny {
		return l.add(vsi, cfg)
	}
	outer, inner := cfg, cfg
	outer.HdrType, inner.HdrType = HdrTypeOuter, HdrTypeInner
	if err := l.add(vsi, outer); err != nil {
		return err
	}
	return l.add(vsi, inner)
}

func (l *Layer) remove(vsi uint16, cfg Config) error {
	segs, err := segments("RemoveRssConfig", cfg)
	if err != nil {
		return err
	}
	e := l.find(profileID(cfg, segs))
	if e == nil || !e.vsis[vsi] {
		return iceerr.New(iceerr.KindNotFound, "RemoveRssConfig", "vsi %d does not hash %v over %v",
			vsi, cfg.HashFields, cfg.Headers)
	}
	return l.detach(vsi, e)
}

// RemoveRssConfig undoes AddRssConfig for vsi.
func (l *Layer) RemoveRssConfig(vsi uint16, cfg Config) error {
	if err := l.checkVSI("RemoveRssConfig", vsi); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if cfg.HdrType != HdrTypeAny {
		return l.remove(vsi, cfg)
	}
	outer, inner := cfg, cfg
	outer.HdrType, inner.HdrType = HdrTypeOuter, HdrTypeInner
	return errors.Join(l.remove(vsi, outer), l.remove(vsi, inner))
}

// RemoveVSIRssConfigs drops every configuration of vsi.
func (l *Layer) RemoveVSIRssConfigs(vsi uint16) error {
	if err := l.checkVSI("RemoveVSIRssConfigs", vsi); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, e := range append([]*entry(nil), l.cfgs...) {
		if e.vsis[vsi] {
			errs = append(errs, l.detach(vsi, e))
		}
	}
	return errors.Join(errs...)
}

// ReplayRssConfigs enables every recorded configuration of vsi in the order
// they were added, registering profiles the engine no longer knows. It can
// be called any number of times.
func (l *Layer) ReplayRssConfigs(vsi uint16) error {
	logger := log.WithField("func", "ReplayRssConfigs").WithField("pkg", "rss")
	if err := l.checkVSI("ReplayRssConfigs", vsi); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.cfgs {
		if !e.vsis[vsi] {
			continue
		}
		if err := l.attach(vsi, e); err != nil {
			logger.WithError(err).Errorf("Unable to replay hash config %v on vsi %d", e.cfg.HashFields, vsi)
			return err
		}
		n++
	}
	logger.Debugf("Replayed %d hash configs on vsi %d", n, vsi)
	return nil
}

// Replay replays the configurations of every recorded VSI.
func (l *Layer) Replay() error {
	var errs []error
	for _, vsi := range l.VSIs() {
		errs = append(errs, l.ReplayRssConfigs(vsi))
	}
	return errors.Join(errs...)
}

// GetRssHashFields returns the fields vsi hashes for packets carrying hdrs.
func (l *Layer) GetRssHashFields(vsi uint16, hdrs ptype.Hdr) (Field, error) {
	if err := l.checkVSI("GetRssHashFields", vsi); err != nil {
		return FieldNone, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.cfgs {
		if e.vsis[vsi] && e.cfg.Headers == hdrs {
			return e.cfg.HashFields, nil
		}
	}
	return FieldNone, iceerr.New(iceerr.KindNotFound, "GetRssHashFields", "vsi %d has no hash config for %v", vsi, hdrs)
}

// VSIs returns every VSI with at least one configuration, ascending.
func (l *Layer) VSIs() []uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := map[uint16]bool{}
	vsis := []uint16{}
	for _, e := range l.cfgs {
		for vsi := range e.vsis {
			if !seen[vsi] {
				seen[vsi] = true
				vsis = append(vsis, vsi)
			}
		}
	}
	sort.Slice(vsis, func(i, j int) bool { return vsis[i] < vsis[j] })
	return vsis
}

// Configs returns the recorded configurations in the order they were added.
func (l *Layer) Configs() []ConfigEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ConfigEntry, 0, len(l.cfgs))
	for _, e := range l.cfgs {
		en := ConfigEntry{Config: e.cfg, ProfileID: e.cookie}
		for vsi := range e.vsis {
			en.VSIs = append(en.VSIs, vsi)
		}
		sort.Slice(en.VSIs, func(i, j int) bool { return en.VSIs[i] < en.VSIs[j] })
		out = append(out, en)
	}
	return out
}
