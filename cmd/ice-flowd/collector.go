// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package main

import (
	"github.com/intel/ice-flow-classifier/pkg/flexpipe"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

type blockStat struct {
	name      string
	help      string
	valueType prometheus.ValueType
	value     func(flexpipe.Stats) float64
}

var blockStats = []blockStat{
	{"ptgs", "Packet type groups in use", prometheus.GaugeValue,
		func(s flexpipe.Stats) float64 { return float64(s.PTGs) }},
	{"vsigs", "VSI groups in use", prometheus.GaugeValue,
		func(s flexpipe.Stats) float64 { return float64(s.VSIGs) }},
	{"vsis", "VSIs assigned to a VSI group", prometheus.GaugeValue,
		func(s flexpipe.Stats) float64 { return float64(s.VSIs) }},
	{"tcam_entries", "Profile TCAM entries in use", prometheus.GaugeValue,
		func(s flexpipe.Stats) float64 { return float64(s.TCAMEntries) }},
	{"profile_ids", "Hardware profile ids in use", prometheus.GaugeValue,
		func(s flexpipe.Stats) float64 { return float64(s.ProfileIDs) }},
	{"profiles", "Registered flow profiles", prometheus.GaugeValue,
		func(s flexpipe.Stats) float64 { return float64(s.Profiles) }},
	{"commits_total", "Change lists sent to firmware", prometheus.CounterValue,
		func(s flexpipe.Stats) float64 { return float64(s.Commits) }},
	{"commit_errors_total", "Change lists firmware rejected", prometheus.CounterValue,
		func(s flexpipe.Stats) float64 { return float64(s.CommitErrors) }},
}

// flowCollector exports the table usage of every block and the state of
// the desired state loop.
type flowCollector struct {
	d           *daemon
	entries     map[string]*prometheus.Desc
	rssConfigs  *prometheus.Desc
	applies     *prometheus.Desc
	applyErrors *prometheus.Desc
}

func newFlowCollector(d *daemon) *flowCollector {
	fc := &flowCollector{d: d, entries: map[string]*prometheus.Desc{}}
	for _, bs := range blockStats {
		fc.entries[bs.name] = prometheus.NewDesc(
			prometheus.BuildFQName("ice", "flow", bs.name),
			bs.help,
			[]string{"block"},
			nil,
		)
	}
	fc.rssConfigs = prometheus.NewDesc(prometheus.BuildFQName("ice", "flow", "rss_configs"),
		"Hash configurations installed", nil, nil)
	fc.applies = prometheus.NewDesc(prometheus.BuildFQName("ice", "flow", "applies_total"),
		"Desired state applications", nil, nil)
	fc.applyErrors = prometheus.NewDesc(prometheus.BuildFQName("ice", "flow", "apply_errors_total"),
		"Desired state applications that failed", nil, nil)
	return fc
}

func (fc *flowCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, e := range fc.entries {
		ch <- e
	}
	ch <- fc.rssConfigs
	ch <- fc.applies
	ch <- fc.applyErrors
}

func (fc *flowCollector) Collect(ch chan<- prometheus.Metric) {
	logger := log.WithField("func", "Collect")
	for blk := flexpipe.Block(0); blk < flexpipe.NumBlocks; blk++ {
		st, err := fc.d.eng.Stats(blk)
		if err != nil {
			logger.Errorf("Unable to get stats of block %v: %v", blk, err)
			continue
		}
		for _, bs := range blockStats {
			ch <- prometheus.MustNewConstMetric(fc.entries[bs.name], bs.valueType, bs.value(st), blk.String())
		}
	}

	ch <- prometheus.MustNewConstMetric(fc.rssConfigs, prometheus.GaugeValue, float64(len(fc.d.layer.Configs())))
	applies, applyErrors := fc.d.counters()
	ch <- prometheus.MustNewConstMetric(fc.applies, prometheus.CounterValue, float64(applies))
	ch <- prometheus.MustNewConstMetric(fc.applyErrors, prometheus.CounterValue, float64(applyErrors))
}
