// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/intel/ice-flow-classifier/pkg/adminq"
	"github.com/intel/ice-flow-classifier/pkg/flexpipe"
	"github.com/intel/ice-flow-classifier/pkg/flowconfig"
	"github.com/intel/ice-flow-classifier/pkg/flowconfigtypes"
	"github.com/intel/ice-flow-classifier/pkg/netdev"
	"github.com/intel/ice-flow-classifier/pkg/ptype"
	"github.com/intel/ice-flow-classifier/pkg/rss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type options struct {
	configPath string
	address    string
	simulate   bool
	pfID       int
	pfVSI      uint
	vfBase     uint
}

var (
	openDevice  = func(pf string, layout netdev.Layout) (netdev.Resolver, error) { return netdev.Open(pf, layout) }
	watchConfig = flowconfig.Watch
	limiter     = rate.NewLimiter(1, 3)
)

type prometheusHandler struct {
	handler http.Handler
}

func (ph *prometheusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Only GET requests are allowed!", http.StatusMethodNotAllowed)
		return
	}
	if !limiter.Allow() {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}
	ph.handler.ServeHTTP(w, r)
}

// daemon keeps the hash configuration of one PF in line with the desired
// state file.
type daemon struct {
	mu       sync.Mutex
	eng      *flexpipe.Engine
	layer    *rss.Layer
	resolver netdev.Resolver

	applies     uint64
	applyErrors uint64
}

func newDaemon(opts options, st *flowconfigtypes.FlowState) (*daemon, error) {
	logger := log.WithField("func", "newDaemon")
	layout := netdev.Layout{PFVSI: uint16(opts.pfVSI), VFBase: uint16(opts.vfBase)}

	var resolver netdev.Resolver = netdev.Static{Layout: layout, PF: st.Device.Interface}
	if !opts.simulate {
		r, err := openDevice(st.Device.Interface, layout)
		if err != nil {
			logger.Errorf("Unable to open %s: %v", st.Device.Interface, err)
			return nil, err
		}
		resolver = r
	}

	// the admin queue belongs to the kernel driver, tables are kept in the
	// software firmware model
	ch := adminq.NewRetryChannel(adminq.NewSimChannel())
	if st.Device.RetryAttempts > 0 {
		ch.Attempts = st.Device.RetryAttempts
	}

	pfID := st.Device.PFID
	if opts.pfID >= 0 {
		pfID = uint8(opts.pfID)
	}

	cat := ptype.DefaultCatalogue()
	eng, err := flexpipe.NewEngine(adminq.NewClient(ch), flexpipe.Package{PTGs: cat.PTGSeed()}, pfID)
	if err != nil {
		logger.Errorf("Unable to set up pf %d: %v", pfID, err)
		return nil, err
	}
	logger.Infof("Engine for %s (pf %d) ready", st.Device.Interface, pfID)
	return &daemon{eng: eng, layer: rss.NewLayer(eng, cat), resolver: resolver}, nil
}

func (d *daemon) apply(st *flowconfigtypes.FlowState) error {
	logger := log.WithField("func", "apply")
	d.mu.Lock()
	defer d.mu.Unlock()

	d.applies++
	p, err := flowconfig.BuildPlan(st, d.resolver)
	if err != nil {
		d.applyErrors++
		logger.Errorf("Unable to plan desired state: %v", err)
		return err
	}
	res, err := flowconfig.Apply(d.layer, p)
	if err != nil {
		d.applyErrors++
		logger.Errorf("Desired state applied with errors: %v", err)
		return err
	}
	logger.Infof("Desired state applied: %+v", res)
	return nil
}

func (d *daemon) counters() (uint64, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applies, d.applyErrors
}

func parseFlags(name string, args []string) (opts options, out string, err error) {
	logger := log.WithField("func", "parseFlags")
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	var buf bytes.Buffer

	flags.SetOutput(&buf)

	flags.StringVar(&opts.configPath, "config", "", "Path to the desired RSS state file")
	flags.StringVar(&opts.address, "address", ":33001", "Address on which metrics are exposed")
	flags.BoolVar(&opts.simulate, "simulate", false, "Resolve VSIs from the static layout instead of the system")
	flags.IntVar(&opts.pfID, "pf-id", -1, "PF number, overrides device.pfId of the config file")
	flags.UintVar(&opts.pfVSI, "pf-vsi", 0, "VSI number of the PF")
	flags.UintVar(&opts.vfBase, "vf-base", 64, "VSI number of VF 0")

	err = flags.Parse(args)
	if err != nil {
		return opts, buf.String(), err
	}

	if len(opts.configPath) == 0 {
		logger.Error("config path not set")
		return opts, buf.String(), fmt.Errorf("config path not set")
	}
	if opts.pfID > int(flexpipe.MaxPFID) {
		return opts, buf.String(), fmt.Errorf("Invalid pf-id value: %d - must be between 0 and 7", opts.pfID)
	}
	if opts.pfVSI >= uint(flexpipe.MaxVSI(flexpipe.BlockRSS)) || opts.vfBase+netdev.MaxVFs > uint(flexpipe.MaxVSI(flexpipe.BlockRSS)) {
		return opts, buf.String(), fmt.Errorf("Invalid VSI layout: pf-vsi %d, vf-base %d", opts.pfVSI, opts.vfBase)
	}

	return opts, buf.String(), nil
}

// run applies the state at opts.configPath, follows changes to it and
// serves metrics until done is closed.
func run(opts options, done <-chan struct{}) error {
	logger := log.WithField("func", "run")

	st, err := flowconfig.Load(opts.configPath)
	if err != nil {
		logger.Errorf("Unable to load %s: %v", opts.configPath, err)
		return err
	}
	d, err := newDaemon(opts, st)
	if err != nil {
		return err
	}
	if err := d.apply(st); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(newFlowCollector(d))

	mux := http.NewServeMux()
	mux.Handle("/metrics", &prometheusHandler{handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})})
	srv := &http.Server{Addr: opts.address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errs := make(chan error, 2)
	go func() {
		errs <- watchConfig(opts.configPath, done, func(st *flowconfigtypes.FlowState) {
			_ = d.apply(st)
		})
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case <-done:
	case err = <-errs:
		if err != nil {
			logger.Errorf("ice-flowd stopped: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(ctx); serr != nil {
		logger.Warnf("Unable to shut down metrics server: %v", serr)
	}
	return err
}

func init() {
	log.SetLevel(log.DebugLevel)
}

func main() {
	opts, out, err := parseFlags(os.Args[0], os.Args[1:])
	if err == flag.ErrHelp {
		log.Infoln(out)
		os.Exit(2)
	} else if err != nil {
		log.Error(out)
		log.Error(err)
		os.Exit(1)
	}

	done := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sig
		close(done)
	}()

	if err := run(opts, done); err != nil {
		os.Exit(1)
	}
}
