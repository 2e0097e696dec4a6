// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/intel/ice-flow-classifier/pkg/adminq"
	"github.com/intel/ice-flow-classifier/pkg/flexpipe"
	"github.com/intel/ice-flow-classifier/pkg/flowconfig"
	"github.com/intel/ice-flow-classifier/pkg/flowconfigtypes"
	"github.com/intel/ice-flow-classifier/pkg/netdev"
	"github.com/intel/ice-flow-classifier/pkg/ptype"
	"github.com/intel/ice-flow-classifier/pkg/rss"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	configFlag = "config"
	pfVSIFlag  = "pf-vsi"
	vfBaseFlag = "vf-base"
	blockFlag  = "block"
	formatFlag = "format"
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     configFlag,
			Usage:    "desired RSS state file",
			Required: true,
		},
	}
}

func layoutFlags() []cli.Flag {
	return append(configFlags(),
		&cli.UintFlag{
			Name:  pfVSIFlag,
			Usage: "VSI number of the PF",
			Value: 0,
		},
		&cli.UintFlag{
			Name:  vfBaseFlag,
			Usage: "VSI number of VF 0",
			Value: 64,
		},
	)
}

// hashEntry is the printable form of an installed hash configuration.
type hashEntry struct {
	ProfileID string   `json:"profileId" yaml:"profileId"`
	Fields    string   `json:"fields" yaml:"fields"`
	Headers   string   `json:"headers" yaml:"headers"`
	HdrType   string   `json:"headerType" yaml:"headerType"`
	Symmetric bool     `json:"symmetric" yaml:"symmetric"`
	VSIs      []uint16 `json:"vsis" yaml:"vsis"`
}

type dumpOutput struct {
	Block  string              `json:"block" yaml:"block"`
	Stats  flexpipe.Stats      `json:"stats" yaml:"stats"`
	Groups []flexpipe.VSIGDump `json:"vsigs" yaml:"vsigs"`
	Hash   []hashEntry         `json:"rss" yaml:"rss"`
}

func loadPlan(ctx *cli.Context) (*flowconfigtypes.FlowState, *flowconfig.Plan, error) {
	st, err := flowconfig.Load(ctx.String(configFlag))
	if err != nil {
		return nil, nil, err
	}
	r := netdev.Static{
		Layout: netdev.Layout{PFVSI: uint16(ctx.Uint(pfVSIFlag)), VFBase: uint16(ctx.Uint(vfBaseFlag))},
		PF:     st.Device.Interface,
	}
	p, err := flowconfig.BuildPlan(st, r)
	if err != nil {
		return nil, nil, err
	}
	return st, p, nil
}

func validate(ctx *cli.Context) error {
	st, err := flowconfig.Load(ctx.String(configFlag))
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "%s: %d rss configs, %d avf configs for %s\n",
		ctx.String(configFlag), len(st.RssConfigs), len(st.AvfConfigs), st.Device.Interface)
	return nil
}

func plan(ctx *cli.Context) error {
	_, p, err := loadPlan(ctx)
	if err != nil {
		return err
	}
	for _, it := range p.Rss {
		cookie := "any"
		if c, err := rss.CookieOf(it.Config); err == nil {
			cookie = fmt.Sprintf("0x%016x", c)
		}
		fmt.Fprintf(ctx.App.Writer, "vsi %d: hash %v over %v (%v, symmetric %t) profile %s\n",
			it.VSI, it.Config.HashFields, it.Config.Headers, it.Config.HdrType, it.Config.Symmetric, cookie)
	}
	for _, it := range p.Avf {
		fmt.Fprintf(ctx.App.Writer, "vsi %d: hash enable 0x%x\n", it.VSI, it.HashEnable)
	}
	return nil
}

// dump applies the desired state to a simulated device and prints the
// resulting classification tables.
func dump(ctx *cli.Context) error {
	blk, err := flexpipe.ParseBlock(ctx.String(blockFlag))
	if err != nil {
		return err
	}
	st, p, err := loadPlan(ctx)
	if err != nil {
		return err
	}

	cat := ptype.DefaultCatalogue()
	sim := adminq.NewSimChannel()
	eng, err := flexpipe.NewEngine(adminq.NewClient(sim), flexpipe.Package{PTGs: cat.PTGSeed()}, st.Device.PFID)
	if err != nil {
		return err
	}
	layer := rss.NewLayer(eng, cat)
	if _, err := flowconfig.Apply(layer, p); err != nil {
		return err
	}

	out := dumpOutput{Block: blk.String(), Hash: []hashEntry{}}
	if out.Stats, err = eng.Stats(blk); err != nil {
		return err
	}
	if out.Groups, err = eng.Dump(blk); err != nil {
		return err
	}
	if blk == flexpipe.BlockRSS {
		for _, e := range layer.Configs() {
			out.Hash = append(out.Hash, hashEntry{
				ProfileID: fmt.Sprintf("0x%016x", e.ProfileID),
				Fields:    e.Config.HashFields.String(),
				Headers:   e.Config.Headers.String(),
				HdrType:   e.Config.HdrType.String(),
				Symmetric: e.Config.Symmetric,
				VSIs:      e.VSIs,
			})
		}
	}

	switch ctx.String(formatFlag) {
	case "json":
		enc := json.NewEncoder(ctx.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(ctx.App.Writer)
		defer enc.Close()
		return enc.Encode(out)
	}
	return fmt.Errorf("unknown output format %q", ctx.String(formatFlag))
}

func newApp(w io.Writer) *cli.App {
	return &cli.App{
		Name:   "ice-flowctl",
		Usage:  "inspect desired RSS state of ice adapters",
		Writer: w,
		Commands: []*cli.Command{
			{
				Name:   "validate",
				Usage:  "check a desired state file",
				Flags:  configFlags(),
				Action: validate,
			},
			{
				Name:   "plan",
				Usage:  "list the hash configurations a desired state file installs",
				Flags:  layoutFlags(),
				Action: plan,
			},
			{
				Name:  "dump",
				Usage: "apply a desired state file to a simulated device and print its tables",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  blockFlag,
						Usage: "hardware block to print",
						Value: flexpipe.BlockRSS.String(),
					},
					&cli.StringFlag{
						Name:  formatFlag,
						Usage: "output format, json or yaml",
						Value: "yaml",
					},
				}, layoutFlags()...),
				Action: dump,
			},
		},
	}
}

func main() {
	log.SetLevel(log.WarnLevel)
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
