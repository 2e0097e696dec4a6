package netdev

import (
	"github.com/intel/ice-flow-classifier/pkg/flowconfigtypes"
	"github.com/vishvananda/netlink"
)

type ResolverMock struct {
	Requests   []flowconfigtypes.Target
	VSI        uint16
	ResolveErr error
}

func (rm *ResolverMock) Resolve(t flowconfigtypes.Target) (uint16, error) {
	rm.Requests = append(rm.Requests, t)
	if t.VSI != nil {
		return *t.VSI, rm.ResolveErr
	}
	return rm.VSI, rm.ResolveErr
}

type LinkMock struct {
	LinkAttrs netlink.LinkAttrs
}

func (l *LinkMock) Attrs() *netlink.LinkAttrs {
	return &l.LinkAttrs
}

func (l *LinkMock) Type() string {
	return "device"
}

type EthtoolMock struct {
	Drivers       map[string]string
	DriverNameErr error
	Closed        bool
}

func (em *EthtoolMock) DriverName(intf string) (string, error) {
	return em.Drivers[intf], em.DriverNameErr
}

func (em *EthtoolMock) Close() {
	em.Closed = true
}
