// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flowconfigtypes

type FlowState struct {
	Device     DeviceConfig `yaml:"device" json:"device"`
	RssConfigs []RssConfig  `yaml:"rss" json:"rss"`
	AvfConfigs []AvfConfig  `yaml:"avf,omitempty" json:"avf,omitempty"`
}

type DeviceConfig struct {
	Interface     string `yaml:"interface" json:"interface"`
	PFID          uint8  `yaml:"pfId" json:"pfId"`
	RetryAttempts int    `yaml:"retryAttempts,omitempty" json:"retryAttempts,omitempty"`
}

// Target selects the VSI a configuration applies to: the PF itself, one of
// its VFs, or an explicit VSI number.
type Target struct {
	Interface string  `yaml:"interface,omitempty" json:"interface,omitempty"`
	VF        *int    `yaml:"vf,omitempty" json:"vf,omitempty"`
	VSI       *uint16 `yaml:"vsi,omitempty" json:"vsi,omitempty"`
}

type RssConfig struct {
	Target     `yaml:",inline" json:",inline"`
	HashFields []string `yaml:"hashFields" json:"hashFields"`
	Headers    []string `yaml:"headers,omitempty" json:"headers,omitempty"`
	IPProtos   []uint8  `yaml:"ipProtos,omitempty" json:"ipProtos,omitempty"`
	HeaderType string   `yaml:"headerType,omitempty" json:"headerType,omitempty"`
	Symmetric  bool     `yaml:"symmetric,omitempty" json:"symmetric,omitempty"`
}

type AvfConfig struct {
	Target     `yaml:",inline" json:",inline"`
	HashEnable uint64 `yaml:"hashEnable" json:"hashEnable"`
}
