// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package adminq

import (
	"errors"
	"time"

	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"
)

const DefaultRetryAttempts = 8

var sleep = time.Sleep

// RetryChannel resends commands that firmware rejected as busy. Any other
// failure is returned as is.
type RetryChannel struct {
	Channel
	Attempts int
	Backoff  backoff.Backoff
}

func NewRetryChannel(ch Channel) *RetryChannel {
	return &RetryChannel{
		Channel:  ch,
		Attempts: DefaultRetryAttempts,
		Backoff: backoff.Backoff{
			Min:    10 * time.Millisecond,
			Max:    1 * time.Second,
			Factor: 2,
			Jitter: false,
		},
	}
}

func isBusy(err error) bool {
	var aqe *AQError
	if errors.As(err, &aqe) {
		return aqe.Status == StatusEBUSY
	}
	return errors.Is(err, ErrBusy)
}

func (r *RetryChannel) Send(opcode Opcode, payload []byte) ([]byte, error) {
	logger := log.WithField("func", "Send").WithField("pkg", "adminq")
	b := r.Backoff
	b.Reset()

	var (
		resp []byte
		err  error
	)
	for attempt := 0; ; attempt++ {
		resp, err = r.Channel.Send(opcode, payload)
		if err == nil || !isBusy(err) {
			return resp, err
		}
		if attempt+1 >= r.Attempts {
			break
		}
		d := b.Duration()
		logger.Debugf("Command %v busy, retry %d in %v", opcode, attempt+1, d)
		sleep(d)
	}
	logger.WithError(err).Errorf("Command %v still busy after %d attempts", opcode, r.Attempts)
	return nil, err
}
