// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flexpipe

import (
	"errors"

	log "github.com/sirupsen/logrus"
)

// undoStack collects rollback closures for hardware resources allocated by
// an operation that may still fail. They run in reverse order.
type undoStack []func() error

func (u *undoStack) push(fn func() error) {
	*u = append(*u, fn)
}

func (u undoStack) rollback(logger *log.Entry) error {
	var errs []error
	for i := len(u) - 1; i >= 0; i-- {
		if err := u[i](); err != nil {
			logger.WithError(err).Errorf("Rollback step %d failed", i)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
