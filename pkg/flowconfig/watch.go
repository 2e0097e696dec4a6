// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022 Intel Corporation

package flowconfig

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/intel/ice-flow-classifier/pkg/flowconfigtypes"
	log "github.com/sirupsen/logrus"
)

var getFsNotifyWatcher = fsnotify.NewWatcher

// Watch calls onChange with the reloaded state each time the file at path
// is written or created, until done is closed. The parent directory is
// watched so that files replaced by rename are picked up. States that fail
// to load are logged and skipped.
func Watch(path string, done <-chan struct{}, onChange func(*flowconfigtypes.FlowState)) error {
	logger := log.WithField("func", "Watch").WithField("pkg", "flowconfig")

	watcher, err := getFsNotifyWatcher()
	if err != nil {
		logger.WithError(err).Error("Unable to create fsnotify watcher")
		return err
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.WithError(err).Errorf("Unable to watch %s", filepath.Dir(path))
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&fsnotify.Write != fsnotify.Write && event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			st, err := Load(path)
			if err != nil {
				logger.WithError(err).Warnf("Ignoring invalid config %s", path)
				continue
			}
			logger.Infof("Config %s changed", path)
			onChange(st)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("fsnotify error occurred")
		case <-done:
			return nil
		}
	}
}
