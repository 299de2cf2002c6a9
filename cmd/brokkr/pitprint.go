package main

import (
	"github.com/gabriel2392/brokkr/pit"
	"github.com/sirupsen/logrus"
)

func printPitTable(log *logrus.Logger, t pit.Table) {
	log.WithField("cpu_bl_id", t.CpuBlID).Info("pit table")
	for i, p := range t.Partitions {
		log.WithFields(logrus.Fields{
			"index":     i,
			"id":        p.ID,
			"dev_type":  p.DevType,
			"name":      p.Name,
			"file_name": p.FileName,
			"file_size": p.FileSize,
		}).Info("partition")
	}
}
