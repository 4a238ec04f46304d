//go:build linux

package main

import (
	"github.com/docker/go-units"
	"golang.org/x/sys/unix"
)

func freeSpace(path string) (string, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return "", err
	}
	return units.BytesSize(float64(stat.Bavail) * float64(stat.Bsize)), nil
}
