//go:build !unix

package disk

import (
	"errors"
	"runtime"
)

func statfs(string) (Stat, error) {
	return Stat{}, errors.New("free space lookup not implemented on " + runtime.GOOS)
}
