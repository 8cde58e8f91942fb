//go:build !ort

package backend

import "errors"

const ortEnabled = false

var errORTUnavailable = errors.New("ort backend not compiled in this build (rebuild with -tags ort)")

func newORT() (Backend, error) {
	return nil, errORTUnavailable
}
