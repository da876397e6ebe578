//go:build !sqlite
// +build !sqlite

package progress

import (
	"errors"

	logx "scoopbot/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite driver not compiled in (build with -tags sqlite)")
}
