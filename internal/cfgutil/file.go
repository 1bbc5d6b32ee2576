// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cfgutil holds config field types and file helpers shared by the
// wallet loader and the command line tool.
package cfgutil

import "os"

// FileExists reports whether the named file or directory exists. Errors
// other than non-existence are returned.
func FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	switch {
	case err == nil:
		return true, nil

	case os.IsNotExist(err):
		return false, nil

	default:
		return false, err
	}
}
