// Package test holds helpers shared by the integration tests.
package test

import (
	"os"
	"path/filepath"
	"runtime"
)

// RootDir returns the module root directory.
func RootDir() string {
	_, filename, _, _ := runtime.Caller(0)

	return filepath.Join(filepath.Dir(filename), "..")
}

// ConfigTestRootPath - go test runs in the directory of the package under test. This moves the working
// directory to the module root, so configuration files are referenced from there.
func ConfigTestRootPath() {
	if err := os.Chdir(RootDir()); err != nil {
		panic(err)
	}
}
