//go:build mage

// Package main provides build targets for the pharmacy server using Mage.
//
// Usage:
//
//	mage build     Compile pharmacyd to bin/
//	mage test      Run all tests
//	mage vet       Run go vet
//	mage run       Build and start the server
//	mage seed      Build and load the drug catalog
//	mage clean     Remove build artifacts
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "pharmacyd"
	binaryDir  = "bin"
	cmdDir     = "./cmd/pharmacyd"
)

var binary = filepath.Join(binaryDir, binaryName)

// Build compiles the pharmacyd binary to bin/, stamping the git version when
// one is available.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	ver, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || ver == "" {
		ver = "dev"
	}
	return sh.RunV(binGo, "build", "-v", "-ldflags", "-X main.version="+ver, "-o", binary, cmdDir)
}

// Test runs every package's tests.
func Test() error {
	return sh.RunV(binGo, "test", "./...")
}

// Vet runs go vet.
func Vet() error {
	return sh.RunV(binGo, "vet", "./...")
}

// Run starts the API with the environment from .env.
func Run() error {
	mg.Deps(Build)
	return sh.RunV(binary, "serve")
}

// Seed loads assets/drugs.csv and the admin from ADMIN_EMAIL/ADMIN_PASSWORD.
func Seed() error {
	mg.Deps(Build)
	return sh.RunV(binary, "seed")
}

// Clean removes build artifacts.
func Clean() error {
	return os.RemoveAll(binaryDir)
}
