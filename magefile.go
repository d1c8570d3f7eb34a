//+build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var (
	mingw_xcompiler = "x86_64-w64-mingw32-gcc"
	name            = "psutils"
)

func Linux() error {
	if err := os.Mkdir("output", 0700); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create output: %v", err)
	}

	env := make(map[string]string)
	return sh.RunWith(
		env,
		mg.GoCmd(), "build",
		"-o", filepath.Join("output", name),
		"-ldflags=-s -w "+flags(),
		"./bin/")
}

// Cross compile the windows binary using mingw.
func Windows() error {
	if err := os.Mkdir("output", 0700); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create output: %v", err)
	}

	env := make(map[string]string)
	if mingwxcompiler_exists() {
		env["CC"] = mingw_xcompiler
		env["CGO_ENABLED"] = "1"
	} else {
		fmt.Printf("Windows cross compiler not found. Disabling cgo modules.")
		env["CGO_ENABLED"] = "0"
	}

	env["GOOS"] = "windows"
	env["GOARCH"] = "amd64"

	return sh.RunWith(
		env,
		mg.GoCmd(), "build",
		"-o", filepath.Join("output", name+".exe"),
		"-ldflags=-s -w "+flags(),
		"./bin/")
}

func Darwin() error {
	if err := os.Mkdir("output", 0700); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create output: %v", err)
	}

	env := map[string]string{
		"GOOS":   "darwin",
		"GOARCH": "amd64",
	}
	return sh.RunWith(
		env,
		mg.GoCmd(), "build",
		"-o", filepath.Join("output", name+".darwin"),
		"-ldflags=-s -w "+flags(),
		"./bin/")
}

func Test() error {
	return sh.RunV(mg.GoCmd(), "test", "-race", "./...")
}

func Clean() error {
	return sh.Rm("output")
}

func flags() string {
	timestamp := time.Now().Format(time.RFC3339)
	return fmt.Sprintf(
		`-X "www.velocidex.com/golang/psutils/config.build_time=%s" `+
			`-X "www.velocidex.com/golang/psutils/config.commit_hash=%s"`,
		timestamp, hash())
}

// hash returns the git hash for the current repo or "" if none.
func hash() string {
	hash, _ := sh.Output("git", "rev-parse", "--short", "HEAD")
	return hash
}

func mingwxcompiler_exists() bool {
	err := sh.Run(mingw_xcompiler, "--version")
	return err == nil
}
