package cmd

import (
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

type target struct {
	os   string
	arch string
}

// boards the cli is usually deployed to, next to the host itself
var targets = map[string]target{
	"nanopi": {os: "linux", arch: "arm"},
	"rpi":    {os: "linux", arch: "arm64"},
	"amd64":  {os: "linux", arch: "amd64"},
}

func targetNames() string {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the protractor cli",
		Long:  "Build the protractor cli for the host or, through the gobuild docker image, for one of the boards: " + targetNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			version, _ := flags.GetString("version")
			name, _ := flags.GetString("target")
			noCache, _ := flags.GetBool("no-cache")

			if name == "" || name == "host" {
				return goBuild(version, runtime.GOOS, runtime.GOARCH)
			}
			t, ok := targets[name]
			if !ok {
				return fmt.Errorf("unknown target %q, expected host or one of: %s", name, targetNames())
			}
			// already inside the build container
			if runtime.GOOS == t.os && runtime.GOARCH == t.arch {
				return goBuild(version, t.os, t.arch)
			}
			slog.Info("building in docker", "target", name, "os", t.os, "arch", t.arch)
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", t.os, t.arch), []string{"build", "--version", version, "--target", name}, build.DockerBuildOpts{
				NoCache: noCache,
				Image:   "gophertribe/gobuild:1.25-bookworm",
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building the app")
	cmd.Flags().String("version", "latest", "version of the cli")
	cmd.Flags().String("target", "host", "host or one of the board targets")
	return cmd
}

func goBuild(version, os, arch string) error {
	out := "dist/protractor"
	if os != runtime.GOOS || arch != runtime.GOARCH {
		out = fmt.Sprintf("dist/protractor-%s-%s", os, arch)
	}
	// cgo is required by the hid library
	return build.GoBuild(out, "./cmd/protractor", build.GoBuildOpts{
		Version:       version,
		InjectVersion: true,
		ConfigPackage: "github.com/mklimuk/protractor/pkg/config",
		EnableCgo:     true,
		Arch:          arch,
		OS:            os,
	})
}
