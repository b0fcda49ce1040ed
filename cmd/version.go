package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is the release string. Release builds set it with:
//
//	go build -ldflags "-X github.com/rookboom/rookboom/cmd.Version=v0.4.0"
var Version = "v0.3.0"

// BuildTime is optionally injected alongside Version:
//
//	-ldflags "-X github.com/rookboom/rookboom/cmd.BuildTime=2026-10-16T12:00:00Z"
var BuildTime = ""

// versionInfo is the structured payload for --format json output.
type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	GOOS      string `json:"goos"`
	GOARCH    string `json:"goarch"`
	Revision  string `json:"revision,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rookboom version and build information",
	Long: `Print the rookboom version string and build metadata.

Default output is plain text, one value per line. Use --format json or
--format jsonl for structured output.

Examples:
  rookboom version
  rookboom version --format json | jq .version`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := currentVersion()
		out := cmd.OutOrStdout()

		switch globalFlags.Format {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		case "jsonl":
			b, err := json.Marshal(info)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", b)
			return nil
		default:
			fmt.Fprintf(out, "rookboom %s\n", info.Version)
			fmt.Fprintf(out, "go       %s\n", info.GoVersion)
			fmt.Fprintf(out, "os       %s/%s\n", info.GOOS, info.GOARCH)
			if info.Revision != "" {
				fmt.Fprintf(out, "commit   %s\n", info.Revision)
			}
			if info.BuildTime != "" {
				fmt.Fprintf(out, "built    %s\n", info.BuildTime)
			}
			return nil
		}
	},
}

// currentVersion collects the injected version and the VCS revision the
// toolchain stamped into the binary, if any.
func currentVersion() versionInfo {
	info := versionInfo{
		Version:   Version,
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		BuildTime: BuildTime,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 12 {
				info.Revision = s.Value[:12]
			}
		}
	}
	return info
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
