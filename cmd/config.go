package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rookboom/rookboom/internal/config"
	"github.com/rookboom/rookboom/internal/model"
	"github.com/rookboom/rookboom/internal/render"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage rookboom configuration",
	Long: `Read and write rookboom configuration stored in config.json, and the site
catalogue stored in sites.yaml.`,
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create template config.json and sites.yaml in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		path := config.DefaultConfigFile
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("config.json already exists at %s (delete it first to re-initialise)", path)
		}
		if err := config.WriteFile(path, config.Template()); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Created %s\n", path)

		sites := config.DefaultSitesFile
		if _, err := os.Stat(sites); err == nil && !configInitForce {
			fmt.Fprintf(out, "  Kept existing %s\n", sites)
		} else {
			if err := config.WriteCatalogue(sites, config.DefaultCatalogue()); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Created %s\n", sites)
		}
		fmt.Fprintln(out, "  Set base_url and principal, then list your sites and filters in sites.yaml.")
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		cfg := deps.Config

		src := "(not found)"
		if cfg.ConfigPath != "" {
			src = cfg.ConfigPath
		}
		principal := cfg.Principal
		if principal == "" {
			principal = "(not set)"
		}

		if resolveFormat(cfg.Format) == render.FormatJSON {
			type configOut struct {
				BaseURL    string  `json:"base_url"`
				Principal  string  `json:"principal"`
				Format     string  `json:"default_format"`
				Timeout    string  `json:"timeout"`
				Rate       float64 `json:"rate"`
				DBPath     string  `json:"db_path"`
				SitesFile  string  `json:"sites_file"`
				Sites      int     `json:"sites"`
				ConfigFile string  `json:"config_file"`
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(configOut{
				BaseURL:    cfg.BaseURL,
				Principal:  cfg.Principal,
				Format:     cfg.Format,
				Timeout:    cfg.Timeout.String(),
				Rate:       cfg.Rate,
				DBPath:     cfg.DBPath,
				SitesFile:  cfg.SitesFile,
				Sites:      len(cfg.Sites.Sites),
				ConfigFile: src,
			})
		}

		printKVTable(cmd.OutOrStdout(), [][]string{
			{"base_url", cfg.BaseURL},
			{"principal", principal},
			{"default_format", cfg.Format},
			{"timeout", cfg.Timeout.String()},
			{"rate", fmt.Sprintf("%.1f req/s", cfg.Rate)},
			{"db_path", cfg.DBPath},
			{"sites_file", cfg.SitesFile},
			{"default_site", cfg.Sites.Default},
			{"domain", cfg.Sites.Domain},
			{"config_file", src},
		})
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in config.json",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := strings.ToLower(args[0])
		val := args[1]

		// Load existing file or start from template
		var f config.File
		existing, path, err := loadConfigFile()
		if err != nil {
			path = config.DefaultConfigFile
			f = config.Template()
		} else {
			f = *existing
		}

		switch key {
		case "base_url":
			f.BaseURL = val
		case "principal":
			f.Principal = val
		case "default_format", "format":
			f.DefaultFormat = val
		case "timeout":
			f.Timeout = val
		case "rate":
			r, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fmt.Errorf("rate must be a number")
			}
			f.Rate = r
		case "db_path":
			f.DBPath = val
		case "sites_file":
			f.SitesFile = val
		default:
			return fmt.Errorf("unknown config key: %q\n\nValid keys: base_url, principal, default_format, timeout, rate, db_path, sites_file", key)
		}

		if err := config.WriteFile(path, f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Set %s in %s\n", key, path)
		return nil
	},
}

var configSitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List the sites and filters of the catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		cat := deps.Config.Sites

		t := &model.Table{Columns: []string{"SITE", "NAME", "OFFSET", "DEFAULT"}}
		for _, s := range cat.Sites {
			def := ""
			if s.ID == cat.Default {
				def = "yes"
			}
			t.Rows = append(t.Rows, []string{s.ID, s.Name, deps.SiteLocation(s.ID).String(), def})
		}
		return emit(cmd.OutOrStdout(), deps, buildResult(model.KindTable, "config sites", t, len(t.Rows)))
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSitesCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite existing files")
}

// loadConfigFile reads config.json from cwd; used by configSetCmd.
func loadConfigFile() (*config.File, string, error) {
	path := config.DefaultConfigFile
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var f config.File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", err
	}
	return &f, path, nil
}

// printKVTable renders a two-column key/value table using aligned columns.
func printKVTable(w io.Writer, rows [][]string) {
	maxKey := 0
	for _, r := range rows {
		if len(r[0]) > maxKey {
			maxKey = len(r[0])
		}
	}
	for _, r := range rows {
		padding := strings.Repeat(" ", maxKey-len(r[0]))
		fmt.Fprintf(w, "  %s%s  %s\n", r[0], padding, r[1])
	}
}
