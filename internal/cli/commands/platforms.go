package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specpipe/internal/cli/output"
	"github.com/leapstack-labs/specpipe/pkg/platform"
)

// PlatformInfo describes a registered platform in JSON output.
type PlatformInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Extension   string `json:"extension"`
	Selected    bool   `json:"selected"`
}

// NewPlatformsCommand creates the platforms command.
func NewPlatformsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List target platforms",
		Long: `List the built-in platforms and those loaded from the platforms
directory (*.star scripts).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContextWithoutEngine(cmd)
			r := cmdCtx.Renderer

			var infos []PlatformInfo
			for _, name := range platform.List() {
				p, _ := platform.Get(name)
				infos = append(infos, PlatformInfo{
					Name:        p.Name,
					Description: p.Description,
					Extension:   p.Extension,
					Selected:    strings.EqualFold(name, cmdCtx.Cfg.Platform),
				})
			}

			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(infos)
			}

			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				name := info.Name
				if info.Selected {
					name += " *"
				}
				rows = append(rows, []string{name, info.Extension, info.Description})
			}
			r.Header(1, "Platforms")
			r.Table([]string{"Name", "Extension", "Description"}, rows)
			return nil
		},
	}
}
