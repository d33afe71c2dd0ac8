package commands

import (
	"github.com/spf13/cobra"

	"github.com/weftlabs/weft/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for Weft
var RootCmd = &cobra.Command{
	Use:              "weft",
	Short:            "weft pub/sub overlay",
	TraverseChildren: true,
}
