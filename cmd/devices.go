package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/resmeter/plugins/capture/pcap"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List interfaces available for capture",
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := pcap.Devices()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION\tADDRESSES")
		for _, d := range devs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.Description, strings.Join(d.Addresses, ","))
		}
		return w.Flush()
	},
}
