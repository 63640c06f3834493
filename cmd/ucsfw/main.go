package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ucsfw",
	Short: "Rolling UCS firmware updates for vSphere clusters",
	Long: `Ucsfw rolls a host firmware pack across the UCS servers backing a
vSphere cluster, strictly one host at a time. Each host is drained, shut
down, rebound to the target firmware policy, power-cycled, and returned
to service before the next host is touched, so the cluster never has more
than one member out of service.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
