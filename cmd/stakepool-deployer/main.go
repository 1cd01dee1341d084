// Command stakepool-deployer deploys the StakingPool contract.
package main

import (
	"os"

	"github.com/Bidon15/stakepool-deployer/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
