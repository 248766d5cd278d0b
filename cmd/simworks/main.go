// Command simworks runs structured AI calls and drains their recorded
// results into domain objects.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackfruitco/simworks-sub000/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
