package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/absmach/flclient"
	"github.com/fatih/color"
	prettyjson "github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"
)

func logJSONCmd(cmd cobra.Command, iList ...interface{}) {
	for _, i := range iList {
		m, err := json.Marshal(i)
		if err != nil {
			logErrorCmd(cmd, err)

			return
		}

		pj, err := prettyjson.Format(m)
		if err != nil {
			logErrorCmd(cmd, err)

			return
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n\n", string(pj))
	}
}

func logErrorCmd(cmd cobra.Command, err error) {
	boldRed := color.New(color.FgRed, color.Bold)
	boldRed.Fprint(cmd.ErrOrStderr(), "\nerror: ")

	var verr *flclient.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", color.RedString("%d validation error(s)", len(verr.Violations)))
		for _, v := range verr.Violations {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n    %s\n", color.YellowString(v.Field), v.Message)
		}
		fmt.Fprintln(cmd.ErrOrStderr())

		return
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s\n\n", color.RedString(err.Error()))
}

func logOKCmd(cmd cobra.Command) {
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n\n", color.BlueString("ok"))
}
