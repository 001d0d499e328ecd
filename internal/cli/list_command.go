package cli

import (
	"context"
	"flag"
	"fmt"

	"fluxtune/internal/domain"
)

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	rt, _, err := openRuntime(ctx, false, "")
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.Orchestrator.ListFinetunes(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		if records == nil {
			records = []domain.FinetuneRecord{}
		}
		return printJSON(records)
	}
	fmt.Fprintln(stdout, renderFinetunes(records))
	return nil
}
