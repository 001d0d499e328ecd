package cli

import (
	"fmt"
	"io"
	"os"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "finetune":
		return runFinetune(args[1:])
	case "generate":
		return runGenerate(args[1:])
	case "list":
		return runList(args[1:])
	case "serve":
		return runServe(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Fprintln(stdout, "fluxtune: train FLUX finetunes and generate images from them")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  finetune  upload a training archive, wait for training, register the result")
	fmt.Fprintln(stdout, "  generate  generate an image from a registered label or finetune id")
	fmt.Fprintln(stdout, "  list      list registered finetunes")
	fmt.Fprintln(stdout, "  serve     run the HTTP API")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Examples:")
	fmt.Fprintln(stdout, "  fluxtune finetune --dir ./photos --label \"my cat\"")
	fmt.Fprintln(stdout, "  fluxtune generate --finetune \"my cat\" --prompt \"a TOK cat on the moon\"")
	fmt.Fprintln(stdout, "  fluxtune list --json")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Configuration is read from the environment and an optional .env file.")
	fmt.Fprintln(stdout, "BFL_API_KEY is required.")
}
