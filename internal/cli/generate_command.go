package cli

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"fluxtune/internal/domain"
)

type generateOutput struct {
	JobID      string `json:"job_id"`
	FinetuneID string `json:"finetune_id"`
	URL        string `json:"url"`
	Path       string `json:"path,omitempty"`
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	finetune := fs.String("finetune", "", "registry label or finetune id")
	prompt := fs.String("prompt", "", "prompt, should mention the trigger word")
	presetPath := fs.String("preset", "", "YAML preset with generation parameters")
	strength := fs.Float64("strength", 0, "finetune strength (0-2)")
	steps := fs.Int("steps", 0, "inference steps (1-50)")
	guidance := fs.Float64("guidance", 0, "guidance scale (1.5-5)")
	width := fs.Int("width", 0, "image width")
	height := fs.Int("height", 0, "image height")
	seed := fs.Int("seed", 0, "seed for reproducible output")
	safety := fs.Int("safety", 0, "safety tolerance (0-6)")
	format := fs.String("format", "", "jpeg or png")
	outDir := fs.String("out", "", "directory to save the image (overrides OUTPUT_DIR)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	quiet := fs.Bool("quiet", false, "do not print progress")
	verbose := fs.Bool("verbose", false, "log debug output")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := domain.DefaultImageRequest()
	if err := loadYAMLOver(*presetPath, &req); err != nil {
		return err
	}
	set := setFlags(fs)
	applyString(set, "prompt", *prompt, &req.Prompt)
	applyString(set, "format", *format, &req.OutputFormat)
	if set["strength"] {
		req.FinetuneStrength = *strength
	}
	if set["steps"] {
		req.Steps = *steps
	}
	if set["guidance"] {
		req.Guidance = *guidance
	}
	if set["width"] {
		req.Width = *width
	}
	if set["height"] {
		req.Height = *height
	}
	if set["safety"] {
		req.SafetyTolerance = *safety
	}
	if set["seed"] {
		s := *seed
		req.Seed = &s
	}

	ref := strings.TrimSpace(*finetune)
	if ref == "" {
		ref = strings.TrimSpace(req.FinetuneID)
	}
	if ref == "" {
		return errors.New("--finetune is required")
	}

	ctx, stop := signalContext()
	defer stop()
	rt, logger, err := openRuntime(ctx, *verbose, strings.TrimSpace(*outDir))
	if err != nil {
		return err
	}
	defer rt.Close()

	id, fromRegistry, err := rt.Orchestrator.ResolveFinetune(ctx, ref)
	if err != nil {
		return err
	}
	if !fromRegistry {
		logger.Warn().Str("finetune", ref).Msg("not a registered label, using it as a finetune id")
	}
	req.FinetuneID = id

	res, err := rt.Orchestrator.GenerateImage(ctx, req, progressPrinter(*quiet || *jsonOut))
	if res == nil {
		return err
	}
	out := generateOutput{JobID: res.JobID, FinetuneID: id, URL: res.URL}
	if res.StorageKey != "" && rt.Images != nil {
		if p, perr := rt.Images.Path(res.StorageKey); perr == nil {
			out.Path = p
		}
	}
	if *jsonOut {
		if perr := printJSON(out); perr != nil {
			return perr
		}
		return err
	}
	fmt.Fprintf(stdout, "%s %s\n", okStyle.Render("image"), out.URL)
	if out.Path != "" {
		fmt.Fprintf(stdout, "saved: %s\n", out.Path)
	}
	return err
}
