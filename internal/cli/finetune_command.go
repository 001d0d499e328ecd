package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"fluxtune/internal/domain"
	"fluxtune/pkg/zip"
)

type finetuneOutput struct {
	Label      string `json:"label"`
	FinetuneID string `json:"finetune_id"`
}

func runFinetune(args []string) error {
	fs := flag.NewFlagSet("finetune", flag.ContinueOnError)
	zipPath := fs.String("zip", "", "training archive (.zip)")
	dir := fs.String("dir", "", "directory of training images and caption files")
	label := fs.String("label", "", "registry label (defaults to --comment)")
	optionsPath := fs.String("options", "", "YAML file with training options")
	comment := fs.String("comment", "", "finetune comment")
	triggerWord := fs.String("trigger-word", "", "trigger word (default TOK)")
	mode := fs.String("mode", "", "character, product, style or general")
	iterations := fs.Int("iterations", 0, "training iterations (100-1000)")
	learningRate := fs.Float64("learning-rate", 0, "learning rate")
	captioning := fs.Bool("captioning", true, "auto caption training images")
	priority := fs.String("priority", "", "speed or quality")
	finetuneType := fs.String("type", "", "full or lora")
	loraRank := fs.Int("lora-rank", 0, "LoRA rank (16 or 32)")
	jsonOut := fs.Bool("json", false, "print JSON output")
	quiet := fs.Bool("quiet", false, "do not print progress")
	verbose := fs.Bool("verbose", false, "log debug output")
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := domain.DefaultFinetuneRequest()
	if err := loadYAMLOver(*optionsPath, &req); err != nil {
		return err
	}
	set := setFlags(fs)
	applyString(set, "comment", *comment, &req.Comment)
	applyString(set, "trigger-word", *triggerWord, &req.TriggerWord)
	applyString(set, "mode", *mode, &req.Mode)
	applyString(set, "priority", *priority, &req.Priority)
	applyString(set, "type", *finetuneType, &req.FinetuneType)
	if set["iterations"] {
		req.Iterations = *iterations
	}
	if set["lora-rank"] {
		req.LoraRank = *loraRank
	}
	if set["learning-rate"] {
		lr := *learningRate
		req.LearningRate = &lr
	}
	if set["captioning"] {
		req.Captioning = *captioning
	}

	archive, err := readArchive(*zipPath, *dir)
	if err != nil {
		return err
	}
	req.Archive = archive

	if strings.TrimSpace(*label) == "" && strings.TrimSpace(req.Comment) == "" {
		return errors.New("--label is required")
	}

	ctx, stop := signalContext()
	defer stop()
	rt, _, err := openRuntime(ctx, *verbose, "")
	if err != nil {
		return err
	}
	defer rt.Close()

	finetuneID, err := rt.Orchestrator.CreateFinetune(ctx, req, *label, progressPrinter(*quiet || *jsonOut))
	if err != nil {
		if finetuneID != "" {
			fmt.Fprintf(stderr, "finetune %s is ready but was not registered\n", finetuneID)
		}
		return err
	}
	name := strings.TrimSpace(*label)
	if name == "" {
		name = strings.TrimSpace(req.Comment)
	}
	if *jsonOut {
		return printJSON(finetuneOutput{Label: name, FinetuneID: finetuneID})
	}
	fmt.Fprintf(stdout, "%s %s -> %s\n", okStyle.Render("ready"), name, finetuneID)
	fmt.Fprintf(stdout, "registry: %s\n", rt.RegistryName)
	return nil
}

func readArchive(zipPath, dir string) ([]byte, error) {
	zipPath, dir = strings.TrimSpace(zipPath), strings.TrimSpace(dir)
	switch {
	case zipPath != "" && dir != "":
		return nil, errors.New("use either --zip or --dir, not both")
	case zipPath != "":
		data, err := os.ReadFile(zipPath)
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		n, err := zip.CountImages(data)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, zip.ErrNoImages
		}
		return data, nil
	case dir != "":
		return zip.ArchiveDir(dir)
	default:
		return nil, errors.New("--zip or --dir is required")
	}
}

func setFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func applyString(set map[string]bool, name, value string, dst *string) {
	if set[name] {
		*dst = strings.TrimSpace(value)
	}
}
