package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/shirasu0801/pixeon"
	"github.com/shirasu0801/pixeon/internal/utils"
	"github.com/shirasu0801/pixeon/pkg/detection"
	"github.com/shirasu0801/pixeon/pkg/render"
	"github.com/shirasu0801/pixeon/pkg/types"
)

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	username := fs.String("username", "", "username")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *email == "" || *password == "" {
		return errors.New("register needs -username, -email and -password")
	}

	a.client.SetScreen(pixeon.ScreenRegister)
	user, err := a.client.Register(ctx, *username, *email, *password)
	if err != nil {
		return err
	}
	a.client.SetScreen(pixeon.ScreenHome)
	fmt.Fprintf(a.out, "registered and logged in as %s (%s)\n", user.Username, user.Email)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	username := fs.String("username", "", "username")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return errors.New("login needs -username and -password")
	}

	a.client.SetScreen(pixeon.ScreenLogin)
	user, err := a.client.Login(ctx, *username, *password)
	if err != nil {
		return err
	}
	a.client.SetScreen(pixeon.ScreenHome)
	fmt.Fprintf(a.out, "logged in as %s\n", user.Username)
	return nil
}

func (a *app) logout() error {
	a.client.Logout()
	fmt.Fprintln(a.out, "logged out")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	user, err := a.requireSession(ctx, pixeon.ScreenHome)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s <%s> id=%d since %s\n", user.Username, user.Email, user.ID, user.CreatedAt.Format("2006-01-02"))
	return nil
}

func (a *app) detect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	in := fs.String("in", "", "image file or directory of jpg/png images")
	outDir := fs.String("out", a.cfg.Render.OutputDir, "output directory")
	ext := fs.String("ext", a.cfg.Render.Format, "overlay format: jpg|png|webp")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("detect needs -in")
	}

	inputs := []string{*in}
	if utils.DirExists(*in) {
		files, err := utils.ListUploadableImages(*in)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no jpg or png images in %s", *in)
		}
		inputs = files
	}

	if _, err := a.requireSession(ctx, pixeon.ScreenHome); err != nil {
		return err
	}
	if err := utils.EnsureDir(*outDir); err != nil {
		return err
	}

	for _, path := range inputs {
		if err := a.detectOne(ctx, path, *outDir, *ext); err != nil {
			// A rejected file should not stop a batch
			if errors.Is(err, types.ErrValidationFailed) && len(inputs) > 1 {
				log.Printf("skip %s: %s", path, describe(err))
				continue
			}
			return err
		}
	}
	return nil
}

func (a *app) detectOne(ctx context.Context, path, outDir, ext string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	result, err := a.client.Detect(ctx, filepath.Base(path), data)
	if err != nil {
		return err
	}
	log.Printf("%s: %d detections in %.2fs (%s)", filepath.Base(path), len(result.Detections), result.ProcessingTime, utils.FormatFileSize(int64(len(data))))
	for _, lc := range detection.Summarize(result.Detections) {
		log.Printf("  %-16s x%d", lc.Label, lc.Count)
	}

	img, err := a.client.RenderBytes(path, data, result.Detections)
	if err != nil {
		return err
	}
	if err := a.saveOverlay(img, utils.OutputPath(path, outDir, a.cfg.Render.Suffix, ext), ext); err != nil {
		return err
	}

	jsonPath := utils.OutputPath(path, outDir, a.cfg.Render.Suffix, "json")
	if err := writeJSONFile(jsonPath, result); err != nil {
		return err
	}
	log.Printf("wrote %s", jsonPath)
	return nil
}

func writeJSONFile(path string, v any) error {
	js, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, js, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (a *app) render(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	in := fs.String("in", "", "source image path or URL")
	resultPath := fs.String("result", "", "detection result JSON (as written by detect)")
	out := fs.String("out", "", "output image (default <out dir>/<name><suffix>.<format>)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *resultPath == "" {
		return errors.New("render needs -in and -result")
	}

	raw, err := os.ReadFile(*resultPath)
	if err != nil {
		return fmt.Errorf("failed to read result: %w", err)
	}
	var stored types.StoredResults
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("failed to parse result %s: %w", *resultPath, err)
	}

	handle, err := a.client.LoadImage(ctx, *in)
	if err != nil {
		return err
	}
	img, err := a.client.Render(handle, stored.Detections)
	if err != nil {
		return err
	}

	dst := *out
	if dst == "" {
		if err := utils.EnsureDir(a.cfg.Render.OutputDir); err != nil {
			return err
		}
		dst = utils.OutputPath(*in, a.cfg.Render.OutputDir, a.cfg.Render.Suffix, a.cfg.Render.Format)
	}
	return a.saveOverlay(img, dst, utils.GetFileExtension(dst))
}

func (a *app) history(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("history needs a subcommand: list, show or delete")
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("history "+sub, flag.ContinueOnError)
	skip := fs.Int("skip", 0, "records to skip")
	limit := fs.Int("limit", 20, "records to return")
	id := fs.Int64("id", 0, "history record id")
	out := fs.String("out", "", "render the stored detection to this file (show only)")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	if _, err := a.requireSession(ctx, pixeon.ScreenHistory); err != nil {
		return err
	}
	svc := a.client.History()

	switch sub {
	case "list":
		entries, err := svc.List(ctx, *skip, *limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(a.out, "no history")
			return nil
		}
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATED\tDETECTIONS\tIMAGE")
		for _, e := range entries {
			count := fmt.Sprint(len(e.Results.Detections))
			if e.DecodeErr != nil {
				count = "?"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Record.ID, e.Record.CreatedAt.Local().Format("2006-01-02 15:04"), count, e.ImageURL)
		}
		return tw.Flush()

	case "show":
		if *id <= 0 {
			return errors.New("history show needs -id")
		}
		entry, err := svc.Get(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "id:         %d\ncreated:    %s\nimage:      %s\nprocessing: %.2fs\n",
			entry.Record.ID, entry.Record.CreatedAt.Local().Format("2006-01-02 15:04:05"), entry.ImageURL, entry.Results.ProcessingTime)
		for i, det := range entry.Results.Detections {
			fmt.Fprintf(a.out, "%3d  %-24s (%.0f,%.0f)-(%.0f,%.0f)\n", i+1, render.Label(det), det.X1, det.Y1, det.X2, det.Y2)
		}
		if *out == "" {
			return nil
		}
		img, err := a.client.RenderHistory(ctx, entry)
		if err != nil {
			return err
		}
		return a.saveOverlay(img, *out, utils.GetFileExtension(*out))

	case "delete":
		if *id <= 0 {
			return errors.New("history delete needs -id")
		}
		if err := svc.Delete(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "deleted %d\n", *id)
		return nil
	}
	return fmt.Errorf("unknown history subcommand %q", sub)
}

func (a *app) saveOverlay(img image.Image, path, format string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := utils.EnsureDir(dir); err != nil {
			return err
		}
	}
	if err := a.client.Processor().SaveImage(img, path, format, a.cfg.Render.Quality, a.cfg.Render.Lossless); err != nil {
		return fmt.Errorf("save %s failed: %w", path, err)
	}
	log.Printf("wrote %s", path)
	return nil
}
