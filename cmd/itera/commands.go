package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"itera/internal/domain"
	"itera/internal/modelcache"
	"itera/internal/pipeline"
	"itera/internal/pipeline/stage"
	"itera/internal/project"
	"itera/pkg/dataurl"
	"itera/pkg/zip"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newGenerateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new model from a photo and/or a prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(app)
		},
	}
	cmd.Flags().StringVarP(&flagImage, "image", "i", "", "path to a product photo")
	cmd.Flags().StringVarP(&flagPrompt, "prompt", "p", "", "text description of the object")
	cmd.Flags().StringVarP(&flagFormat, "format", "f", "", "requested mesh format (obj, stl, glb)")
	return cmd
}

func runGenerate(app *App) error {
	ctx, cancel := signalContext()
	defer cancel()

	if flagImage == "" && strings.TrimSpace(flagPrompt) == "" {
		return errors.New("either --image or --prompt is required")
	}
	format, err := domain.ParseMeshFormat(flagFormat)
	if err != nil {
		return err
	}
	if format != "" && !format.Requestable() {
		return fmt.Errorf("format %q cannot be requested, use obj, stl or glb", format)
	}
	var image string
	if flagImage != "" {
		data, err := os.ReadFile(flagImage)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		image = dataurl.Encode(http.DetectContentType(data), data)
	}

	s, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	out, err := s.orchestrator(app.Out).Generate(ctx, pipeline.GenerateInput{
		Image:  image,
		Prompt: flagPrompt,
		Format: format,
	})
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}
	if out.Description != nil {
		fmt.Fprintf(app.Out, "Brief: %s\n", *out.Description)
	}
	fmt.Fprintf(app.Out, "Model: %s (%s)\n", out.ModelURL, out.Format)
	s.cacheModel(ctx, app.Out, out.ModelURL)
	return nil
}

func newEditCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "edit INSTRUCTION",
		Short: "Describe a change and regenerate the current model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(app, strings.Join(args, " "))
		},
	}
}

func runEdit(app *App, instruction string) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	if !s.store.Snapshot().HasModel() {
		return errors.New("no model yet: run `itera generate` first")
	}
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	out, err := s.orchestrator(app.Out).Edit(ctx, instruction)
	if err != nil {
		return fmt.Errorf("edit failed: %w", err)
	}
	fmt.Fprintf(app.Out, "Model: %s (%s)\n", out.ModelURL, out.Format)
	s.cacheModel(ctx, app.Out, out.ModelURL)
	return nil
}

func newShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			s, err := app.openSession(ctx)
			if err != nil {
				return err
			}
			printState(app.Out, s.store.Snapshot())
			if path, ok, err := s.cache.Restore(ctx, modelcache.DefaultKey); err == nil && ok {
				fmt.Fprintf(app.Out, "Cached model: %s\n", path)
			}
			return nil
		},
	}
}

func printState(w io.Writer, state project.State) {
	if !state.HasModel() && state.CurrentDescription == nil {
		fmt.Fprintln(w, "No project yet.")
		return
	}
	if state.CurrentDescription != nil {
		fmt.Fprintf(w, "Description: %s\n", *state.CurrentDescription)
	}
	if state.HasModel() {
		fmt.Fprintf(w, "Model: %s", *state.ModelURL)
		if state.ModelFormat != "" {
			fmt.Fprintf(w, " (%s)", state.ModelFormat)
		}
		fmt.Fprintln(w)
	}
	if state.MaterialURL != nil {
		fmt.Fprintf(w, "Material: %s\n", *state.MaterialURL)
	}
	if st := state.PipelineStage.Stage; st != nil {
		fmt.Fprintf(w, "Stage: %s %s\n", st.Kind(), st.Status())
	}
	fmt.Fprintf(w, "Edits: %d\n", len(state.EditHistory))
	for _, e := range state.EditHistory {
		fmt.Fprintf(w, "  %s  %s -> %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Instruction, e.NewPrompt)
	}
	for _, m := range state.Messages {
		fmt.Fprintf(w, "[%s] %s\n", m.Role, m.Content)
	}
}

func progressObserver(w io.Writer) pipeline.Observer {
	return pipeline.Observer{
		OnStage: func(s stage.Stage) {
			if m, ok := s.(stage.MeshGeneration); ok && m.Progress != nil {
				fmt.Fprintf(w, "%s %s %d%%\n", s.Kind(), s.Status(), *m.Progress)
				return
			}
			fmt.Fprintf(w, "%s %s\n", s.Kind(), s.Status())
		},
		OnMessage: func(m project.Message) {
			if m.Role == project.RoleAssistant {
				fmt.Fprintln(w, m.Content)
			}
		},
	}
}

func newExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the current model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(app)
		},
	}
	cmd.Flags().StringVarP(&flagOut, "out", "o", ".", "output directory")
	cmd.Flags().StringVarP(&flagFormat, "format", "f", "", "format label for the export (defaults to the model's format)")
	cmd.Flags().BoolVar(&flagZip, "zip", false, "bundle model, material and source image into itera-export.zip")
	return cmd
}

func runExport(app *App) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	state := s.store.Snapshot()
	if !state.HasModel() {
		return errors.New("no model to export")
	}
	format, err := domain.ParseMeshFormat(flagFormat)
	if err != nil {
		return err
	}
	if format == "" {
		format = state.ModelFormat
	}
	res, err := s.backend.Export(ctx, *state.ModelURL, format)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	data, err := s.backend.Download(ctx, res.DownloadURL)
	if err != nil {
		cached, ok, cacheErr := s.cache.Get(ctx, modelcache.DefaultKey)
		if cacheErr != nil || !ok {
			return fmt.Errorf("download model: %w", err)
		}
		s.logger.Warn().Err(err).Msg("model URL unavailable, exporting cached copy")
		data = cached
	}

	if err := os.MkdirAll(flagOut, 0o755); err != nil {
		return err
	}
	modelName := "model." + string(res.Format)
	assets := []zip.Asset{{Filename: modelName, MIME: "application/octet-stream", Data: data}}
	if state.MaterialURL != nil {
		if mtl, err := s.backend.Download(ctx, *state.MaterialURL); err == nil {
			assets = append(assets, zip.Asset{Filename: "model.mtl", MIME: "text/plain", Data: mtl})
		} else {
			s.logger.Warn().Err(err).Msg("material not exported")
		}
	}

	if !flagZip {
		for _, a := range assets {
			target := filepath.Join(flagOut, a.Filename)
			if err := os.WriteFile(target, a.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Saved: %s\n", target)
		}
		fmt.Fprintf(app.Out, "Link valid until %s\n", res.ExpiresAt.Local().Format("15:04"))
		return nil
	}

	if state.SourceImage != nil {
		if mime, img, err := dataurl.Decode(*state.SourceImage); err == nil {
			assets = append(assets, zip.Asset{Filename: "source" + imageExt(mime), MIME: mime, Data: img})
		}
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		return err
	}
	target := filepath.Join(flagOut, "itera-export.zip")
	if err := os.WriteFile(target, archive, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Saved: %s\n", target)
	return nil
}

func imageExt(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/svg+xml":
		return ".svg"
	case "image/webp":
		return ".webp"
	}
	return ".jpg"
}

func newResetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the current project and its cached model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			s, err := app.openSession(ctx)
			if err != nil {
				return err
			}
			if err := s.store.Reset(ctx); err != nil {
				return err
			}
			if err := s.cache.Delete(ctx, modelcache.DefaultKey); err != nil {
				return err
			}
			if err := s.unlock(); err != nil {
				return err
			}
			fmt.Fprintln(app.Out, "Project reset.")
			return nil
		},
	}
}
